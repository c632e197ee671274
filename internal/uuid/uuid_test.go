package uuid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_V4(t *testing.T) {
	id := V4()
	require.False(t, id.IsZero())
	require.EqualValues(t, 4, id.Version())
	require.Len(t, id.String(), 32)

	other := V4()
	require.NotEqual(t, id, other)
}

func Test_UUID_Format(t *testing.T) {
	id := V4()
	require.Equal(t, id.String(), fmt.Sprintf("%v", id))
	require.Len(t, fmt.Sprintf("%+v", id), 36)
	require.Equal(t, fmt.Sprintf("%q", id.String()), fmt.Sprintf("%q", id))
}
