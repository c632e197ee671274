package mover_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"sqsmover/internal/memqueue"
	"sqsmover/internal/mover"
)

func testMessageAttributes(values map[string]string) map[string]types.MessageAttributeValue {
	output := make(map[string]types.MessageAttributeValue, len(values))
	for key, value := range values {
		output[key] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return output
}

func testHelperSeedSource(t *testing.T, client *memqueue.Client, queueURL string, count int, attributes map[string]string) {
	t.Helper()
	for index := range count {
		err := client.Send(context.Background(), queueURL, mover.Message{
			Body:       fmt.Sprintf(`{"message_index":%d}`, index),
			Attributes: testMessageAttributes(attributes),
		})
		require.NoError(t, err)
	}
}

func Test_Mover_Move_drainsSource(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 3, map[string]string{"type": "order"})

	m := mover.New(client, "source", "destination", mover.Options{})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Moved)
	require.Zero(t, result.SendFailures)
	require.Zero(t, result.DeleteFailures)

	require.Empty(t, client.Messages("source"))
	moved := client.Messages("destination")
	require.Len(t, moved, 3)
	for _, msg := range moved {
		require.Contains(t, msg.Body, "message_index")
		require.Equal(t, "order", aws.ToString(msg.Attributes["type"].StringValue))
	}
}

func Test_Mover_Move_emptySource(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	client.CreateQueue("source")
	client.CreateQueue("destination")

	m := mover.New(client, "source", "destination", mover.Options{MaxEmptyReceives: 2})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Moved)
	require.Empty(t, client.Messages("destination"))
	require.Equal(t, 2, client.ReceiveCalls())
}

func Test_Mover_Move_receiveCount(t *testing.T) {
	// a static source with K messages and batch size B drains in ceil(K/B)
	// non-empty receives followed by exactly the empty-receive threshold
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 25, nil)

	m := mover.New(client, "source", "destination", mover.Options{
		BatchSize:        10,
		MaxEmptyReceives: 3,
	})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 25, result.Moved)
	require.Equal(t, 3+3, client.ReceiveCalls())
}

func Test_Mover_Move_rerunIsSafe(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 3, nil)

	m := mover.New(client, "source", "destination", mover.Options{})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Moved)

	// a second run over the drained pair moves nothing and corrupts nothing
	result, err = mover.New(client, "source", "destination", mover.Options{}).Move(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Moved)
	require.Empty(t, client.Messages("source"))
	require.Len(t, client.Messages("destination"), 3)
}

func Test_Mover_Move_sendFailureLeavesMessageOnSource(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 1, nil)
	client.FailSend = func(string, mover.Message) error {
		return errors.New("destination unavailable")
	}

	m := mover.New(client, "source", "destination", mover.Options{})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Moved)
	require.EqualValues(t, 1, result.SendFailures)

	// never deleted from the source, so it is redeliverable after its
	// visibility timeout
	require.Len(t, client.Messages("source"), 1)
	require.Empty(t, client.Messages("destination"))
}

func Test_Mover_Move_deleteFailureDuplicates(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 1, nil)
	client.FailDelete = func(string, string) error {
		return errors.New("receipt handle expired")
	}

	m := mover.New(client, "source", "destination", mover.Options{})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Moved)
	require.EqualValues(t, 1, result.DeleteFailures)

	// duplicated, never lost
	require.Len(t, client.Messages("source"), 1)
	require.Len(t, client.Messages("destination"), 1)
}

func Test_Mover_Move_queueNotFound(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	client.CreateQueue("source")

	m := mover.New(client, "source", "does-not-exist", mover.Options{})
	_, err := m.Move(context.Background())
	var notFound *mover.QueueNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "does-not-exist", notFound.Name)

	// resolution fails before any receive is attempted
	require.Zero(t, client.ReceiveCalls())
}

func Test_Mover_Move_parallelism(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 20, map[string]string{"type": "order"})

	m := mover.New(client, "source", "destination", mover.Options{
		Parallelism:          4,
		MaxMessagesPerSecond: 1000,
	})
	result, err := m.Move(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 20, result.Moved)
	require.Zero(t, result.SendFailures)
	require.Zero(t, result.DeleteFailures)
	require.Empty(t, client.Messages("source"))
	require.Len(t, client.Messages("destination"), 20)
}

// flakyReceiveClient fails the first `failures` receive calls and then
// delegates to the wrapped client.
type flakyReceiveClient struct {
	mover.Client
	failures int
}

func (c *flakyReceiveClient) ReceiveBatch(ctx context.Context, queueURL string, max int32) ([]mover.Message, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("throttled")
	}
	return c.Client.ReceiveBatch(ctx, queueURL, max)
}

func Test_Mover_Move_retriesTransientReceiveErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := memqueue.New(clock)
	sourceURL := client.CreateQueue("source")
	client.CreateQueue("destination")
	testHelperSeedSource(t, client, sourceURL, 2, nil)

	m := mover.New(&flakyReceiveClient{Client: client, failures: 2}, "source", "destination", mover.Options{
		Clock: clock,
	})

	type moveResult struct {
		result mover.Result
		err    error
	}
	done := make(chan moveResult, 1)
	go func() {
		result, err := m.Move(context.Background())
		done <- moveResult{result, err}
	}()

	// release the two backoff sleeps
	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}

	got := <-done
	require.NoError(t, got.err)
	require.EqualValues(t, 2, got.result.Moved)
	require.Empty(t, client.Messages("source"))
}

func Test_Mover_Move_receiveRetriesExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := memqueue.New(clock)
	client.CreateQueue("source")
	client.CreateQueue("destination")

	m := mover.New(&flakyReceiveClient{Client: client, failures: 100}, "source", "destination", mover.Options{
		Clock: clock,
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Move(context.Background())
		done <- err
	}()

	for range 4 {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}

	err := <-done
	require.Error(t, err)
	require.ErrorContains(t, err, "receive from source")
}

func Test_Mover_Poll(t *testing.T) {
	client := memqueue.New(clockwork.NewFakeClock())
	sourceURL := client.CreateQueue("source")
	testHelperSeedSource(t, client, sourceURL, 2, map[string]string{"type": "order"})

	var output bytes.Buffer
	m := mover.New(client, "source", "", mover.Options{Output: &output})
	require.NoError(t, m.Poll(context.Background()))

	dec := json.NewDecoder(&output)
	var printed int
	for dec.More() {
		var msg struct {
			MessageID  string            `json:"message_id"`
			Body       string            `json:"body"`
			Attributes map[string]string `json:"attributes"`
		}
		require.NoError(t, dec.Decode(&msg))
		require.NotEmpty(t, msg.MessageID)
		require.Contains(t, msg.Body, "message_index")
		require.Equal(t, "order", msg.Attributes["type"])
		printed++
	}
	require.Equal(t, 2, printed)

	// polling never deletes; the messages stay on the source
	require.Len(t, client.Messages("source"), 2)
}
