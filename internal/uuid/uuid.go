package uuid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// UUID represents a unique identifier conforming to the RFC 4122 standard.
// UUIDs are a fixed 128bit (16 byte) binary blob.
type UUID [16]byte

// V4 returns a new version 4 (random) UUID.
func V4() (uuid UUID) {
	if _, err := rand.Read(uuid[:]); err != nil {
		panic(err)
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40 // set version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // set variant 2
	return
}

// String returns the uuid as a hex string.
func (uuid UUID) String() string {
	return hex.EncodeToString(uuid[:])
}

// ShortString returns the first 8 bytes of the uuid as a hex string.
func (uuid UUID) ShortString() string {
	return hex.EncodeToString(uuid[:8])
}

// Version returns the version byte of a uuid.
func (uuid UUID) Version() byte {
	return uuid[6] >> 4
}

// IsZero returns if the uuid is unset.
func (uuid UUID) IsZero() bool {
	return uuid == UUID{}
}

// Format allows for conditional expansion in printf statements
// based on the token and flags used.
func (uuid UUID) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s,
				"%08x-%04x-%04x-%04x-%012x",
				uuid[:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:],
			)
			return
		}
		fmt.Fprint(s, uuid.String())
	case 's':
		fmt.Fprint(s, uuid.String())
	case 'q':
		fmt.Fprintf(s, "%q", uuid.String())
	}
}
