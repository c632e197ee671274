package mover

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is a single message received from a source queue. The receipt
// handle is only valid for the receive that produced it and is required to
// delete this specific delivery from the source.
type Message struct {
	ID            string
	Body          string
	Attributes    map[string]types.MessageAttributeValue
	ReceiptHandle string
}

// Client is the queue service surface the mover consumes. Implementations
// must tolerate duplicate sends and deletes of the same logical message;
// the mover provides at-least-once semantics, not exactly-once.
type Client interface {
	// ResolveQueue resolves a queue name to its URL, returning a
	// [QueueNotFoundError] if the name does not exist.
	ResolveQueue(ctx context.Context, name string) (string, error)
	// ReceiveBatch receives up to max messages from the queue, including
	// their message attributes. An empty batch is a valid result and
	// signals (eventual) queue drain, not an error.
	ReceiveBatch(ctx context.Context, queueURL string, max int32) ([]Message, error)
	// Send enqueues a copy of the message body and attributes.
	Send(ctx context.Context, queueURL string, msg Message) error
	// Delete removes a specific delivery by its receipt handle.
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	// ApproximateMessageCount returns the queue's approximate depth. It is
	// informational only; the service does not provide an exact count.
	ApproximateMessageCount(ctx context.Context, queueURL string) (int64, error)
}
