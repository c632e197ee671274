package mover

import "fmt"

// QueueNotFoundError is returned by [Client.ResolveQueue] when a queue name
// does not exist in the configured account and region. It is fatal; the
// mover surfaces it before any message is touched.
type QueueNotFoundError struct {
	Name string
	Err  error
}

func (e *QueueNotFoundError) Error() string {
	return fmt.Sprintf("queue %q does not exist", e.Name)
}

func (e *QueueNotFoundError) Unwrap() error { return e.Err }

// SendError is returned by [Client.Send] when a message copy is not accepted
// by the destination. The original is left on the source queue and will be
// redelivered after its visibility timeout.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s: %v", e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// DeleteError is returned by [Client.Delete] when a delivery cannot be
// deleted from the source. If the preceding send succeeded the message now
// exists on both queues.
type DeleteError struct {
	MessageID string
	Err       error
}

func (e *DeleteError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("delete message: %v", e.Err)
	}
	return fmt.Sprintf("delete message %s: %v", e.MessageID, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }
