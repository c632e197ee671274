// Package memqueue is an in-memory queue service implementing the mover's
// client surface. It models the parts of a managed queue service the mover
// depends on, specifically receipt handles and visibility timeouts, so the
// transfer loop can be tested without a network dependency.
package memqueue

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sqsmover/internal/mover"
	"sqsmover/internal/uuid"
)

// DefaultVisibilityTimeout is how long a received message stays hidden
// before it becomes receivable again if not deleted.
const DefaultVisibilityTimeout = 30 * time.Second

// Client is an in-memory mover.Client over a set of named queues.
type Client struct {
	// FailSend, FailDelete and FailReceive, when set, are consulted before
	// the corresponding operation and their non-nil error returned instead
	// of performing it. They exist to exercise failure paths in tests.
	FailSend    func(queueURL string, msg mover.Message) error
	FailDelete  func(queueURL, receiptHandle string) error
	FailReceive func(queueURL string) error

	clock             clockwork.Clock
	visibilityTimeout time.Duration

	mu       sync.Mutex
	byName   map[string]*queue
	byURL    map[string]*queue
	receives int
}

type queue struct {
	name     string
	url      string
	ready    []mover.Message
	inflight map[string]inflightMessage
}

type inflightMessage struct {
	msg       mover.Message
	visibleAt time.Time
}

// Option mutates a Client at construction time.
type Option func(*Client)

// OptVisibilityTimeout sets the visibility timeout for received messages.
func OptVisibilityTimeout(d time.Duration) Option {
	return func(c *Client) { c.visibilityTimeout = d }
}

// New returns an empty in-memory queue service driven by the given clock.
func New(clock clockwork.Clock, opts ...Option) *Client {
	c := &Client{
		clock:             clock,
		visibilityTimeout: DefaultVisibilityTimeout,
		byName:            make(map[string]*queue),
		byURL:             make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateQueue creates a named queue and returns its URL.
func (c *Client) CreateQueue(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.byName[name]; ok {
		return q.url
	}
	q := &queue{
		name:     name,
		url:      fmt.Sprintf("memqueue://local/%s", name),
		inflight: make(map[string]inflightMessage),
	}
	c.byName[name] = q
	c.byURL[q.url] = q
	return q.url
}

func (c *Client) ResolveQueue(_ context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.byName[name]
	if !ok {
		return "", &mover.QueueNotFoundError{Name: name}
	}
	return q.url, nil
}

func (c *Client) ReceiveBatch(_ context.Context, queueURL string, max int32) ([]mover.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receives++
	if c.FailReceive != nil {
		if err := c.FailReceive(queueURL); err != nil {
			return nil, err
		}
	}
	q, err := c.queueByURL(queueURL)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	q.requeueExpired(now)

	n := min(int(max), len(q.ready))
	batch := make([]mover.Message, 0, n)
	for _, msg := range q.ready[:n] {
		msg.ReceiptHandle = newReceiptHandle(q.name, msg.ID, now)
		q.inflight[msg.ReceiptHandle] = inflightMessage{
			msg:       msg,
			visibleAt: now.Add(c.visibilityTimeout),
		}
		batch = append(batch, msg)
	}
	q.ready = q.ready[n:]
	return batch, nil
}

func (c *Client) Send(_ context.Context, queueURL string, msg mover.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSend != nil {
		if err := c.FailSend(queueURL, msg); err != nil {
			return err
		}
	}
	q, err := c.queueByURL(queueURL)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.V4().String()
	}
	msg.ReceiptHandle = ""
	q.ready = append(q.ready, msg)
	return nil
}

func (c *Client) Delete(_ context.Context, queueURL, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailDelete != nil {
		if err := c.FailDelete(queueURL, receiptHandle); err != nil {
			return err
		}
	}
	q, err := c.queueByURL(queueURL)
	if err != nil {
		return err
	}
	if _, ok := q.inflight[receiptHandle]; !ok {
		return &mover.DeleteError{Err: fmt.Errorf("unknown receipt handle %q", receiptHandle)}
	}
	delete(q.inflight, receiptHandle)
	return nil
}

func (c *Client) ApproximateMessageCount(_ context.Context, queueURL string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := c.queueByURL(queueURL)
	if err != nil {
		return 0, err
	}
	return int64(len(q.ready) + len(q.inflight)), nil
}

// Messages returns a snapshot of every message on the named queue, ready and
// inflight both.
func (c *Client) Messages(name string) []mover.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.byName[name]
	if !ok {
		return nil
	}
	output := make([]mover.Message, 0, len(q.ready)+len(q.inflight))
	output = append(output, q.ready...)
	for _, entry := range q.inflight {
		output = append(output, entry.msg)
	}
	return output
}

// ReceiveCalls returns the total number of ReceiveBatch calls observed.
func (c *Client) ReceiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receives
}

func (c *Client) queueByURL(queueURL string) (*queue, error) {
	q, ok := c.byURL[queueURL]
	if !ok {
		return nil, fmt.Errorf("unknown queue url %q", queueURL)
	}
	return q, nil
}

// requeueExpired returns inflight messages whose visibility timeout has
// lapsed to the back of the ready list, invalidating their receipt handles.
func (q *queue) requeueExpired(now time.Time) {
	for receiptHandle, entry := range q.inflight {
		if entry.visibleAt.After(now) {
			continue
		}
		delete(q.inflight, receiptHandle)
		msg := entry.msg
		msg.ReceiptHandle = ""
		q.ready = append(q.ready, msg)
	}
}

func newReceiptHandle(queueName, messageID string, lastReceived time.Time) string {
	return base64.StdEncoding.EncodeToString(
		fmt.Appendf(nil, "%s %s %s %s",
			uuid.V4().String(),
			queueName,
			messageID,
			lastReceived.Format(time.RFC3339),
		),
	)
}
