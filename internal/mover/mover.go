// Package mover implements the queue-to-queue transfer loop: receive a
// batch from the source, copy each message to the destination, and delete
// the original only after the copy is accepted. Termination after a run of
// empty receives is a heuristic; the underlying service only offers
// eventually consistent visibility, so a drained verdict is best-effort.
package mover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the default (and service maximum) number of
	// messages requested per receive call.
	DefaultBatchSize = 10
	// DefaultMaxEmptyReceives is the default number of consecutive empty
	// receives after which the source is considered drained.
	DefaultMaxEmptyReceives = 3
)

// Bounds for retrying transient receive errors before giving up.
const (
	receiveRetryLimit     = 5
	receiveBackoffInitial = 500 * time.Millisecond
	receiveBackoffMax     = 8 * time.Second
)

// Queue depth is re-read and logged every this many non-empty batches.
const progressEveryBatches = 10

// Options are tunables for a [Mover].
type Options struct {
	// BatchSize is the maximum number of messages per receive, clamped to
	// the service maximum of 10.
	BatchSize int32
	// MaxEmptyReceives is the number of consecutive empty receives after
	// which the run terminates. Queue services only offer eventually
	// consistent visibility of enqueued messages, so this is a drain
	// heuristic, not a proof the source is empty.
	MaxEmptyReceives int
	// MaxMessagesPerSecond rate limits the move; zero disables limiting.
	MaxMessagesPerSecond int
	// Parallelism is the number of concurrent per-message workers within a
	// batch. Each message's delete still happens only after that same
	// message's send succeeds.
	Parallelism int
	// Clock drives backoff sleeps; defaults to the real clock.
	Clock clockwork.Clock
	// Output receives poll mode's message dump; defaults to stdout.
	Output io.Writer
}

// Result are the running totals for a completed move.
type Result struct {
	// Moved is the count of messages sent to the destination and deleted
	// from the source.
	Moved uint64
	// SendFailures is the count of messages whose copy was rejected; they
	// remain on the source for redelivery.
	SendFailures uint64
	// DeleteFailures is the count of messages sent to the destination
	// whose source delete failed; they now exist on both queues.
	DeleteFailures uint64
}

// Mover drains currently visible messages from a source queue into a
// destination queue, preserving message attributes. Messages are deleted
// from the source only after the destination has accepted the copy, giving
// at-least-once delivery; a failed delete duplicates rather than loses.
type Mover struct {
	client           Client
	source           string
	destination      string
	batchSize        int32
	maxEmptyReceives int
	parallelism      int
	limiter          *rate.Limiter
	clock            clockwork.Clock
	output           io.Writer

	moved          atomic.Uint64
	sendFailures   atomic.Uint64
	deleteFailures atomic.Uint64
}

// New returns a new mover between two named queues.
func New(client Client, source, destination string, opts Options) *Mover {
	m := &Mover{
		client:           client,
		source:           source,
		destination:      destination,
		batchSize:        opts.BatchSize,
		maxEmptyReceives: opts.MaxEmptyReceives,
		parallelism:      opts.Parallelism,
		clock:            opts.Clock,
		output:           opts.Output,
	}
	if m.batchSize < 1 || m.batchSize > DefaultBatchSize {
		m.batchSize = DefaultBatchSize
	}
	if m.maxEmptyReceives < 1 {
		m.maxEmptyReceives = DefaultMaxEmptyReceives
	}
	if m.parallelism < 1 {
		m.parallelism = 1
	}
	if opts.MaxMessagesPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.MaxMessagesPerSecond), 1)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.output == nil {
		m.output = os.Stdout
	}
	return m
}

// Move resolves both queue names and drains the source into the destination,
// stopping after [Options.MaxEmptyReceives] consecutive empty receives.
// Per-message send and delete failures are counted and logged but do not
// abort the run; resolution failures and exhausted receive retries do.
func (m *Mover) Move(ctx context.Context) (Result, error) {
	sourceURL, err := m.client.ResolveQueue(ctx, m.source)
	if err != nil {
		return Result{}, err
	}
	destinationURL, err := m.client.ResolveQueue(ctx, m.destination)
	if err != nil {
		return Result{}, err
	}
	m.logDepth(ctx, sourceURL, "moving messages")

	var emptyReceives, batches int
	for emptyReceives < m.maxEmptyReceives {
		batch, err := m.receiveWithRetry(ctx, sourceURL)
		if err != nil {
			return m.result(), err
		}
		if len(batch) == 0 {
			emptyReceives++
			slog.Debug("empty receive",
				slog.Int("consecutive", emptyReceives),
				slog.Int("threshold", m.maxEmptyReceives),
			)
			continue
		}
		emptyReceives = 0
		if err := m.moveBatch(ctx, batch, sourceURL, destinationURL); err != nil {
			return m.result(), err
		}
		batches++
		if batches%progressEveryBatches == 0 {
			m.logDepth(ctx, sourceURL, "move progress")
		}
	}

	result := m.result()
	slog.Info("move complete",
		slog.String("source", m.source),
		slog.String("destination", m.destination),
		slog.Uint64("moved", result.Moved),
		slog.Uint64("send_failures", result.SendFailures),
		slog.Uint64("delete_failures", result.DeleteFailures),
	)
	return result, nil
}

func (m *Mover) moveBatch(ctx context.Context, batch []Message, sourceURL, destinationURL string) error {
	if m.parallelism == 1 {
		for _, msg := range batch {
			if err := m.moveMessage(ctx, msg, sourceURL, destinationURL); err != nil {
				return err
			}
		}
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.parallelism)
	for _, msg := range batch {
		group.Go(func() error {
			return m.moveMessage(groupCtx, msg, sourceURL, destinationURL)
		})
	}
	return group.Wait()
}

// moveMessage copies one message and, only on a successful send, deletes the
// original. The returned error is nil unless the run context is done; send
// and delete failures are absorbed into the running totals.
func (m *Mover) moveMessage(ctx context.Context, msg Message, sourceURL, destinationURL string) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := m.client.Send(ctx, destinationURL, msg); err != nil {
		m.sendFailures.Add(1)
		slog.Error("send failed, message remains on source",
			slog.String("message_id", msg.ID),
			slog.Any("err", err),
		)
		return ctx.Err()
	}
	if err := m.client.Delete(ctx, sourceURL, msg.ReceiptHandle); err != nil {
		m.deleteFailures.Add(1)
		slog.Warn("delete failed, message now exists on both queues",
			slog.String("message_id", msg.ID),
			slog.Any("err", err),
		)
		return ctx.Err()
	}
	m.moved.Add(1)
	return nil
}

func (m *Mover) receiveWithRetry(ctx context.Context, queueURL string) ([]Message, error) {
	backoff := receiveBackoffInitial
	for attempt := 1; ; attempt++ {
		batch, err := m.client.ReceiveBatch(ctx, queueURL, m.batchSize)
		if err == nil {
			return batch, nil
		}
		if attempt >= receiveRetryLimit || ctx.Err() != nil {
			return nil, fmt.Errorf("receive from %s: %w", m.source, err)
		}
		slog.Warn("receive failed, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.clock.After(backoff):
		}
		backoff = min(backoff*2, receiveBackoffMax)
	}
}

func (m *Mover) logDepth(ctx context.Context, queueURL, msg string) {
	depth, err := m.client.ApproximateMessageCount(ctx, queueURL)
	if err != nil {
		slog.Warn("unable to read queue depth", slog.Any("err", err))
		return
	}
	slog.Info(msg,
		slog.String("source", m.source),
		slog.String("destination", m.destination),
		slog.Uint64("moved", m.moved.Load()),
		slog.Int64("approximate_remaining", depth),
	)
}

func (m *Mover) result() Result {
	return Result{
		Moved:          m.moved.Load(),
		SendFailures:   m.sendFailures.Load(),
		DeleteFailures: m.deleteFailures.Load(),
	}
}

type polledMessage struct {
	MessageID  string            `json:"message_id"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Poll prints the source queue's messages as JSON without moving or deleting
// them. Polled messages stay inflight until their visibility timeout lapses,
// after which they become receivable again.
func (m *Mover) Poll(ctx context.Context) error {
	sourceURL, err := m.client.ResolveQueue(ctx, m.source)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(m.output)
	enc.SetIndent("", "\t")

	var emptyReceives int
	var printed uint64
	for emptyReceives < m.maxEmptyReceives {
		batch, err := m.receiveWithRetry(ctx, sourceURL)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			emptyReceives++
			continue
		}
		emptyReceives = 0
		for _, msg := range batch {
			if err := enc.Encode(polledMessage{
				MessageID:  msg.ID,
				Body:       msg.Body,
				Attributes: flattenAttributes(msg.Attributes),
			}); err != nil {
				return err
			}
			printed++
		}
	}
	slog.Info("poll complete", slog.String("source", m.source), slog.Uint64("messages", printed))
	return nil
}

func flattenAttributes(attributes map[string]types.MessageAttributeValue) map[string]string {
	if len(attributes) == 0 {
		return nil
	}
	output := make(map[string]string, len(attributes))
	for key, value := range attributes {
		output[key] = aws.ToString(value.StringValue)
	}
	return output
}
