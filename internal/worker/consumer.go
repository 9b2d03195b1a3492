package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
)

// DefaultRetryDelay is how long Run waits after the durable handler failed.
const DefaultRetryDelay = 5 * time.Second

// EventSource is a stream of deliveries that must be acknowledged.
// RedisEventReceiver is the production source.
type EventSource interface {
	ReceiveEvents(ctx context.Context) ([]Delivery, error)
	Rewind()
	Ack(ctx context.Context, streamIDs ...string) error
}

var _ EventSource = (*RedisEventReceiver)(nil)

// StoreError reports a batch the durable handler did not accept. The batch
// stays unacknowledged and is read again.
type StoreError struct {
	Count int
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to store %d events: %v", e.Count, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

var _ error = (*StoreError)(nil)

// Consumer moves events from a source into a durable handler and then to
// best-effort notifiers. A delivery is acknowledged only after Durable
// accepted it.
type Consumer struct {
	Source    EventSource
	Durable   EventHandler
	Notifiers []EventHandler
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// ProcessBatch handles one read from the source and returns how many events
// were acknowledged. A *StoreError means the source was rewound.
func (c *Consumer) ProcessBatch(ctx context.Context) (int, error) {
	deliveries, err := c.Source.ReceiveEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to receive events: %w", err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	events := make([]relay.Event, 0, len(deliveries))
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		slog.DebugContext(ctx, "Received event",
			"streamID", d.StreamID,
			"kind", d.Event.Kind,
			"speaker", d.Event.SpeakerName,
			"at", d.Event.At.Format("2006-01-02 15:04:05"),
		)
		events = append(events, d.Event)
		ids = append(ids, d.StreamID)
	}

	if err := c.Durable.HandleEvents(ctx, events...); err != nil {
		c.Source.Rewind()
		return 0, &StoreError{Count: len(events), Err: err}
	}
	for _, n := range c.Notifiers {
		if err := n.HandleEvents(ctx, events...); err != nil {
			slog.WarnContext(ctx, "failed to notify", slog.Any("error", err))
		}
	}
	if err := c.Source.Ack(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Run processes batches until ctx ends. Store failures are retried after
// RetryDelay; any other error stops it.
func (c *Consumer) Run(ctx context.Context) error {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	for {
		_, err := c.ProcessBatch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			return err
		}
		slog.ErrorContext(ctx, "failed to store events, will retry", "count", storeErr.Count, slog.Any("error", storeErr.Err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
