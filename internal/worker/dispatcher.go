package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
)

const (
	DefaultDispatchBuffer = 1024
	maxBatch              = 64
	flushTimeout          = 5 * time.Second
)

// Dispatcher hands events from the relay loop to slower handlers. Publish
// never blocks: when the buffer is full the event is dropped with a warning.
type Dispatcher struct {
	events   chan relay.Event
	handlers []EventHandler
	dropped  atomic.Int64
	log      *slog.Logger
}

func NewDispatcher(buffer int, handlers ...EventHandler) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	return &Dispatcher{
		events:   make(chan relay.Event, buffer),
		handlers: handlers,
		log:      slog.With("component", "dispatcher"),
	}
}

var _ relay.EventSink = (*Dispatcher)(nil)

func (d *Dispatcher) Publish(e relay.Event) {
	select {
	case d.events <- e:
	default:
		n := d.dropped.Add(1)
		d.log.Warn("event buffer full, dropping event", "kind", e.Kind, "speaker", e.SpeakerName, "dropped", n)
	}
}

// Dropped is the number of events Publish has discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers events in batches until ctx is done, then flushes whatever is
// still buffered.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case e := <-d.events:
			d.deliver(ctx, d.batch(e))
		case <-ctx.Done():
			d.flush(ctx)
			return
		}
	}
}

func (d *Dispatcher) batch(first relay.Event) []relay.Event {
	batch := []relay.Event{first}
	for len(batch) < maxBatch {
		select {
		case e := <-d.events:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (d *Dispatcher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-d.events:
			d.deliver(ctx, d.batch(e))
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, events []relay.Event) {
	for _, h := range d.handlers {
		if err := h.HandleEvents(ctx, events...); err != nil {
			d.log.Error("event handler failed", "events", len(events), slog.Any("error", err))
		}
	}
}
