package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/worker"
	"github.com/google/go-cmp/cmp"
)

type collector struct {
	mu     sync.Mutex
	events []relay.Event
}

func (c *collector) HandleEvents(_ context.Context, events ...relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, e := range c.events {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	got := &collector{}
	d := worker.NewDispatcher(2, got)

	for _, id := range []string{"a", "b", "c", "d"} {
		d.Publish(relay.Event{ID: id, Kind: relay.EventTracked})
	}
	if d.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", d.Dropped())
	}

	// Run flushes the buffer once its context is done.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	d.Run(ctx)

	if diff := cmp.Diff([]string{"a", "b"}, got.ids()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherFansOut(t *testing.T) {
	first := &collector{}
	second := &collector{}
	failing := worker.EventHandlerFunc(func(context.Context, ...relay.Event) error {
		return errors.New("unavailable")
	})
	d := worker.NewDispatcher(0, first, failing, second)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	want := []string{"1", "2", "3"}
	for _, id := range want {
		d.Publish(relay.Event{ID: id, Kind: relay.EventConnected})
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(second.ids()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	for name, c := range map[string]*collector{"first": first, "second": second} {
		if diff := cmp.Diff(want, c.ids()); diff != "" {
			t.Errorf("%s handler mismatch (-want +got):\n%s", name, diff)
		}
	}
}
