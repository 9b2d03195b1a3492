package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/internal/schedule"
	"github.com/google/go-cmp/cmp"
)

func TestManualRunsTimersInDueOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := schedule.NewManual(start)

	var got []string
	s.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	s.AfterFunc(time.Second, func() { got = append(got, "a") })
	s.AfterFunc(time.Second, func() { got = append(got, "b") })
	stopped := s.AfterFunc(2*time.Second, func() { got = append(got, "never") })
	s.Post(func() { got = append(got, "posted") })

	if !stopped.Stop() {
		t.Fatalf("Stop on a pending timer should report true")
	}

	s.Advance(2 * time.Second)
	if diff := cmp.Diff([]string{"posted", "a", "b"}, got); diff != "" {
		t.Errorf("order mismatch after 2s (-want +got):\n%s", diff)
	}
	if !s.Now().Equal(start.Add(2 * time.Second)) {
		t.Errorf("Now = %v; want %v", s.Now(), start.Add(2*time.Second))
	}

	s.Advance(time.Second)
	if diff := cmp.Diff([]string{"posted", "a", "b", "c"}, got); diff != "" {
		t.Errorf("order mismatch after 3s (-want +got):\n%s", diff)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d; want 0", s.Pending())
	}
}

func TestEveryStartsAfterOnePeriod(t *testing.T) {
	s := schedule.NewManual(time.Unix(0, 0))

	count := 0
	timer := schedule.Every(s, 5*time.Second, func() { count++ })

	s.RunPending()
	if count != 0 {
		t.Fatalf("Every ran immediately")
	}
	s.Advance(5 * time.Second)
	if count != 1 {
		t.Fatalf("count = %d after one period; want 1", count)
	}
	s.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("count = %d after three periods; want 3", count)
	}

	timer.Stop()
	s.Advance(time.Minute)
	if count != 3 {
		t.Errorf("count = %d after Stop; want 3", count)
	}
}

func TestRunAtPastTimeRunsImmediately(t *testing.T) {
	s := schedule.NewManual(time.Unix(100, 0))
	ran := false
	schedule.RunAt(s, time.Unix(50, 0), func() { ran = true })
	s.RunPending()
	if !ran {
		t.Errorf("RunAt with a past time did not run")
	}
}

func TestLoopSerialisesPostsAndTimers(t *testing.T) {
	loop := schedule.NewLoop()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var order []int
	finished := make(chan struct{})
	loop.Post(func() {
		order = append(order, 1)
		loop.AfterFunc(10*time.Millisecond, func() {
			order = append(order, 3)
			close(finished)
		})
		stopped := loop.AfterFunc(5*time.Millisecond, func() { order = append(order, -1) })
		stopped.Stop()
		loop.Post(func() { order = append(order, 2) })
	})

	select {
	case <-finished:
	case <-ctx.Done():
		t.Fatalf("timer never fired")
	}

	loop.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoopRunReturnsOnContextDone(t *testing.T) {
	loop := schedule.NewLoop()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := loop.Run(ctx); err != context.Canceled {
		t.Errorf("Run error = %v; want context.Canceled", err)
	}
}
