package relay_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func TestDelayQueueOrdersByDueTime(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var q relay.DelayQueue
	for i := range 500 {
		due := epoch.Add(time.Duration(rng.Intn(50)) * time.Millisecond)
		q.Push(due, []byte{byte(i)})
	}

	var last time.Time
	count := 0
	for q.Len() > 0 {
		due, _, ok := q.Pop()
		if !ok {
			t.Fatal("Pop() reported empty with entries left")
		}
		if due.Before(last) {
			t.Fatalf("entry %d due %s before previous %s", count, due, last)
		}
		last = due
		count++
	}
	if count != 500 {
		t.Errorf("popped %d entries, want 500", count)
	}
}

func TestDelayQueueTiesKeepPushOrder(t *testing.T) {
	var q relay.DelayQueue
	q.Push(epoch.Add(time.Second), []byte("late"))
	q.Push(epoch, []byte("a"))
	q.Push(epoch, []byte("b"))
	q.Push(epoch, []byte("c"))

	var got []string
	for q.Len() > 0 {
		_, p, _ := q.Pop()
		got = append(got, string(p))
	}
	want := []string{"a", "b", "c", "late"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDelayQueuePopDue(t *testing.T) {
	var q relay.DelayQueue
	if _, ok := q.Peek(); ok {
		t.Error("Peek() on an empty queue reported an entry")
	}

	q.Push(epoch.Add(2*time.Second), []byte{2})
	q.Push(epoch.Add(time.Second), []byte{1})

	due, ok := q.Peek()
	if !ok || !due.Equal(epoch.Add(time.Second)) {
		t.Errorf("Peek() = %s, %v, want %s", due, ok, epoch.Add(time.Second))
	}

	if _, ok := q.PopDue(epoch.Add(999 * time.Millisecond)); ok {
		t.Error("PopDue() returned an entry before it was due")
	}
	p, ok := q.PopDue(epoch.Add(time.Second))
	if !ok || p[0] != 1 {
		t.Errorf("PopDue() at the due time = %v, %v, want [1], true", p, ok)
	}
	if _, ok := q.PopDue(epoch.Add(time.Second)); ok {
		t.Error("PopDue() returned the later entry early")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestDelayQueuePruneBefore(t *testing.T) {
	var q relay.DelayQueue
	for i := range 5 {
		q.Push(epoch.Add(time.Duration(i)*time.Second), []byte{byte(i)})
	}

	if got := q.PruneBefore(epoch.Add(2 * time.Second)); got != 2 {
		t.Errorf("PruneBefore() = %d, want 2", got)
	}
	due, _ := q.Peek()
	if !due.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("earliest remaining entry due %s, want %s", due, epoch.Add(2*time.Second))
	}
	if got := q.PruneBefore(epoch); got != 0 {
		t.Errorf("PruneBefore() with nothing overdue = %d, want 0", got)
	}
}
