package relay

import (
	"container/heap"
	"time"
)

type queued struct {
	due    time.Time
	seq    uint64
	packet []byte
}

type queuedHeap []queued

func (h queuedHeap) Len() int { return len(h) }

func (h queuedHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h queuedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queuedHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *queuedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return item
}

// DelayQueue holds packets until they are due. Packets due at the same time
// come out in the order they were pushed. The zero value is ready to use.
type DelayQueue struct {
	h   queuedHeap
	seq uint64
}

func (q *DelayQueue) Push(due time.Time, packet []byte) {
	q.seq++
	heap.Push(&q.h, queued{due: due, seq: q.seq, packet: packet})
}

// Peek returns the due time of the earliest packet.
func (q *DelayQueue) Peek() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].due, true
}

// Pop removes the earliest packet whether or not it is due.
func (q *DelayQueue) Pop() (time.Time, []byte, bool) {
	if len(q.h) == 0 {
		return time.Time{}, nil, false
	}
	item := heap.Pop(&q.h).(queued)
	return item.due, item.packet, true
}

// PopDue removes the earliest packet if it is due at or before now.
func (q *DelayQueue) PopDue(now time.Time) ([]byte, bool) {
	if len(q.h) == 0 || q.h[0].due.After(now) {
		return nil, false
	}
	return heap.Pop(&q.h).(queued).packet, true
}

func (q *DelayQueue) Len() int { return len(q.h) }

// PruneBefore drops every packet due strictly before t and reports how many
// were dropped.
func (q *DelayQueue) PruneBefore(t time.Time) int {
	n := 0
	for len(q.h) > 0 && q.h[0].due.Before(t) {
		heap.Pop(&q.h)
		n++
	}
	return n
}
