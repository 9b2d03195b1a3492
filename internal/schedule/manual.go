package schedule

import (
	"sort"
	"time"
)

// Manual is a Scheduler whose clock only moves when told to. It is meant for
// tests and is not safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    uint64
	posted []func()
	timers []*manualTimer
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

var _ Scheduler = (*Manual)(nil)

func (m *Manual) Now() time.Time { return m.now }

func (m *Manual) Post(fn func()) { m.posted = append(m.posted, fn) }

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{owner: m, due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// RunPending runs posted functions, including ones they post, and timers
// that are already due.
func (m *Manual) RunPending() {
	m.Advance(0)
}

// Advance moves the clock forward by d, running posted functions and every
// timer that falls due on the way, in due order. The clock reads each
// timer's due time while it runs.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		m.drainPosted()

		next := m.nextDue()
		if next == nil || next.due.After(target) {
			break
		}
		m.remove(next)
		if next.due.After(m.now) {
			m.now = next.due
		}
		next.fired = true
		next.fn()
	}
	m.now = target
}

// Pending reports how many timers are waiting.
func (m *Manual) Pending() int { return len(m.timers) }

// NextDue reports when the earliest waiting timer fires.
func (m *Manual) NextDue() (time.Time, bool) {
	t := m.nextDue()
	if t == nil {
		return time.Time{}, false
	}
	return t.due, true
}

func (m *Manual) drainPosted() {
	for len(m.posted) > 0 {
		fn := m.posted[0]
		m.posted = m.posted[1:]
		fn()
	}
}

func (m *Manual) nextDue() *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		a, b := m.timers[i], m.timers[j]
		if a.due.Equal(b.due) {
			return a.seq < b.seq
		}
		return a.due.Before(b.due)
	})
	return m.timers[0]
}

func (m *Manual) remove(t *manualTimer) {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	owner *Manual
	due   time.Time
	seq   uint64
	fn    func()
	fired bool
}

func (t *manualTimer) Stop() bool {
	if t.fired {
		return false
	}
	for _, other := range t.owner.timers {
		if other == t {
			t.owner.remove(t)
			return true
		}
	}
	return false
}
