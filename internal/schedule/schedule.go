package schedule

import (
	"time"
)

// Scheduler runs functions one at a time. Everything posted to a Scheduler,
// including timer callbacks, runs to completion before the next function
// starts, so state owned by those functions needs no locking.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// Post queues fn to run after everything already queued. Safe to call
	// from any goroutine.
	Post(fn func())
	// AfterFunc runs fn on the scheduler once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not run yet. It must be called from
	// the scheduler. It reports whether the call was prevented.
	Stop() bool
}

// RunAt runs execute on s at runAt, or as soon as possible if runAt has
// passed.
func RunAt(s Scheduler, runAt time.Time, execute func()) Timer {
	delay := runAt.Sub(s.Now())
	if delay < 0 {
		delay = 0
	}
	return s.AfterFunc(delay, execute)
}

// Every runs fn on s every period. The first call happens one period from
// now, not immediately.
func Every(s Scheduler, period time.Duration, fn func()) Timer {
	c := &chain{}
	var tick func()
	tick = func() {
		if c.stopped {
			return
		}
		fn()
		if !c.stopped {
			c.current = s.AfterFunc(period, tick)
		}
	}
	c.current = s.AfterFunc(period, tick)
	return c
}

// chain is a Timer over a sequence of timers where each schedules the next.
type chain struct {
	current Timer
	stopped bool
}

func (c *chain) Stop() bool {
	if c.stopped {
		return false
	}
	c.stopped = true
	if c.current != nil {
		return c.current.Stop()
	}
	return true
}
