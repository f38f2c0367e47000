package platform

import "time"

// Debouncer runs only the most recent call once the scheduler has been quiet
// for the configured delay.
type Debouncer struct {
	s     Scheduler
	delay time.Duration
	timer Timer
}

// NewDebouncer returns a debouncer bound to s.
func NewDebouncer(s Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{s: s, delay: delay}
}

// Call schedules fn, replacing any call still pending.
func (d *Debouncer) Call(fn func()) {
	d.Cancel()
	d.timer = d.s.AfterFunc(d.delay, func() {
		d.timer = nil
		fn()
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Throttler admits at most one call per interval.
type Throttler struct {
	s        Scheduler
	interval time.Duration
	last     time.Duration
	primed   bool
}

// NewThrottler returns a throttler bound to s. A zero interval admits every call.
func NewThrottler(s Scheduler, interval time.Duration) *Throttler {
	return &Throttler{s: s, interval: interval}
}

// Allow reports whether a call made now is admitted.
func (t *Throttler) Allow() bool {
	now := t.s.Elapsed()
	if t.primed && now-t.last < t.interval {
		return false
	}
	t.primed = true
	t.last = now
	return true
}
