package platform

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/pagewatch/internal/logging"
)

// Loop is a single-goroutine task queue implementing Scheduler. Timer
// callbacks and posted tasks run to completion one at a time on the Run
// goroutine, so code driven by a Loop needs no locking of its own.
type Loop struct {
	tasks   chan func()
	origin  time.Time
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewLoop creates a loop with a task queue of the given capacity.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Loop{
		tasks:   make(chan func(), queueSize),
		origin:  time.Now(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run executes tasks until Close is called. It must be called exactly once.
func (l *Loop) Run() {
	defer close(l.stopped)
	for {
		select {
		case f := <-l.tasks:
			l.exec(f)
		case <-l.done:
			return
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("loop task panicked", logging.F(
				"component", "platform",
				"panic", fmt.Sprint(r),
			))
		}
	}()
	f()
}

// Post queues f. It blocks while the queue is full and returns false once the
// loop is closed. Code running on the loop schedules follow-up work with
// AfterFunc instead.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Do(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.stopped:
		return false
	}
}

// Close stops the loop. Queued tasks that have not started are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Wait blocks until Run has returned after Close.
func (l *Loop) Wait() {
	<-l.stopped
}

// Rebase sets the clock so that Elapsed currently reports elapsed. It must
// be called before Run.
func (l *Loop) Rebase(elapsed time.Duration) {
	l.origin = time.Now().Add(-elapsed)
}

// Now returns wall-clock time.
func (l *Loop) Now() time.Time { return time.Now() }

// Elapsed returns the time since the loop was created.
func (l *Loop) Elapsed() time.Duration { return time.Since(l.origin) }

// AfterFunc runs f on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			f()
		})
	})
	return t
}

// Every runs f on the loop every d until the timer is stopped.
func (l *Loop) Every(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	var arm func()
	arm = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stopped.Load() {
			return
		}
		t.t = time.AfterFunc(d, func() {
			l.Post(func() {
				if t.stopped.Load() {
					return
				}
				f()
				arm()
			})
		})
	}
	arm()
	return t
}

type loopTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	return true
}
