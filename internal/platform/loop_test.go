package platform

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(16)
	go l.Run()
	t.Cleanup(func() {
		l.Close()
		l.Wait()
	})
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := NewLoop(4)
	go l.Run()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		l.Post(func() { order = append(order, i) })
	}
	l.Do(func() {})
	l.Close()
	l.Wait()

	if len(order) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	if !l.Do(func() { ran = true }) || !ran {
		t.Fatal("loop stopped after a panicking task")
	}
}

func TestLoopPostAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := NewLoop(1)
	go l.Run()
	l.Close()
	l.Wait()
	if l.Post(func() {}) {
		t.Error("Post after Close should fail")
	}
	if l.Do(func() {}) {
		t.Error("Do after Close should fail")
	}
}

func TestLoopAfterFuncAndStop(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var calls atomic.Int32
	var timer Timer
	l.Do(func() {
		timer = l.AfterFunc(20*time.Millisecond, func() { calls.Add(1) })
	})
	l.Do(func() { timer.Stop() })
	time.Sleep(50 * time.Millisecond)
	l.Do(func() {})
	if calls.Load() != 0 {
		t.Errorf("stopped timer fired %d times", calls.Load())
	}
}

func TestLoopEvery(t *testing.T) {
	l := startLoop(t)

	var ticks atomic.Int32
	done := make(chan struct{})
	var timer Timer
	l.Do(func() {
		timer = l.Every(2*time.Millisecond, func() {
			if ticks.Add(1) == 3 {
				timer.Stop()
				close(done)
			}
		})
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic timer did not tick three times")
	}
	time.Sleep(10 * time.Millisecond)
	l.Do(func() {})
	if n := ticks.Load(); n != 3 {
		t.Errorf("ticks = %d after Stop, want 3", n)
	}
}

func TestLoopRebase(t *testing.T) {
	l := NewLoop(1)
	l.Rebase(time.Second)
	if got := l.Elapsed(); got < time.Second || got > 2*time.Second {
		t.Errorf("Elapsed() = %v after Rebase(1s)", got)
	}
}
