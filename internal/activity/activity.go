// Package activity detects reporting sources that stopped sending. The
// collector records every app id it sees and a scanner reports the ones
// that went quiet, and the ones that came back.
package activity

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Activity is the lifecycle of a single source. Recording is lock-free.
type Activity struct {
	lastSeen  atomic.Int64 // unix nanos, 0 = never
	firstSeen int64
	silent    atomic.Bool // scanner state, for transitions
}

func newActivity(now time.Time) *Activity {
	return &Activity{firstSeen: now.UnixNano()}
}

// Record marks the source as seen at now.
func (a *Activity) Record(now time.Time) {
	a.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the last Record time, or the zero time.
func (a *Activity) LastSeen() time.Time {
	if ns := a.lastSeen.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// IsSilent reports whether nothing was recorded within threshold of now.
// A source never recorded counts from when it was registered.
func (a *Activity) IsSilent(now time.Time, threshold time.Duration) bool {
	last := a.lastSeen.Load()
	if last == 0 {
		last = a.firstSeen
	}
	return now.UnixNano()-last > int64(threshold)
}

// evaluate returns the current state and whether it changed since the
// previous scan.
func (a *Activity) evaluate(now time.Time, threshold time.Duration) (silent, changed bool) {
	silent = a.IsSilent(now, threshold)
	return silent, a.silent.Swap(silent) != silent
}

// Transition is a source changing state between two scans.
type Transition struct {
	Source   string
	Silent   bool
	LastSeen time.Time
}

// Tracker holds the activity of a bounded set of sources.
type Tracker struct {
	threshold  time.Duration
	maxSources int

	mu      sync.RWMutex
	sources map[string]*Activity

	silent   atomic.Int64
	overflow atomic.Int64
}

// NewTracker creates a tracker. Sources past maxSources are not tracked;
// 0 means unbounded.
func NewTracker(threshold time.Duration, maxSources int) *Tracker {
	return &Tracker{threshold: threshold, maxSources: maxSources, sources: make(map[string]*Activity)}
}

// Record marks source as seen. It returns false when the source is new and
// the tracker is full.
func (t *Tracker) Record(source string, now time.Time) bool {
	t.mu.RLock()
	a, ok := t.sources[source]
	t.mu.RUnlock()
	if !ok {
		t.mu.Lock()
		if a, ok = t.sources[source]; !ok {
			if t.maxSources > 0 && len(t.sources) >= t.maxSources {
				t.mu.Unlock()
				t.overflow.Add(1)
				return false
			}
			a = newActivity(now)
			t.sources[source] = a
		}
		t.mu.Unlock()
	}
	a.Record(now)
	return true
}

// Scan evaluates every source at now and returns the state changes in
// source order.
func (t *Tracker) Scan(now time.Time) []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Transition
	var silent int64
	for name, a := range t.sources {
		isSilent, changed := a.evaluate(now, t.threshold)
		if isSilent {
			silent++
		}
		if changed {
			out = append(out, Transition{Source: name, Silent: isSilent, LastSeen: a.LastSeen()})
		}
	}
	t.silent.Store(silent)
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Silent is the number of silent sources as of the last Scan.
func (t *Tracker) Silent() int { return int(t.silent.Load()) }

// Sources is the number of tracked sources.
func (t *Tracker) Sources() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sources)
}

// Overflow counts records dropped because the tracker was full.
func (t *Tracker) Overflow() int64 { return t.overflow.Load() }
