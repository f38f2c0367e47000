// Package platform abstracts the host page. Plugins and the monitor core
// reach the page only through these interfaces, so the same detection logic
// runs against a live page session or a deterministic fake.
package platform

import (
	"errors"
	"time"

	"github.com/szibis/pagewatch/internal/envinfo"
)

// ErrUnsupported is returned by observers the host cannot provide.
var ErrUnsupported = errors.New("platform: unsupported")

// ReadyState mirrors the document loading state.
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// Timer is a scheduled callback. Stop called from the scheduler goroutine
// guarantees the callback does not run afterwards.
type Timer interface {
	Stop() bool
}

// Scheduler provides the page clock and timers.
type Scheduler interface {
	// Now is wall-clock time.
	Now() time.Time
	// Elapsed is the high-resolution time since navigation start.
	Elapsed() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Listener is an attached event handler.
type Listener interface {
	Remove()
}

// Observer is an attached performance or mutation observer.
type Observer interface {
	Disconnect()
}

// Target selects the object an event listener is attached to.
type Target string

const (
	TargetWindow   Target = "window"
	TargetDocument Target = "document"
)

// Handler receives dispatched platform events.
type Handler func(Event)

// Storage is origin-scoped persistent key/value storage.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Platform is everything a page exposes to the collector.
type Platform interface {
	Scheduler

	URL() string
	Referrer() string
	Title() string
	ReadyState() ReadyState
	Hidden() bool
	Viewport() (width, height float64)
	Environment() envinfo.Environment
	// ElementFromPoint returns the topmost element at the viewport
	// coordinate, or nil when the point is outside the document.
	ElementFromPoint(x, y float64) *Element
	NavigationTiming() (NavigationTiming, bool)

	Listen(target Target, event string, capture bool, h Handler) Listener
	ObservePerformance(entryType string, buffered bool, fn func([]PerformanceEntry)) (Observer, error)
	ObserveMutations(fn func([]MutationRecord)) (Observer, error)

	Fetch() *Primitive[RequestFunc]
	XHR() *Primitive[RequestFunc]
	PushState() *Primitive[NavigateFunc]
	ReplaceState() *Primitive[NavigateFunc]
	ErrorBoundary() *Primitive[BoundaryFunc]

	Storage() Storage
}
