package platform

// Event names understood by Listen.
const (
	EventError              = "error"
	EventUnhandledRejection = "unhandledrejection"
	EventClick              = "click"
	EventTouchStart         = "touchstart"
	EventPageShow           = "pageshow"
	EventPageHide           = "pagehide"
	EventHashChange         = "hashchange"
	EventPopState           = "popstate"
	EventLoad               = "load"
	EventDOMContentLoaded   = "DOMContentLoaded"
	EventVisibilityChange   = "visibilitychange"
	EventBeforeUnload       = "beforeunload"
	EventScroll             = "scroll"
	EventMouseMove          = "mousemove"
)

// Event is a dispatched platform event.
type Event interface {
	Name() string
}

// Bubbling reports whether an event reaches non-capturing listeners.
// Element load failures are only visible to capturing listeners.
func Bubbling(ev Event) bool {
	_, resource := ev.(*ResourceErrorEvent)
	return !resource
}

// ErrorEvent is an uncaught runtime error.
type ErrorEvent struct {
	Message   string  `json:"message"`
	Filename  string  `json:"filename,omitempty"`
	Lineno    int     `json:"lineno"`
	Colno     int     `json:"colno"`
	Stack     string  `json:"stack,omitempty"`
	TimeStamp float64 `json:"timeStamp"`

	prevented bool
}

func (*ErrorEvent) Name() string { return EventError }

// PreventDefault suppresses the platform's default surfacing of the error.
func (e *ErrorEvent) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether a handler called PreventDefault.
func (e *ErrorEvent) DefaultPrevented() bool { return e.prevented }

// ScriptError is an error value thrown by page script.
type ScriptError struct {
	ErrName string `json:"name,omitempty"`
	Message string `json:"message"`
	Trace   string `json:"stack,omitempty"`
}

func (e *ScriptError) Error() string {
	if e.ErrName == "" {
		return e.Message
	}
	return e.ErrName + ": " + e.Message
}

// Stack returns the script stack trace.
func (e *ScriptError) Stack() string { return e.Trace }

// RejectionEvent is an unhandled promise rejection. Reason is an error for
// rejected Error objects and any other value otherwise.
type RejectionEvent struct {
	Reason    any
	TimeStamp float64
}

func (*RejectionEvent) Name() string { return EventUnhandledRejection }

// ResourceErrorEvent is a failed element load. It does not bubble.
type ResourceErrorEvent struct {
	Target    *Element
	TimeStamp float64
}

func (*ResourceErrorEvent) Name() string { return EventError }

// PointerEvent is a click or touchstart.
type PointerEvent struct {
	Type      string
	Target    *Element
	ClientX   float64
	ClientY   float64
	TimeStamp float64
}

func (e *PointerEvent) Name() string { return e.Type }

// PageShowEvent fires on page display, including restores from the
// back/forward cache (Persisted).
type PageShowEvent struct {
	Persisted bool
	TimeStamp float64
}

func (*PageShowEvent) Name() string { return EventPageShow }

// NavigationEvent is a hashchange or popstate.
type NavigationEvent struct {
	Type      string
	OldURL    string
	NewURL    string
	TimeStamp float64
}

func (e *NavigationEvent) Name() string { return e.Type }

// LifecycleEvent covers load, DOMContentLoaded, visibilitychange, pagehide
// and beforeunload.
type LifecycleEvent struct {
	Type      string
	TimeStamp float64
}

func (e *LifecycleEvent) Name() string { return e.Type }

// InteractionEvent is a high-frequency interaction such as scroll or
// mousemove.
type InteractionEvent struct {
	Type      string
	Data      map[string]any
	TimeStamp float64
}

func (e *InteractionEvent) Name() string { return e.Type }
