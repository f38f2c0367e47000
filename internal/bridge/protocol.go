package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/szibis/pagewatch/internal/platform"
)

// Message types exchanged with the in-page shim.
const (
	TypeHello          = "hello"
	TypeEvent          = "event"
	TypePerf           = "perf"
	TypeMutations      = "mutations"
	TypeLayout         = "layout"
	TypeState          = "state"
	TypeRequest        = "request"
	TypeFrameworkError = "framework-error"
	TypeNavigate       = "navigate"
	TypeStorage        = "storage"
)

// typeLabel bounds metric label values to the known message types.
func typeLabel(typ string) string {
	switch typ {
	case TypeHello, TypeEvent, TypePerf, TypeMutations, TypeLayout, TypeState,
		TypeRequest, TypeFrameworkError, TypeNavigate, TypeStorage:
		return typ
	}
	return "unknown"
}

// Message is the envelope of every frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes v as the data of a typ message.
func NewMessage(typ string, v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Message{Type: typ, Data: b}, nil
}

// Hello opens a session and describes the page as it is at connect time.
type Hello struct {
	URL        string              `json:"url"`
	Referrer   string              `json:"referrer,omitempty"`
	Title      string              `json:"title,omitempty"`
	ReadyState platform.ReadyState `json:"readyState"`
	Hidden     bool                `json:"hidden,omitempty"`
	// Elapsed is the page clock in milliseconds since navigation start.
	Elapsed        float64 `json:"elapsed"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	ScreenWidth    int     `json:"screenWidth"`
	ScreenHeight   int     `json:"screenHeight"`
	PixelRatio     float64 `json:"pixelRatio"`
	UserAgent      string  `json:"userAgent"`
	Platform       string  `json:"platform,omitempty"`
	Language       string  `json:"language,omitempty"`

	Navigation *platform.NavigationTiming `json:"navigation,omitempty"`
	// EntryTypes are the performance entry types the page can observe. An
	// empty list means all of them.
	EntryTypes []string `json:"entryTypes,omitempty"`
	// NoMutationObserver is set on pages without MutationObserver.
	NoMutationObserver bool              `json:"noMutationObserver,omitempty"`
	Storage            map[string]string `json:"storage,omitempty"`
}

// State updates page properties. Absent fields are unchanged.
type State struct {
	URL            *string                    `json:"url,omitempty"`
	Title          *string                    `json:"title,omitempty"`
	ReadyState     *platform.ReadyState       `json:"readyState,omitempty"`
	Hidden         *bool                      `json:"hidden,omitempty"`
	ViewportWidth  *float64                   `json:"viewportWidth,omitempty"`
	ViewportHeight *float64                   `json:"viewportHeight,omitempty"`
	Navigation     *platform.NavigationTiming `json:"navigation,omitempty"`
}

// Event is a dispatched page event. State, when present, is applied before
// listeners run so they observe the page as it was when the event fired.
type Event struct {
	Target platform.Target `json:"target"`
	Name   string          `json:"name"`
	State  *State          `json:"state,omitempty"`

	// error and unhandledrejection
	Message   string          `json:"message,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	Lineno    int             `json:"lineno,omitempty"`
	Colno     int             `json:"colno,omitempty"`
	ErrorName string          `json:"errorName,omitempty"`
	Stack     string          `json:"stack,omitempty"`
	Reason    json.RawMessage `json:"reason,omitempty"`

	// Element is the failed element of a resource error or the target of a
	// pointer event.
	Element   *platform.Element `json:"element,omitempty"`
	ClientX   float64           `json:"clientX,omitempty"`
	ClientY   float64           `json:"clientY,omitempty"`
	Persisted bool              `json:"persisted,omitempty"`
	OldURL    string            `json:"oldURL,omitempty"`
	NewURL    string            `json:"newURL,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	TimeStamp float64           `json:"timeStamp"`
}

// platformEvent converts e to the typed platform event.
func (e *Event) platformEvent() (platform.Event, error) {
	switch e.Name {
	case platform.EventError:
		if e.Element != nil {
			return &platform.ResourceErrorEvent{Target: e.Element, TimeStamp: e.TimeStamp}, nil
		}
		return &platform.ErrorEvent{
			Message:   e.Message,
			Filename:  e.Filename,
			Lineno:    e.Lineno,
			Colno:     e.Colno,
			Stack:     e.Stack,
			TimeStamp: e.TimeStamp,
		}, nil
	case platform.EventUnhandledRejection:
		ev := &platform.RejectionEvent{TimeStamp: e.TimeStamp}
		if e.ErrorName != "" || e.Stack != "" || e.Message != "" {
			ev.Reason = &platform.ScriptError{ErrName: e.ErrorName, Message: e.Message, Trace: e.Stack}
		} else if len(e.Reason) > 0 {
			var v any
			if err := json.Unmarshal(e.Reason, &v); err != nil {
				return nil, fmt.Errorf("rejection reason: %w", err)
			}
			ev.Reason = v
		}
		return ev, nil
	case platform.EventClick, platform.EventTouchStart:
		return &platform.PointerEvent{
			Type: e.Name, Target: e.Element, ClientX: e.ClientX, ClientY: e.ClientY, TimeStamp: e.TimeStamp,
		}, nil
	case platform.EventPageShow:
		return &platform.PageShowEvent{Persisted: e.Persisted, TimeStamp: e.TimeStamp}, nil
	case platform.EventHashChange, platform.EventPopState:
		return &platform.NavigationEvent{Type: e.Name, OldURL: e.OldURL, NewURL: e.NewURL, TimeStamp: e.TimeStamp}, nil
	case platform.EventLoad, platform.EventDOMContentLoaded, platform.EventVisibilityChange,
		platform.EventPageHide, platform.EventBeforeUnload:
		return &platform.LifecycleEvent{Type: e.Name, TimeStamp: e.TimeStamp}, nil
	case platform.EventScroll, platform.EventMouseMove:
		return &platform.InteractionEvent{Type: e.Name, Data: e.Data, TimeStamp: e.TimeStamp}, nil
	}
	return nil, fmt.Errorf("unknown event %q", e.Name)
}

// Perf delivers performance entries of one type.
type Perf struct {
	EntryType string                      `json:"entryType"`
	Entries   []platform.PerformanceEntry `json:"entries"`
}

// Mutations delivers one MutationObserver batch.
type Mutations struct {
	Records []platform.MutationRecord `json:"records"`
}

// Layout replaces the boxes used to answer point queries. Elements are in
// paint order, the last one on top.
type Layout struct {
	Elements []*platform.Element `json:"elements"`
}

// Request is the outcome of a request the page completed.
type Request struct {
	// Transport is fetch or xhr.
	Transport string `json:"transport"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Body      string `json:"body,omitempty"`
	// Error is set when the request failed below HTTP.
	Error   string `json:"error,omitempty"`
	Timeout bool   `json:"timeout,omitempty"`
	// Start and Duration are page clock milliseconds.
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Navigate is a history push or replace.
type Navigate struct {
	// Kind is pushState or replaceState.
	Kind  string          `json:"kind"`
	URL   string          `json:"url"`
	Title string          `json:"title,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// StorageWrite is a storage update, sent in both directions.
type StorageWrite struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
