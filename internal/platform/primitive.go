package platform

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned by request primitives when the request timed out.
var ErrTimeout = errors.New("request timeout")

// Request is an outgoing page request.
type Request struct {
	Method string
	URL    string
	Body   []byte
}

// Response is the outcome of a completed request.
type Response struct {
	Status int
	Body   []byte
}

// RequestFunc performs a request on behalf of the page.
type RequestFunc func(ctx context.Context, req *Request) (*Response, error)

// NavigateFunc is a history push or replace.
type NavigateFunc func(state any, title, url string)

// BoundaryError is an error caught by a UI framework's error hook.
type BoundaryError struct {
	Framework      string `json:"framework"`
	Message        string `json:"message"`
	Stack          string `json:"stack,omitempty"`
	Component      string `json:"component,omitempty"`
	Info           string `json:"info,omitempty"`
	ComponentStack string `json:"componentStack,omitempty"`
}

// BoundaryFunc is a framework error hook. It may be nil when the page did
// not install one.
type BoundaryFunc func(BoundaryError)

// Primitive is a replaceable page function. Decorators wrap the current
// implementation and put the previous one back when they detach.
type Primitive[F any] struct {
	mu sync.Mutex
	fn F
}

// NewPrimitive holds fn as the initial implementation.
func NewPrimitive[F any](fn F) *Primitive[F] {
	return &Primitive[F]{fn: fn}
}

// Get returns the current implementation.
func (p *Primitive[F]) Get() F {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fn
}

// Wrap installs wrap(current) and returns a func that restores the
// implementation that was current at the time of the call. Restore is
// idempotent; wrappers must be restored in reverse installation order.
func (p *Primitive[F]) Wrap(wrap func(original F) F) (restore func()) {
	p.mu.Lock()
	original := p.fn
	p.fn = wrap(original)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.fn = original
			p.mu.Unlock()
		})
	}
}
