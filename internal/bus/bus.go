// Package bus is the in-process publish/subscribe channel between the monitor
// core and plugins.
package bus

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/record"
)

// Handler receives records emitted under an event name.
type Handler func(*record.Record)

// HandlerID identifies a subscription. The zero value is never issued.
type HandlerID uint64

var handlerPanicsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pagewatch_bus_handler_panics_total",
		Help: "Bus handlers that panicked, by event name",
	},
	[]string{"event"},
)

func init() {
	prometheus.MustRegister(handlerPanicsTotal)
}

type subscription struct {
	id HandlerID
	h  Handler
}

// Bus dispatches records to handlers subscribed by event name. It is safe
// for concurrent use; handlers run on the emitting goroutine and may
// subscribe, unsubscribe or emit re-entrantly.
type Bus struct {
	mu       sync.Mutex
	next     HandlerID
	handlers map[string][]subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// On subscribes h to event. A nil handler is ignored and yields 0.
func (b *Bus) On(event string, h Handler) HandlerID {
	if h == nil {
		logging.Warn("ignoring nil bus handler", logging.F("component", "bus", "event", event))
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[event] = append(b.handlers[event], subscription{id: b.next, h: h})
	return b.next
}

// Off removes the listed subscriptions from event. With no ids every
// handler of event is removed.
func (b *Bus) Off(event string, ids ...HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(ids) == 0 {
		delete(b.handlers, event)
		return
	}
	subs := b.handlers[event]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		drop := false
		for _, id := range ids {
			if s.id == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, event)
		return
	}
	b.handlers[event] = kept
}

// Emit calls every handler of event in subscription order. A panicking
// handler is logged and skipped.
func (b *Bus) Emit(event string, rec *record.Record) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.handlers[event]...)
	b.mu.Unlock()

	for _, s := range subs {
		b.call(event, s, rec)
	}
}

func (b *Bus) call(event string, s subscription, rec *record.Record) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanicsTotal.WithLabelValues(event).Inc()
			logging.Error("bus handler panicked", logging.F(
				"component", "bus",
				"event", event,
				"handler", uint64(s.id),
				"panic", fmt.Sprint(r),
			))
		}
	}()
	s.h(rec)
}

// Len returns the number of handlers subscribed to event.
func (b *Bus) Len(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]subscription)
}
