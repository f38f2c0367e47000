// Package plugintest provides a recording plugin.Host over the fake platform.
package plugintest

import (
	"sync"

	"github.com/szibis/pagewatch/internal/bus"
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/platform/platformtest"
	"github.com/szibis/pagewatch/internal/record"
)

// ReportURL is the endpoint the host reports.
const ReportURL = "https://collect.test/report"

// Host records every payload sent and publishes it on a bus the same way
// the monitor does, without sampling.
type Host struct {
	P   *platformtest.Platform
	Bus *bus.Bus

	mu   sync.Mutex
	sent []*record.Record
}

// New returns a host over a fresh fake platform.
func New() *Host {
	return &Host{P: platformtest.New(), Bus: bus.New()}
}

func (h *Host) Send(p record.Payload) bool {
	if p == nil {
		return false
	}
	typ, sub := p.Kind()
	rec := &record.Record{
		ID:        envinfo.NewID(),
		Type:      typ,
		SubType:   sub,
		Timestamp: envinfo.UnixMillis(h.P.Now()),
		PageURL:   h.P.URL(),
		Payload:   p,
	}
	h.mu.Lock()
	h.sent = append(h.sent, rec)
	h.mu.Unlock()

	base, full := rec.EventName()
	h.Bus.Emit(base, rec)
	if full != "" {
		h.Bus.Emit(full, rec)
	}
	return true
}

func (h *Host) On(event string, fn bus.Handler) bus.HandlerID { return h.Bus.On(event, fn) }

func (h *Host) Off(event string, ids ...bus.HandlerID) { h.Bus.Off(event, ids...) }

func (h *Host) Platform() platform.Platform { return h.P }

func (h *Host) ReportURL() string { return ReportURL }

// Sent returns the records sent so far.
func (h *Host) Sent() []*record.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*record.Record(nil), h.sent...)
}

// SentOf returns the records of the given type and subtype.
func (h *Host) SentOf(t record.Type, sub string) []*record.Record {
	var out []*record.Record
	for _, r := range h.Sent() {
		if r.Type == t && r.SubType == sub {
			out = append(out, r)
		}
	}
	return out
}

// Reset forgets recorded records.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = nil
}
