package perf

import (
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// ResourceLoad reports one timing record per loaded resource, including
// those buffered before the plugin started.
type ResourceLoad struct {
	host     plugin.Host
	life     plugin.Lifecycle
	observer platform.Observer
}

// NewResourceLoad is the factory for the resource timing plugin.
func NewResourceLoad(host plugin.Host) plugin.Plugin {
	return &ResourceLoad{host: host}
}

func (r *ResourceLoad) Name() string { return ResourceLoadName }

func (r *ResourceLoad) Init(plugin.RawConfig) error {
	if err := r.life.Activate(); err != nil {
		return err
	}
	o, err := r.host.Platform().ObservePerformance(platform.EntryResource, true, r.handle)
	if err != nil {
		return err
	}
	r.observer = o
	return nil
}

func (r *ResourceLoad) handle(entries []platform.PerformanceEntry) {
	if !r.life.Active() {
		return
	}
	for _, e := range entries {
		if e.Resource == nil {
			continue
		}
		r.host.Send(resourceTimingFrom(e))
	}
}

func resourceTimingFrom(e platform.PerformanceEntry) *record.ResourceTiming {
	t := e.Resource
	return &record.ResourceTiming{
		Name:            e.Name,
		InitiatorType:   t.InitiatorType,
		StartTime:       e.StartTime,
		Duration:        e.Duration,
		DNS:             span(t.DomainLookupEnd, t.DomainLookupStart),
		TCP:             span(t.ConnectEnd, t.ConnectStart),
		Request:         span(t.ResponseStart, t.RequestStart),
		Response:        span(t.ResponseEnd, t.ResponseStart),
		Redirect:        span(t.RedirectEnd, t.RedirectStart),
		TTFB:            span(t.ResponseStart, e.StartTime),
		DecodedBodySize: t.DecodedBodySize,
		EncodedBodySize: t.EncodedBodySize,
		TransferSize:    t.TransferSize,
		FromCache:       t.TransferSize == 0 && t.DecodedBodySize > 0,
	}
}

func (r *ResourceLoad) Destroy() {
	if !r.life.Deactivate() {
		return
	}
	disconnect(r.observer)
}
