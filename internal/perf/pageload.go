package perf

import (
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// PageLoad reports navigation timing once the page is shown.
type PageLoad struct {
	host     plugin.Host
	life     plugin.Lifecycle
	listener platform.Listener
	pending  platform.Timer
}

// NewPageLoad is the factory for the navigation timing plugin.
func NewPageLoad(host plugin.Host) plugin.Plugin {
	return &PageLoad{host: host}
}

func (p *PageLoad) Name() string { return PageLoadName }

func (p *PageLoad) Init(plugin.RawConfig) error {
	if err := p.life.Activate(); err != nil {
		return err
	}
	pl := p.host.Platform()
	p.listener = pl.Listen(platform.TargetWindow, platform.EventPageShow, false, func(platform.Event) {
		// The load event end is only filled in after the handlers of load
		// have run, so the entry is read on the next turn.
		stop(p.pending)
		p.pending = pl.AfterFunc(0, p.report)
	})
	return nil
}

func (p *PageLoad) report() {
	p.pending = nil
	nt, ok := p.host.Platform().NavigationTiming()
	if !ok {
		logging.Debug("navigation timing unavailable", logging.F("component", "perf", "plugin", PageLoadName))
		return
	}
	p.host.Send(pageLoadFrom(nt))
}

func pageLoadFrom(nt platform.NavigationTiming) *record.PageLoad {
	return &record.PageLoad{
		LoadTime:             span(nt.LoadEventEnd, nt.FetchStart),
		DOMContentLoadedTime: span(nt.DOMContentLoadedEventEnd, nt.FetchStart),
		TTFB:                 span(nt.ResponseStart, nt.RequestStart),
		DNSTime:              span(nt.DomainLookupEnd, nt.DomainLookupStart),
		TCPTime:              span(nt.ConnectEnd, nt.ConnectStart),
		RedirectTime:         span(nt.RedirectEnd, nt.RedirectStart),
		RequestTime:          span(nt.ResponseEnd, nt.RequestStart),
		DOMParsingTime:       span(nt.DOMInteractive, nt.ResponseEnd),
		ResourceTime:         span(nt.LoadEventStart, nt.DOMContentLoadedEventEnd),
		NavigationType:       nt.Type,
		FromCache:            nt.TransferSize == 0 && nt.DecodedBodySize > 0,
	}
}

func (p *PageLoad) Destroy() {
	if !p.life.Deactivate() {
		return
	}
	if p.listener != nil {
		p.listener.Remove()
	}
	stop(p.pending)
}
