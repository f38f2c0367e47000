package perf

import (
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// LCP keeps the latest largest-contentful-paint candidate and reports it
// exactly once, when the page is first hidden, hidden for navigation or
// unloaded.
type LCP struct {
	host      plugin.Host
	life      plugin.Lifecycle
	observer  platform.Observer
	listeners []platform.Listener
	last      *platform.PerformanceEntry
	final     bool
}

// NewLCP is the factory for the largest-contentful-paint plugin.
func NewLCP(host plugin.Host) plugin.Plugin {
	return &LCP{host: host}
}

func (l *LCP) Name() string { return LargestContentfulPaintName }

func (l *LCP) Init(plugin.RawConfig) error {
	if err := l.life.Activate(); err != nil {
		return err
	}
	p := l.host.Platform()
	o, err := p.ObservePerformance(platform.EntryLCP, true, l.handle)
	if err != nil {
		return err
	}
	l.observer = o
	finalize := func(platform.Event) { l.finalize() }
	for _, ev := range []string{platform.EventVisibilityChange, platform.EventPageHide, platform.EventBeforeUnload} {
		l.listeners = append(l.listeners, p.Listen(platform.TargetWindow, ev, false, finalize))
	}
	return nil
}

func (l *LCP) handle(entries []platform.PerformanceEntry) {
	if l.final || len(entries) == 0 {
		return
	}
	last := entries[len(entries)-1]
	l.last = &last
}

func (l *LCP) finalize() {
	if l.final || !l.life.Active() {
		return
	}
	l.final = true
	disconnect(l.observer)
	removeAll(l.listeners)
	l.listeners = nil
	if l.last == nil {
		return
	}
	rep := &record.LargestContentfulPaint{
		Name:      l.last.Name,
		StartTime: l.last.StartTime,
		Duration:  l.last.Duration,
		Size:      l.last.Size,
		EntryType: l.last.EntryType,
		URL:       l.last.URL,
	}
	if el := l.last.Element; el != nil {
		rep.Element = el.Selector()
		rep.OuterHTML = el.OuterHTML
	}
	l.host.Send(rep)
}

func (l *LCP) Destroy() {
	if !l.life.Deactivate() {
		return
	}
	l.final = true
	disconnect(l.observer)
	removeAll(l.listeners)
	l.listeners = nil
}
