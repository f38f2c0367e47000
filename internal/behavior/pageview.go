package behavior

import (
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// PageView reports one view per load and one per restore from the
// back/forward cache.
type PageView struct {
	host      plugin.Host
	life      plugin.Lifecycle
	listeners []platform.Listener
}

// NewPageView is the factory for the page view plugin.
func NewPageView(host plugin.Host) plugin.Plugin {
	return &PageView{host: host}
}

func (v *PageView) Name() string { return PageViewName }

func (v *PageView) Init(plugin.RawConfig) error {
	if err := v.life.Activate(); err != nil {
		return err
	}
	p := v.host.Platform()
	if p.ReadyState() == platform.ReadyComplete {
		v.record(false)
	} else {
		v.listeners = append(v.listeners, p.Listen(platform.TargetWindow, platform.EventLoad, false, func(platform.Event) {
			v.record(false)
		}))
	}
	v.listeners = append(v.listeners, p.Listen(platform.TargetWindow, platform.EventPageShow, false, func(ev platform.Event) {
		if ps, ok := ev.(*platform.PageShowEvent); ok && ps.Persisted {
			v.record(true)
		}
	}))
	return nil
}

func (v *PageView) record(persisted bool) {
	if !v.life.Active() {
		return
	}
	p := v.host.Platform()
	v.host.Send(&record.PageView{
		PageURL:   p.URL(),
		Referrer:  p.Referrer(),
		Title:     p.Title(),
		Persisted: persisted,
		StartTime: envinfo.Millis(p.Elapsed()),
	})
}

func (v *PageView) Destroy() {
	if !v.life.Deactivate() {
		return
	}
	removeAll(v.listeners)
	v.listeners = nil
}
