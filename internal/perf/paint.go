package perf

import (
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Paint reports a single paint mark and then stops observing.
type Paint struct {
	name     string
	mark     string
	host     plugin.Host
	life     plugin.Lifecycle
	observer platform.Observer
	done     bool
}

// NewFirstPaint is the factory for the first-paint plugin.
func NewFirstPaint(host plugin.Host) plugin.Plugin {
	return &Paint{name: FirstPaintName, mark: record.SubFirstPaint, host: host}
}

// NewFirstContentfulPaint is the factory for the first-contentful-paint plugin.
func NewFirstContentfulPaint(host plugin.Host) plugin.Plugin {
	return &Paint{name: FirstContentfulPaintName, mark: record.SubFirstContentfulPaint, host: host}
}

func (p *Paint) Name() string { return p.name }

func (p *Paint) Init(plugin.RawConfig) error {
	if err := p.life.Activate(); err != nil {
		return err
	}
	o, err := p.host.Platform().ObservePerformance(platform.EntryPaint, true, p.handle)
	if err != nil {
		return err
	}
	p.observer = o
	return nil
}

func (p *Paint) handle(entries []platform.PerformanceEntry) {
	if p.done || !p.life.Active() {
		return
	}
	for _, e := range entries {
		if e.Name != p.mark {
			continue
		}
		p.done = true
		disconnect(p.observer)
		p.host.Send(&record.Paint{Name: p.mark, StartTime: e.StartTime, Duration: e.Duration})
		return
	}
}

func (p *Paint) Destroy() {
	if !p.life.Deactivate() {
		return
	}
	disconnect(p.observer)
}
