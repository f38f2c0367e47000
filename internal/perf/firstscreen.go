package perf

import (
	"time"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// FirstScreenOptions configures first-screen estimation. Times are in
// milliseconds.
type FirstScreenOptions struct {
	// StableTimeout is the quiet period after the last visible change.
	StableTimeout int `yaml:"domStableTimeout"`
	// MaxWaitTime caps observation from start.
	MaxWaitTime int `yaml:"maxWaitTime"`
	// CheckInterval is how often the stop conditions are evaluated.
	CheckInterval int `yaml:"checkInterval"`
	// MaxMutationCount ends observation after this many mutation batches.
	MaxMutationCount int `yaml:"maxMutationCount"`
}

// FirstScreen estimates when above-the-fold content stopped changing by
// watching DOM mutations that touch elements inside the initial viewport.
type FirstScreen struct {
	host plugin.Host
	life plugin.Lifecycle
	opts FirstScreenOptions

	observer  platform.Observer
	ticker    platform.Timer
	fallback  platform.Timer
	listeners []platform.Listener

	start      time.Duration
	loadedAt   time.Duration
	lastUpdate time.Duration
	lastVisual time.Duration
	updates    int
	visual     bool
	loaded     bool
	observing  bool
	reported   bool
}

// NewFirstScreen is the factory for the first-screen plugin.
func NewFirstScreen(host plugin.Host) plugin.Plugin {
	return &FirstScreen{host: host, opts: FirstScreenOptions{
		StableTimeout:    1000,
		MaxWaitTime:      10000,
		CheckInterval:    500,
		MaxMutationCount: 10,
	}}
}

func (f *FirstScreen) Name() string { return FirstScreenName }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (f *FirstScreen) Init(cfg plugin.RawConfig) error {
	if err := f.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &f.opts); err != nil {
		return err
	}
	p := f.host.Platform()
	f.start = p.Elapsed()

	switch p.ReadyState() {
	case platform.ReadyLoading:
		f.listeners = append(f.listeners, p.Listen(platform.TargetDocument, platform.EventDOMContentLoaded, false, func(platform.Event) {
			f.startObserving()
		}))
	default:
		f.startObserving()
	}

	if p.ReadyState() == platform.ReadyComplete {
		f.onLoad()
	} else {
		f.listeners = append(f.listeners, p.Listen(platform.TargetWindow, platform.EventLoad, false, func(platform.Event) {
			f.onLoad()
		}))
	}
	return nil
}

func (f *FirstScreen) onLoad() {
	if f.reported || f.loaded {
		return
	}
	p := f.host.Platform()
	f.loaded = true
	f.loadedAt = p.Elapsed()
	f.fallback = p.AfterFunc(ms(f.opts.StableTimeout), f.report)
}

func (f *FirstScreen) startObserving() {
	if f.observing || f.reported {
		return
	}
	p := f.host.Platform()
	o, err := p.ObserveMutations(f.handle)
	if err != nil {
		logging.Warn("mutation observer unavailable, relying on load fallback", logging.F(
			"component", "perf",
			"plugin", FirstScreenName,
			"error", err,
		))
		return
	}
	f.observer = o
	f.observing = true
	f.ticker = p.Every(ms(f.opts.CheckInterval), f.check)
}

func (f *FirstScreen) handle(records []platform.MutationRecord) {
	if f.reported {
		return
	}
	p := f.host.Platform()
	now := p.Elapsed()
	f.updates++
	f.lastUpdate = now
	for _, r := range records {
		if r.Type != platform.MutationChildList && r.Type != platform.MutationAttributes {
			continue
		}
		if f.touchesFirstScreen(r) {
			f.lastVisual = now
			f.visual = true
			break
		}
	}
}

func (f *FirstScreen) touchesFirstScreen(r platform.MutationRecord) bool {
	if f.visible(r.Target) {
		return true
	}
	for _, el := range r.AddedNodes {
		if f.visible(el) {
			return true
		}
	}
	return false
}

// visible reports whether el is rendered and intersects the viewport.
func (f *FirstScreen) visible(el *platform.Element) bool {
	if el == nil || el.Hidden {
		return false
	}
	vw, vh := f.host.Platform().Viewport()
	r := el.Rect
	return r.Width > 0 && r.Height > 0 && r.Top < vh && r.Left < vw
}

func (f *FirstScreen) check() {
	if f.reported {
		return
	}
	now := f.host.Platform().Elapsed()
	switch {
	case f.visual && now-f.lastVisual > ms(f.opts.StableTimeout):
	case now-f.start > ms(f.opts.MaxWaitTime):
	case f.updates >= f.opts.MaxMutationCount:
	default:
		return
	}
	f.report()
}

func (f *FirstScreen) report() {
	if f.reported || !f.life.Active() {
		return
	}
	f.reported = true
	f.teardown()

	now := f.host.Platform().Elapsed()
	var settled time.Duration
	switch {
	case f.visual:
		settled = f.lastVisual
	case f.updates > 0:
		settled = f.lastUpdate
	case f.loaded:
		settled = f.loadedAt
	default:
		settled = now
	}
	f.host.Send(&record.FirstScreen{
		StartTime:       envinfo.Millis(f.start),
		FirstScreenTime: envinfo.Millis(settled),
		Duration:        envinfo.Millis(settled - f.start),
		DOMUpdateCount:  f.updates,
	})
}

func (f *FirstScreen) teardown() {
	disconnect(f.observer)
	stop(f.ticker)
	stop(f.fallback)
	removeAll(f.listeners)
	f.observer, f.ticker, f.fallback, f.listeners = nil, nil, nil, nil
	f.observing = false
}

func (f *FirstScreen) Destroy() {
	if !f.life.Deactivate() {
		return
	}
	f.teardown()
}
