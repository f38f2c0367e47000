package perf

import (
	"fmt"
	"strings"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Sampling schemes, as normalized viewport coordinates.
const (
	SampleLight  = "light"
	SampleNormal = "normal"
	SampleStrict = "strict"
)

var sampleSchemes = map[string][][2]float64{
	SampleLight: {
		{0.1, 0.1}, {0.9, 0.1}, {0.5, 0.5}, {0.1, 0.9}, {0.9, 0.9},
	},
	SampleNormal: {
		{0.1, 0.1}, {0.5, 0.1}, {0.9, 0.1},
		{0.1, 0.5}, {0.5, 0.5}, {0.9, 0.5},
		{0.1, 0.9}, {0.5, 0.9}, {0.9, 0.9},
	},
	SampleStrict: {
		{0, 0.1}, {0.1, 0.1}, {0.5, 0.1}, {0.9, 0.1}, {1.0, 0.1},
		{0.1, 0.5}, {0.5, 0.5}, {0.9, 0.5},
		{0, 0.9}, {0.1, 0.9}, {0.5, 0.9}, {0.9, 0.9}, {1.0, 0.9},
	},
}

// WhiteScreenOptions configures white-screen detection.
type WhiteScreenOptions struct {
	SampleMode    string   `yaml:"sampleMode"`
	CheckInterval int      `yaml:"checkInterval"`
	MaxCheckCount int      `yaml:"maxCheckCount"`
	Threshold     float64  `yaml:"threshold"`
	StartDelay    int      `yaml:"startDelay"`
	RootSelectors []string `yaml:"rootSelectors"`
}

// WhiteScreen polls a constellation of viewport points after load and
// reports when nearly all of them still hit nothing but the document root.
type WhiteScreen struct {
	host plugin.Host
	life plugin.Lifecycle
	opts WhiteScreenOptions

	points    [][2]float64
	listeners []platform.Listener
	delay     platform.Timer
	ticker    platform.Timer
	checks    int
	done      bool
}

// NewWhiteScreen is the factory for the white-screen plugin.
func NewWhiteScreen(host plugin.Host) plugin.Plugin {
	return &WhiteScreen{host: host, opts: WhiteScreenOptions{
		SampleMode:    SampleNormal,
		CheckInterval: 1000,
		MaxCheckCount: 5,
		Threshold:     0.95,
		StartDelay:    2000,
	}}
}

func (w *WhiteScreen) Name() string { return WhiteScreenName }

func (w *WhiteScreen) Init(cfg plugin.RawConfig) error {
	if err := w.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &w.opts); err != nil {
		return err
	}
	w.opts.SampleMode = strings.ToLower(w.opts.SampleMode)
	points, ok := sampleSchemes[w.opts.SampleMode]
	if !ok {
		return fmt.Errorf("unknown sample mode %q", w.opts.SampleMode)
	}
	w.points = points

	p := w.host.Platform()
	if p.ReadyState() == platform.ReadyComplete {
		w.start()
		return nil
	}
	w.listeners = append(w.listeners, p.Listen(platform.TargetWindow, platform.EventLoad, false, func(platform.Event) {
		removeAll(w.listeners)
		w.listeners = nil
		w.delay = p.AfterFunc(ms(w.opts.StartDelay), w.start)
	}))
	return nil
}

func (w *WhiteScreen) start() {
	if w.done || !w.life.Active() || w.ticker != nil {
		return
	}
	w.check()
	if w.done {
		return
	}
	w.ticker = w.host.Platform().Every(ms(w.opts.CheckInterval), w.check)
}

func (w *WhiteScreen) check() {
	if w.done {
		return
	}
	w.checks++
	p := w.host.Platform()
	vw, vh := p.Viewport()

	// Hidden pages and empty viewports are counted as non-white polls.
	if !p.Hidden() && vw > 0 && vh > 0 {
		empty := 0
		for _, pt := range w.points {
			if w.isEmpty(p.ElementFromPoint(vw*pt[0], vh*pt[1])) {
				empty++
			}
		}
		ratio := float64(empty) / float64(len(w.points))
		logging.Debug("white screen poll", logging.F(
			"component", "perf",
			"plugin", WhiteScreenName,
			"check", w.checks,
			"empty_points", empty,
			"ratio", ratio,
		))
		if ratio >= w.opts.Threshold {
			w.finish()
			w.host.Send(&record.WhiteScreen{
				IsWhiteScreen:  true,
				SampleMode:     w.opts.SampleMode,
				CheckCount:     w.checks,
				EmptyPoints:    empty,
				SamplePoints:   len(w.points),
				ViewportWidth:  vw,
				ViewportHeight: vh,
				URL:            p.URL(),
				UserAgent:      p.Environment().Browser.UserAgent,
				StartTime:      envinfo.Millis(p.Elapsed()),
			})
			return
		}
	}
	if w.checks >= w.opts.MaxCheckCount {
		w.finish()
	}
}

func (w *WhiteScreen) isEmpty(el *platform.Element) bool {
	if el == nil || el.IsDocumentRoot() {
		return true
	}
	for _, sel := range w.opts.RootSelectors {
		if el.Matches(sel) {
			return true
		}
	}
	return false
}

func (w *WhiteScreen) finish() {
	w.done = true
	stop(w.ticker)
	stop(w.delay)
	removeAll(w.listeners)
	w.ticker, w.delay, w.listeners = nil, nil, nil
}

// Checks returns the number of polls made so far.
func (w *WhiteScreen) Checks() int { return w.checks }

func (w *WhiteScreen) Destroy() {
	if !w.life.Deactivate() {
		return
	}
	w.finish()
}
