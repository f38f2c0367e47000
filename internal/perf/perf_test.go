package perf

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/plugin/plugintest"
	"github.com/szibis/pagewatch/internal/record"
)

func initPlugin(t *testing.T, p plugin.Plugin, cfg plugin.RawConfig) {
	t.Helper()
	if err := p.Init(cfg); err != nil {
		t.Fatalf("%s Init: %v", p.Name(), err)
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		end, start, want float64
	}{
		{100, 40, 60},
		{0, 40, 0},
		{30, 40, 0},
		{40, 40, 0},
		{50, 0, 50},
	}
	for _, tt := range tests {
		if got := span(tt.end, tt.start); got != tt.want {
			t.Errorf("span(%v, %v) = %v, want %v", tt.end, tt.start, got, tt.want)
		}
	}
}

func TestPageLoad(t *testing.T) {
	h := plugintest.New()
	h.P.SetNavigationTiming(platform.NavigationTiming{
		Type:                     "navigate",
		FetchStart:               10,
		DomainLookupStart:        12,
		DomainLookupEnd:          20,
		ConnectStart:             20,
		ConnectEnd:               45,
		RequestStart:             50,
		ResponseStart:            90,
		ResponseEnd:              120,
		DOMInteractive:           300,
		DOMContentLoadedEventEnd: 350,
		LoadEventStart:           800,
		LoadEventEnd:             810,
		TransferSize:             0,
		DecodedBodySize:          2048,
	})
	p := NewPageLoad(h)
	initPlugin(t, p, nil)

	h.P.Dispatch(platform.TargetWindow, &platform.PageShowEvent{})
	if len(h.Sent()) != 0 {
		t.Fatal("page load reported before the next turn")
	}
	h.P.Advance(0)

	got := h.SentOf(record.TypePerformance, record.SubPageLoad)
	if len(got) != 1 {
		t.Fatalf("page load records = %d", len(got))
	}
	pl := got[0].Payload.(*record.PageLoad)
	want := record.PageLoad{
		LoadTime:             800,
		DOMContentLoadedTime: 340,
		TTFB:                 40,
		DNSTime:              8,
		TCPTime:              25,
		RequestTime:          70,
		DOMParsingTime:       180,
		ResourceTime:         450,
		NavigationType:       "navigate",
		FromCache:            true,
	}
	if *pl != want {
		t.Errorf("page load = %+v, want %+v", *pl, want)
	}

	p.Destroy()
	h.P.Dispatch(platform.TargetWindow, &platform.PageShowEvent{})
	h.P.Advance(0)
	if len(h.Sent()) != 1 {
		t.Error("report after Destroy")
	}
}

func TestPageLoadWithoutNavigationTiming(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewPageLoad(h), nil)
	h.P.Dispatch(platform.TargetWindow, &platform.PageShowEvent{})
	h.P.Advance(0)
	if len(h.Sent()) != 0 {
		t.Errorf("records = %d, want none", len(h.Sent()))
	}
}

func TestResourceLoadBuffered(t *testing.T) {
	h := plugintest.New()
	h.P.EmitPerformance(platform.EntryResource,
		platform.PerformanceEntry{
			Name: "https://cdn.test/app.js", EntryType: platform.EntryResource, StartTime: 100, Duration: 80,
			Resource: &platform.ResourceTiming{
				InitiatorType:     "script",
				DomainLookupStart: 105, DomainLookupEnd: 110,
				ConnectStart: 110, ConnectEnd: 130,
				RequestStart: 131, ResponseStart: 160, ResponseEnd: 180,
				TransferSize: 900, EncodedBodySize: 800, DecodedBodySize: 2400,
			},
		},
		platform.PerformanceEntry{Name: "no timing", EntryType: platform.EntryResource},
	)
	p := NewResourceLoad(h)
	initPlugin(t, p, nil)
	h.P.Advance(0)

	got := h.SentOf(record.TypePerformance, record.SubResource)
	if len(got) != 1 {
		t.Fatalf("resource records = %d", len(got))
	}
	rt := got[0].Payload.(*record.ResourceTiming)
	if rt.Name != "https://cdn.test/app.js" || rt.InitiatorType != "script" {
		t.Errorf("resource = %+v", rt)
	}
	if rt.DNS != 5 || rt.TCP != 20 || rt.Request != 29 || rt.Response != 20 || rt.TTFB != 60 {
		t.Errorf("phases = dns %v tcp %v req %v resp %v ttfb %v", rt.DNS, rt.TCP, rt.Request, rt.Response, rt.TTFB)
	}
	if rt.FromCache {
		t.Error("transferred resource marked cached")
	}

	p.Destroy()
	if h.P.ActiveObservers() != 0 {
		t.Errorf("observers after Destroy = %d", h.P.ActiveObservers())
	}
}

func TestResourceLoadUnsupported(t *testing.T) {
	h := plugintest.New()
	h.P.Unsupported(platform.EntryResource)
	if err := NewResourceLoad(h).Init(nil); err == nil {
		t.Fatal("Init succeeded without a resource observer")
	}
}

func TestPaintReportsOnce(t *testing.T) {
	h := plugintest.New()
	h.P.EmitPerformance(platform.EntryPaint,
		platform.PerformanceEntry{Name: record.SubFirstPaint, EntryType: platform.EntryPaint, StartTime: 120},
		platform.PerformanceEntry{Name: record.SubFirstContentfulPaint, EntryType: platform.EntryPaint, StartTime: 180},
	)
	fp, fcp := NewFirstPaint(h), NewFirstContentfulPaint(h)
	initPlugin(t, fp, nil)
	initPlugin(t, fcp, nil)
	h.P.Advance(0)

	h.P.EmitPerformance(platform.EntryPaint,
		platform.PerformanceEntry{Name: record.SubFirstContentfulPaint, EntryType: platform.EntryPaint, StartTime: 999},
	)

	for _, tt := range []struct {
		sub   string
		start float64
	}{
		{record.SubFirstPaint, 120},
		{record.SubFirstContentfulPaint, 180},
	} {
		got := h.SentOf(record.TypePerformance, tt.sub)
		if len(got) != 1 {
			t.Fatalf("%s records = %d", tt.sub, len(got))
		}
		if p := got[0].Payload.(*record.Paint); p.StartTime != tt.start {
			t.Errorf("%s start = %v, want %v", tt.sub, p.StartTime, tt.start)
		}
	}
	if h.P.ActiveObservers() != 0 {
		t.Errorf("paint observers still connected: %d", h.P.ActiveObservers())
	}
}

func TestLCPFinalizesOnce(t *testing.T) {
	h := plugintest.New()
	p := NewLCP(h)
	initPlugin(t, p, nil)

	h.P.EmitPerformance(platform.EntryLCP, platform.PerformanceEntry{
		EntryType: platform.EntryLCP, StartTime: 300, Size: 1000,
		Element: &platform.Element{Tag: "H1", Classes: []string{"title"}},
	})
	h.P.EmitPerformance(platform.EntryLCP, platform.PerformanceEntry{
		Name: "image", EntryType: platform.EntryLCP, StartTime: 900, Duration: 12, Size: 50000, URL: "https://cdn.test/hero.jpg",
		Element: &platform.Element{Tag: "IMG", ID: "hero", OuterHTML: `<img id="hero">`},
	})

	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventVisibilityChange})
	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventPageHide})
	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventBeforeUnload})

	got := h.SentOf(record.TypePerformance, record.SubLCP)
	if len(got) != 1 {
		t.Fatalf("lcp records = %d, want 1", len(got))
	}
	lcp := got[0].Payload.(*record.LargestContentfulPaint)
	if lcp.StartTime != 900 || lcp.Size != 50000 || lcp.Element != "img#hero" || lcp.OuterHTML != `<img id="hero">` {
		t.Errorf("lcp = %+v", lcp)
	}
	if lcp.Name != "image" || lcp.Duration != 12 || lcp.EntryType != platform.EntryLCP {
		t.Errorf("lcp entry fields = %q %v %q", lcp.Name, lcp.Duration, lcp.EntryType)
	}
	wire, err := json.Marshal(lcp)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"name":"image"`, `"duration":12`, `"entryType":"largest-contentful-paint"`} {
		if !strings.Contains(string(wire), key) {
			t.Errorf("lcp wire form %s lacks %s", wire, key)
		}
	}
	if h.P.ActiveListeners() != 0 || h.P.ActiveObservers() != 0 {
		t.Errorf("lcp left listeners=%d observers=%d", h.P.ActiveListeners(), h.P.ActiveObservers())
	}
}

func TestLCPWithoutEntries(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewLCP(h), nil)
	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventPageHide})
	if len(h.Sent()) != 0 {
		t.Errorf("records = %d, want none", len(h.Sent()))
	}
}

func TestFirstScreenZeroMutations(t *testing.T) {
	h := plugintest.New()
	p := NewFirstScreen(h)
	initPlugin(t, p, nil)

	h.P.Advance(999 * time.Millisecond)
	if len(h.Sent()) != 0 {
		t.Fatal("reported before the load fallback")
	}
	h.P.Advance(time.Millisecond)

	got := h.SentOf(record.TypePerformance, record.SubFirstScreen)
	if len(got) != 1 {
		t.Fatalf("first screen records = %d", len(got))
	}
	fs := got[0].Payload.(*record.FirstScreen)
	if fs.FirstScreenTime != 0 || fs.DOMUpdateCount != 0 {
		t.Errorf("first screen = %+v", fs)
	}
	if h.P.PendingTimers() != 0 || h.P.ActiveObservers() != 0 {
		t.Errorf("first screen left timers=%d observers=%d", h.P.PendingTimers(), h.P.ActiveObservers())
	}
}

func TestFirstScreenLastVisibleChange(t *testing.T) {
	h := plugintest.New()
	h.P.SetReadyState(platform.ReadyInteractive)
	p := NewFirstScreen(h)
	initPlugin(t, p, nil)

	visible := &platform.Element{Tag: "div", Rect: platform.Rect{Top: 100, Left: 0, Width: 400, Height: 200}}
	below := &platform.Element{Tag: "div", Rect: platform.Rect{Top: 2000, Left: 0, Width: 400, Height: 200}}
	hidden := &platform.Element{Tag: "div", Hidden: true, Rect: platform.Rect{Width: 10, Height: 10}}

	h.P.Advance(200 * time.Millisecond)
	h.P.Mutate(platform.MutationRecord{Type: platform.MutationChildList, AddedNodes: []*platform.Element{visible}})
	h.P.Advance(200 * time.Millisecond)
	h.P.Mutate(
		platform.MutationRecord{Type: platform.MutationChildList, AddedNodes: []*platform.Element{below}},
		platform.MutationRecord{Type: platform.MutationAttributes, Target: hidden},
	)
	h.P.Advance(time.Second)
	if len(h.Sent()) != 0 {
		t.Fatal("reported inside the stable window")
	}
	h.P.Advance(500 * time.Millisecond)

	got := h.SentOf(record.TypePerformance, record.SubFirstScreen)
	if len(got) != 1 {
		t.Fatalf("first screen records = %d", len(got))
	}
	fs := got[0].Payload.(*record.FirstScreen)
	if fs.FirstScreenTime != 200 || fs.DOMUpdateCount != 2 {
		t.Errorf("first screen = %+v", fs)
	}

	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventLoad})
	h.P.Advance(5 * time.Second)
	if len(h.SentOf(record.TypePerformance, record.SubFirstScreen)) != 1 {
		t.Error("first screen reported twice")
	}
}

func TestFirstScreenMutationCeiling(t *testing.T) {
	h := plugintest.New()
	h.P.SetReadyState(platform.ReadyInteractive)
	initPlugin(t, NewFirstScreen(h), plugin.RawConfig{"maxMutationCount": 3})

	h.P.Advance(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		h.P.Mutate(platform.MutationRecord{Type: platform.MutationCharacterData})
	}
	h.P.Advance(400 * time.Millisecond)

	got := h.SentOf(record.TypePerformance, record.SubFirstScreen)
	if len(got) != 1 {
		t.Fatalf("first screen records = %d", len(got))
	}
	if fs := got[0].Payload.(*record.FirstScreen); fs.FirstScreenTime != 100 || fs.DOMUpdateCount != 3 {
		t.Errorf("first screen = %+v", fs)
	}
}

func TestFirstScreenDestroy(t *testing.T) {
	h := plugintest.New()
	p := NewFirstScreen(h)
	initPlugin(t, p, nil)
	p.Destroy()
	h.P.Advance(20 * time.Second)
	if len(h.Sent()) != 0 {
		t.Error("report after Destroy")
	}
	if h.P.PendingTimers() != 0 || h.P.ActiveObservers() != 0 || h.P.ActiveListeners() != 0 {
		t.Error("Destroy left timers, observers or listeners behind")
	}
}

func blank(float64, float64) *platform.Element { return nil }

func populated(x, y float64) *platform.Element {
	return &platform.Element{Tag: "div", Classes: []string{"card"}}
}

func TestWhiteScreenReportsWithinOnePoll(t *testing.T) {
	h := plugintest.New()
	h.P.SetElementAt(blank)
	p := NewWhiteScreen(h)
	initPlugin(t, p, nil)

	got := h.SentOf(record.TypePerformance, record.SubWhiteScreen)
	if len(got) != 1 {
		t.Fatalf("white screen records = %d", len(got))
	}
	ws := got[0].Payload.(*record.WhiteScreen)
	if !ws.IsWhiteScreen || ws.CheckCount != 1 || ws.EmptyPoints != 9 || ws.SamplePoints != 9 || ws.SampleMode != SampleNormal {
		t.Errorf("white screen = %+v", ws)
	}
	if ws.ViewportWidth != 1280 || ws.ViewportHeight != 720 {
		t.Errorf("viewport = %vx%v", ws.ViewportWidth, ws.ViewportHeight)
	}
	h.P.Advance(10 * time.Second)
	if len(h.Sent()) != 1 || h.P.PendingTimers() != 0 {
		t.Error("polling continued after a positive result")
	}
}

func TestWhiteScreenNeverOnPopulatedPage(t *testing.T) {
	h := plugintest.New()
	h.P.SetElementAt(populated)
	p := NewWhiteScreen(h)
	initPlugin(t, p, nil)

	h.P.Advance(30 * time.Second)
	if len(h.Sent()) != 0 {
		t.Fatalf("records = %d, want none", len(h.Sent()))
	}
	if n := p.(*WhiteScreen).Checks(); n != 5 {
		t.Errorf("checks = %d, want 5", n)
	}
	if h.P.PendingTimers() != 0 {
		t.Error("polling continued past the maximum")
	}
}

func TestWhiteScreenSchemesAndRoots(t *testing.T) {
	tests := []struct {
		name   string
		cfg    plugin.RawConfig
		at     func(x, y float64) *platform.Element
		white  bool
		points int
	}{
		{"light blank", plugin.RawConfig{"sampleMode": "light"}, blank, true, 5},
		{"strict blank", plugin.RawConfig{"sampleMode": "STRICT"}, blank, true, 13},
		{"body only", nil, func(x, y float64) *platform.Element { return &platform.Element{Tag: "BODY"} }, true, 9},
		{"root container", plugin.RawConfig{"rootSelectors": []any{"#app"}},
			func(x, y float64) *platform.Element { return &platform.Element{Tag: "div", ID: "app"} }, true, 9},
		{"root container unconfigured", nil,
			func(x, y float64) *platform.Element { return &platform.Element{Tag: "div", ID: "app"} }, false, 9},
		{"half rendered", nil, func(x, y float64) *platform.Element {
			if y < 360 {
				return nil
			}
			return &platform.Element{Tag: "p"}
		}, false, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.New()
			h.P.SetElementAt(tt.at)
			initPlugin(t, NewWhiteScreen(h), tt.cfg)
			h.P.Advance(10 * time.Second)
			got := h.SentOf(record.TypePerformance, record.SubWhiteScreen)
			if (len(got) == 1) != tt.white {
				t.Fatalf("white records = %d, want white=%v", len(got), tt.white)
			}
			if tt.white {
				if ws := got[0].Payload.(*record.WhiteScreen); ws.SamplePoints != tt.points {
					t.Errorf("sample points = %d, want %d", ws.SamplePoints, tt.points)
				}
			}
		})
	}
}

func TestWhiteScreenSkipsHiddenAndZeroViewport(t *testing.T) {
	for _, tt := range []struct {
		name  string
		setup func(h *plugintest.Host)
	}{
		{"hidden", func(h *plugintest.Host) { h.P.SetHidden(true) }},
		{"zero viewport", func(h *plugintest.Host) { h.P.SetViewport(0, 0) }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := plugintest.New()
			h.P.SetElementAt(blank)
			tt.setup(h)
			p := NewWhiteScreen(h)
			initPlugin(t, p, nil)
			h.P.Advance(10 * time.Second)
			if len(h.Sent()) != 0 {
				t.Errorf("records = %d, want none", len(h.Sent()))
			}
			if n := p.(*WhiteScreen).Checks(); n != 5 {
				t.Errorf("checks = %d, want 5", n)
			}
		})
	}
}

func TestWhiteScreenWaitsForLoad(t *testing.T) {
	h := plugintest.New()
	h.P.SetReadyState(platform.ReadyLoading)
	h.P.SetElementAt(blank)
	initPlugin(t, NewWhiteScreen(h), nil)

	h.P.Advance(5 * time.Second)
	if len(h.Sent()) != 0 {
		t.Fatal("polled before load")
	}
	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventLoad})
	h.P.Advance(1999 * time.Millisecond)
	if len(h.Sent()) != 0 {
		t.Fatal("polled inside the start delay")
	}
	h.P.Advance(time.Millisecond)
	if len(h.SentOf(record.TypePerformance, record.SubWhiteScreen)) != 1 {
		t.Error("no report after the start delay")
	}
}

func TestWhiteScreenUnknownMode(t *testing.T) {
	h := plugintest.New()
	if err := NewWhiteScreen(h).Init(plugin.RawConfig{"sampleMode": "dense"}); err == nil {
		t.Fatal("Init accepted an unknown sample mode")
	}
}

func longTask(start, dur float64) platform.PerformanceEntry {
	return platform.PerformanceEntry{Name: "self", EntryType: platform.EntryLongTask, StartTime: start, Duration: dur}
}

func TestLongTaskSummary(t *testing.T) {
	h := plugintest.New()
	p := NewLongTask(h)
	initPlugin(t, p, nil)

	task := longTask(200, 120)
	task.Attribution = []platform.TaskAttribution{{Name: "unknown", ContainerType: "iframe", ContainerSrc: "https://ads.test/"}}
	h.P.EmitPerformance(platform.EntryLongTask, longTask(100, 60), longTask(150, 30))
	h.P.EmitPerformance(platform.EntryLongTask, task, longTask(400, 80))

	h.P.Advance(4999 * time.Millisecond)
	if len(h.Sent()) != 0 {
		t.Fatal("summary before the window closed")
	}
	h.P.Advance(time.Millisecond)

	got := h.SentOf(record.TypePerformance, record.SubLongTaskSummary)
	if len(got) != 1 {
		t.Fatalf("summaries = %d", len(got))
	}
	s := got[0].Payload.(*record.LongTaskSummary)
	if s.Count != 3 || s.MaxDuration != 120 || s.MinDuration != 60 || s.TotalDuration != 260 {
		t.Errorf("summary = %+v", s)
	}
	if s.TimeRange != [2]float64{100, 480} {
		t.Errorf("time range = %v", s.TimeRange)
	}
	if len(s.Tasks) != 3 || s.Tasks[1].Attribution == nil || s.Tasks[1].Attribution.ContainerType != "iframe" {
		t.Errorf("tasks = %+v", s.Tasks)
	}
}

func TestLongTaskReportAll(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewLongTask(h), plugin.RawConfig{"reportAllTasks": true, "aggregationTime": 100})
	h.P.EmitPerformance(platform.EntryLongTask, longTask(0, 10), longTask(20, 5))
	h.P.Advance(100 * time.Millisecond)
	got := h.SentOf(record.TypePerformance, record.SubLongTaskSummary)
	if len(got) != 1 || got[0].Payload.(*record.LongTaskSummary).Count != 2 {
		t.Fatalf("summaries = %+v", got)
	}
}

func TestLongTaskCapsTasksPerSummary(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewLongTask(h), nil)
	for i := 0; i < 12; i++ {
		h.P.EmitPerformance(platform.EntryLongTask, longTask(float64(i*100), 55))
	}
	h.P.Advance(5 * time.Second)
	s := h.SentOf(record.TypePerformance, record.SubLongTaskSummary)[0].Payload.(*record.LongTaskSummary)
	if s.Count != 12 || len(s.Tasks) != maxSummaryTasks {
		t.Errorf("count = %d tasks = %d", s.Count, len(s.Tasks))
	}
}

func TestLongTaskFlushOnTeardown(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewLongTask(h), nil)
	h.P.EmitPerformance(platform.EntryLongTask, longTask(10, 70))
	h.P.Dispatch(platform.TargetWindow, &platform.LifecycleEvent{Type: platform.EventBeforeUnload})
	if n := len(h.SentOf(record.TypePerformance, record.SubLongTaskSummary)); n != 1 {
		t.Fatalf("summaries after beforeunload = %d", n)
	}
	h.P.Advance(10 * time.Second)
	if len(h.Sent()) != 1 {
		t.Error("window reported twice")
	}

	h2 := plugintest.New()
	p := NewLongTask(h2)
	initPlugin(t, p, nil)
	h2.P.EmitPerformance(platform.EntryLongTask, longTask(10, 70))
	p.Destroy()
	if n := len(h2.SentOf(record.TypePerformance, record.SubLongTaskSummary)); n != 1 {
		t.Fatalf("summaries after Destroy = %d", n)
	}
	h2.P.EmitPerformance(platform.EntryLongTask, longTask(500, 70))
	h2.P.Advance(10 * time.Second)
	if len(h2.Sent()) != 1 || h2.P.PendingTimers() != 0 || h2.P.ActiveObservers() != 0 {
		t.Error("long task plugin active after Destroy")
	}
}

func TestLongTaskStopsAtReportLimit(t *testing.T) {
	h := plugintest.New()
	initPlugin(t, NewLongTask(h), plugin.RawConfig{"maxReportCount": 2, "aggregationTime": 1000})
	for i := 0; i < 4; i++ {
		h.P.EmitPerformance(platform.EntryLongTask, longTask(float64(i*1000), 90))
		h.P.Advance(time.Second)
	}
	if n := len(h.SentOf(record.TypePerformance, record.SubLongTaskSummary)); n != 2 {
		t.Errorf("summaries = %d, want 2", n)
	}
	if h.P.ActiveObservers() != 0 || h.P.ActiveListeners() != 0 {
		t.Error("observation continued past the report limit")
	}
}
