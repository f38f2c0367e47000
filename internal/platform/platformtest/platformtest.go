// Package platformtest provides a deterministic in-memory platform with a
// manual clock for exercising plugins and the monitor.
package platformtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
)

// DefaultUserAgent is the user agent reported by New.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Platform is a fake page. All callbacks run synchronously on the goroutine
// that calls Advance, Dispatch, EmitPerformance or Mutate.
type Platform struct {
	mu sync.Mutex

	origin  time.Time
	elapsed time.Duration
	seq     int
	timers  []*fakeTimer

	listeners    []*fakeListener
	perf         map[string][]*perfObserver
	perfBuffer   map[string][]platform.PerformanceEntry
	mutations    []*mutationObserver
	unsupported  map[string]bool
	mutationsOff bool

	url        string
	referrer   string
	title      string
	ready      platform.ReadyState
	hidden     bool
	width      float64
	height     float64
	env        envinfo.Environment
	navigation *platform.NavigationTiming
	elementAt  func(x, y float64) *platform.Element

	fetch    *platform.Primitive[platform.RequestFunc]
	xhr      *platform.Primitive[platform.RequestFunc]
	push     *platform.Primitive[platform.NavigateFunc]
	replace  *platform.Primitive[platform.NavigateFunc]
	boundary *platform.Primitive[platform.BoundaryFunc]
	storage  *Storage

	// Responses answers requests made through the base Fetch and XHR
	// primitives. The default replies 200 with an empty body.
	Responses func(req *platform.Request) (*platform.Response, error)
}

// New returns a fully loaded, visible 1280x720 page at https://example.test/.
func New() *Platform {
	p := &Platform{
		origin:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		perf:        make(map[string][]*perfObserver),
		perfBuffer:  make(map[string][]platform.PerformanceEntry),
		unsupported: make(map[string]bool),
		url:         "https://example.test/",
		title:       "Example",
		ready:       platform.ReadyComplete,
		width:       1280,
		height:      720,
		storage:     NewStorage(),
	}
	p.env = envinfo.Environment{
		Browser: envinfo.ParseUserAgent(DefaultUserAgent),
		Device: envinfo.Device{
			ScreenWidth: 1920, ScreenHeight: 1080, PixelRatio: 1,
			Platform: "Linux x86_64", Language: "en-US",
		},
	}
	request := func(_ context.Context, req *platform.Request) (*platform.Response, error) {
		if p.Responses != nil {
			return p.Responses(req)
		}
		return &platform.Response{Status: 200}, nil
	}
	p.fetch = platform.NewPrimitive[platform.RequestFunc](request)
	p.xhr = platform.NewPrimitive[platform.RequestFunc](request)
	p.push = platform.NewPrimitive[platform.NavigateFunc](func(_ any, _ string, url string) { p.SetURL(url) })
	p.replace = platform.NewPrimitive[platform.NavigateFunc](func(_ any, _ string, url string) { p.SetURL(url) })
	p.boundary = platform.NewPrimitive[platform.BoundaryFunc](nil)
	return p
}

// Scheduler.

func (p *Platform) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.origin.Add(p.elapsed)
}

func (p *Platform) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsed
}

type fakeTimer struct {
	p        *Platform
	seq      int
	when     time.Duration
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (p *Platform) schedule(d, interval time.Duration, f func()) *fakeTimer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d < 0 {
		d = 0
	}
	p.seq++
	t := &fakeTimer{p: p, seq: p.seq, when: p.elapsed + d, interval: interval, fn: f}
	p.timers = append(p.timers, t)
	return t
}

func (p *Platform) AfterFunc(d time.Duration, f func()) platform.Timer {
	return p.schedule(d, 0, f)
}

func (p *Platform) Every(d time.Duration, f func()) platform.Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return p.schedule(d, d, f)
}

// next removes stopped timers and returns the earliest timer due at or
// before limit.
func (p *Platform) next(limit time.Duration) *fakeTimer {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.timers[:0]
	for _, t := range p.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	p.timers = live
	sort.SliceStable(p.timers, func(i, j int) bool {
		if p.timers[i].when != p.timers[j].when {
			return p.timers[i].when < p.timers[j].when
		}
		return p.timers[i].seq < p.timers[j].seq
	})
	if len(p.timers) == 0 || p.timers[0].when > limit {
		return nil
	}
	t := p.timers[0]
	p.elapsed = t.when
	if t.interval > 0 {
		p.seq++
		t.seq = p.seq
		t.when += t.interval
	} else {
		t.stopped = true
	}
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
func (p *Platform) Advance(d time.Duration) {
	p.mu.Lock()
	limit := p.elapsed + d
	p.mu.Unlock()
	for {
		t := p.next(limit)
		if t == nil {
			break
		}
		t.fn()
	}
	p.mu.Lock()
	p.elapsed = limit
	p.mu.Unlock()
}

// PendingTimers counts timers that have not fired or been stopped.
func (p *Platform) PendingTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Page state.

func (p *Platform) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// SetURL changes the location without dispatching any event.
func (p *Platform) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Platform) Referrer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrer
}

// SetReferrer sets document.referrer.
func (p *Platform) SetReferrer(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.referrer = ref
}

func (p *Platform) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *Platform) ReadyState() platform.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// SetReadyState changes the document state without dispatching events.
func (p *Platform) SetReadyState(s platform.ReadyState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = s
}

func (p *Platform) Hidden() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hidden
}

// SetHidden changes document visibility without dispatching events.
func (p *Platform) SetHidden(hidden bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden = hidden
}

func (p *Platform) Viewport() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// SetViewport resizes the viewport.
func (p *Platform) SetViewport(w, h float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = w, h
}

func (p *Platform) Environment() envinfo.Environment {
	p.mu.Lock()
	defer p.mu.Unlock()
	env := p.env
	env.Device.ViewportWidth, env.Device.ViewportHeight = int(p.width), int(p.height)
	return env
}

func (p *Platform) ElementFromPoint(x, y float64) *platform.Element {
	p.mu.Lock()
	fn := p.elementAt
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(x, y)
}

// SetElementAt installs the hit-testing function used by ElementFromPoint.
func (p *Platform) SetElementAt(fn func(x, y float64) *platform.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elementAt = fn
}

func (p *Platform) NavigationTiming() (platform.NavigationTiming, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigation == nil {
		return platform.NavigationTiming{}, false
	}
	return *p.navigation, true
}

// SetNavigationTiming provides the navigation entry.
func (p *Platform) SetNavigationTiming(nt platform.NavigationTiming) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigation = &nt
}

// Events.

type fakeListener struct {
	p       *Platform
	target  platform.Target
	event   string
	capture bool
	h       platform.Handler
	removed bool
}

func (l *fakeListener) Remove() {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	l.removed = true
}

func (p *Platform) Listen(target platform.Target, event string, capture bool, h platform.Handler) platform.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := &fakeListener{p: p, target: target, event: event, capture: capture, h: h}
	p.listeners = append(p.listeners, l)
	return l
}

// Dispatch delivers ev to listeners on target: capturing listeners first,
// then bubbling ones when the event bubbles.
func (p *Platform) Dispatch(target platform.Target, ev platform.Event) {
	p.mu.Lock()
	var capturing, bubbling []*fakeListener
	for _, l := range p.listeners {
		if l.removed || l.target != target || l.event != ev.Name() {
			continue
		}
		if l.capture {
			capturing = append(capturing, l)
		} else {
			bubbling = append(bubbling, l)
		}
	}
	p.mu.Unlock()

	run := func(ls []*fakeListener) {
		for _, l := range ls {
			p.mu.Lock()
			removed := l.removed
			p.mu.Unlock()
			if !removed {
				l.h(ev)
			}
		}
	}
	run(capturing)
	if platform.Bubbling(ev) {
		run(bubbling)
	}
}

// ActiveListeners counts listeners that have not been removed.
func (p *Platform) ActiveListeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, l := range p.listeners {
		if !l.removed {
			n++
		}
	}
	return n
}

// Observers.

type perfObserver struct {
	p            *Platform
	fn           func([]platform.PerformanceEntry)
	disconnected bool
}

func (o *perfObserver) Disconnect() {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	o.disconnected = true
}

// Unsupported makes ObservePerformance fail for the entry type.
func (p *Platform) Unsupported(entryType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported[entryType] = true
}

// DisableMutationObserver makes ObserveMutations fail.
func (p *Platform) DisableMutationObserver() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutationsOff = true
}

// ObservePerformance registers fn for entryType. Buffered entries are
// delivered on the next Advance, as a browser delivers them asynchronously.
func (p *Platform) ObservePerformance(entryType string, buffered bool, fn func([]platform.PerformanceEntry)) (platform.Observer, error) {
	p.mu.Lock()
	if p.unsupported[entryType] {
		p.mu.Unlock()
		return nil, platform.ErrUnsupported
	}
	o := &perfObserver{p: p, fn: fn}
	p.perf[entryType] = append(p.perf[entryType], o)
	backlog := append([]platform.PerformanceEntry(nil), p.perfBuffer[entryType]...)
	p.mu.Unlock()

	if buffered && len(backlog) > 0 {
		p.AfterFunc(0, func() {
			p.mu.Lock()
			gone := o.disconnected
			p.mu.Unlock()
			if !gone {
				fn(backlog)
			}
		})
	}
	return o, nil
}

// EmitPerformance records entries in the timeline buffer and delivers them to
// connected observers of entryType.
func (p *Platform) EmitPerformance(entryType string, entries ...platform.PerformanceEntry) {
	p.mu.Lock()
	p.perfBuffer[entryType] = append(p.perfBuffer[entryType], entries...)
	var targets []*perfObserver
	for _, o := range p.perf[entryType] {
		if !o.disconnected {
			targets = append(targets, o)
		}
	}
	p.mu.Unlock()
	for _, o := range targets {
		o.fn(entries)
	}
}

type mutationObserver struct {
	p            *Platform
	fn           func([]platform.MutationRecord)
	disconnected bool
}

func (o *mutationObserver) Disconnect() {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	o.disconnected = true
}

func (p *Platform) ObserveMutations(fn func([]platform.MutationRecord)) (platform.Observer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mutationsOff {
		return nil, platform.ErrUnsupported
	}
	o := &mutationObserver{p: p, fn: fn}
	p.mutations = append(p.mutations, o)
	return o, nil
}

// Mutate delivers records to connected mutation observers.
func (p *Platform) Mutate(records ...platform.MutationRecord) {
	p.mu.Lock()
	var targets []*mutationObserver
	for _, o := range p.mutations {
		if !o.disconnected {
			targets = append(targets, o)
		}
	}
	p.mu.Unlock()
	for _, o := range targets {
		o.fn(records)
	}
}

// ActiveObservers counts performance and mutation observers still connected.
func (p *Platform) ActiveObservers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.perf {
		for _, o := range list {
			if !o.disconnected {
				n++
			}
		}
	}
	for _, o := range p.mutations {
		if !o.disconnected {
			n++
		}
	}
	return n
}

// Patch points.

func (p *Platform) Fetch() *platform.Primitive[platform.RequestFunc] { return p.fetch }
func (p *Platform) XHR() *platform.Primitive[platform.RequestFunc] { return p.xhr }
func (p *Platform) PushState() *platform.Primitive[platform.NavigateFunc] { return p.push }
func (p *Platform) ReplaceState() *platform.Primitive[platform.NavigateFunc] { return p.replace }
func (p *Platform) ErrorBoundary() *platform.Primitive[platform.BoundaryFunc] {
	return p.boundary
}

func (p *Platform) Storage() platform.Storage { return p.storage }

// LocalStorage exposes the concrete storage for assertions.
func (p *Platform) LocalStorage() *Storage { return p.storage }

// Storage is an in-memory platform.Storage.
type Storage struct {
	mu   sync.Mutex
	data map[string]string
	// Err, when set, is returned by Set.
	Err error
}

// NewStorage returns empty storage.
func NewStorage() *Storage {
	return &Storage{data: make(map[string]string)}
}

func (s *Storage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Storage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.data[key] = value
	return nil
}

var _ platform.Platform = (*Platform)(nil)
