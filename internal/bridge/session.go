package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
)

// ErrNotReplayed is returned when a request primitive is called outside a
// replayed request. The bridge observes page requests, it never issues them.
var ErrNotReplayed = errors.New("bridge: request primitives only replay page requests")

var rootElement = &platform.Element{Tag: "html"}

// perfBufferSize caps the entries kept per entry type for buffered
// observers, matching the browser's default resource timing buffer.
const perfBufferSize = 250

type replayKey struct{}

// outcome is what a replayed request resolves to.
type outcome struct {
	resp *platform.Response
	err  error
	end  time.Duration
}

// Session is one connected page. It implements platform.Platform; every
// page message is applied on the session loop, the same goroutine that runs
// plugin timers and handlers.
type Session struct {
	id   string
	loop *platform.Loop
	send func(Message) error

	mu           sync.Mutex
	url          string
	referrer     string
	title        string
	ready        platform.ReadyState
	hidden       bool
	width        float64
	height       float64
	env          envinfo.Environment
	navigation   *platform.NavigationTiming
	layout       []*platform.Element
	entryTypes   []string
	mutationsOff bool
	replayClock  *time.Duration

	listeners  []*listener
	perf       map[string][]*perfObserver
	perfBuffer map[string][]platform.PerformanceEntry
	mutations  []*mutationObserver
	storage    *storage

	fetch    *platform.Primitive[platform.RequestFunc]
	xhr      *platform.Primitive[platform.RequestFunc]
	push     *platform.Primitive[platform.NavigateFunc]
	replace  *platform.Primitive[platform.NavigateFunc]
	boundary *platform.Primitive[platform.BoundaryFunc]
}

// newSession builds the page described by h. send delivers messages back to
// the page.
func newSession(id string, h Hello, loop *platform.Loop, send func(Message) error) *Session {
	s := &Session{
		id:         id,
		loop:       loop,
		send:       send,
		url:        h.URL,
		referrer:   h.Referrer,
		title:      h.Title,
		ready:      h.ReadyState,
		hidden:     h.Hidden,
		width:      h.ViewportWidth,
		height:     h.ViewportHeight,
		navigation: h.Navigation,
		entryTypes: h.EntryTypes,
		perf:       make(map[string][]*perfObserver),
		perfBuffer: make(map[string][]platform.PerformanceEntry),
	}
	if s.ready == "" {
		s.ready = platform.ReadyLoading
	}
	s.mutationsOff = h.NoMutationObserver
	s.env = envinfo.Environment{
		Browser: envinfo.ParseUserAgent(h.UserAgent),
		Device: envinfo.Device{
			ScreenWidth:  h.ScreenWidth,
			ScreenHeight: h.ScreenHeight,
			PixelRatio:   h.PixelRatio,
			Platform:     h.Platform,
			Language:     h.Language,
		},
	}
	s.storage = &storage{data: make(map[string]string, len(h.Storage)), echo: s.echoStorage}
	for k, v := range h.Storage {
		s.storage.data[k] = v
	}

	s.fetch = platform.NewPrimitive[platform.RequestFunc](s.replayed)
	s.xhr = platform.NewPrimitive[platform.RequestFunc](s.replayed)
	s.push = platform.NewPrimitive[platform.NavigateFunc](func(_ any, _ string, u string) { s.setURL(u) })
	s.replace = platform.NewPrimitive[platform.NavigateFunc](func(_ any, _ string, u string) { s.setURL(u) })
	s.boundary = platform.NewPrimitive[platform.BoundaryFunc](nil)
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Loop is the goroutine the session runs on.
func (s *Session) Loop() *platform.Loop { return s.loop }

// Scheduler.

func (s *Session) Now() time.Time { return s.loop.Now() }

func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	replay := s.replayClock
	s.mu.Unlock()
	if replay != nil {
		return *replay
	}
	return s.loop.Elapsed()
}

func (s *Session) AfterFunc(d time.Duration, f func()) platform.Timer { return s.loop.AfterFunc(d, f) }

func (s *Session) Every(d time.Duration, f func()) platform.Timer { return s.loop.Every(d, f) }

// Document state.

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) setURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = u
}

func (s *Session) Referrer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrer
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Session) ReadyState() platform.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) Hidden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden
}

func (s *Session) Viewport() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Session) Environment() envinfo.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := s.env
	env.Device.ViewportWidth, env.Device.ViewportHeight = int(s.width), int(s.height)
	return env
}

// ElementFromPoint answers from the last layout the page sent. Points that
// hit no box resolve to the document root.
func (s *Session) ElementFromPoint(x, y float64) *platform.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x < 0 || y < 0 || x > s.width || y > s.height {
		return nil
	}
	for i := len(s.layout) - 1; i >= 0; i-- {
		el := s.layout[i]
		if el != nil && !el.Hidden && el.Rect.Contains(x, y) {
			return el
		}
	}
	return rootElement
}

func (s *Session) NavigationTiming() (platform.NavigationTiming, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navigation == nil {
		return platform.NavigationTiming{}, false
	}
	return *s.navigation, true
}

func (s *Session) applyState(st *State) {
	if st == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.URL != nil {
		s.url = *st.URL
	}
	if st.Title != nil {
		s.title = *st.Title
	}
	if st.ReadyState != nil {
		s.ready = *st.ReadyState
	}
	if st.Hidden != nil {
		s.hidden = *st.Hidden
	}
	if st.ViewportWidth != nil {
		s.width = *st.ViewportWidth
	}
	if st.ViewportHeight != nil {
		s.height = *st.ViewportHeight
	}
	if st.Navigation != nil {
		nt := *st.Navigation
		s.navigation = &nt
	}
}

// Events.

type listener struct {
	s       *Session
	target  platform.Target
	event   string
	capture bool
	h       platform.Handler
	removed bool
}

func (l *listener) Remove() {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.removed = true
	l.s.listeners = slices.DeleteFunc(l.s.listeners, func(o *listener) bool { return o == l })
}

func (s *Session) Listen(target platform.Target, event string, capture bool, h platform.Handler) platform.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &listener{s: s, target: target, event: event, capture: capture, h: h}
	s.listeners = append(s.listeners, l)
	return l
}

// dispatch runs capturing listeners, then bubbling ones when ev bubbles.
func (s *Session) dispatch(target platform.Target, ev platform.Event) {
	s.mu.Lock()
	var capturing, bubbling []*listener
	for _, l := range s.listeners {
		if l.target != target || l.event != ev.Name() {
			continue
		}
		if l.capture {
			capturing = append(capturing, l)
		} else {
			bubbling = append(bubbling, l)
		}
	}
	s.mu.Unlock()

	run := func(ls []*listener) {
		for _, l := range ls {
			s.mu.Lock()
			removed := l.removed
			s.mu.Unlock()
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

// Observers.

type perfObserver struct {
	s            *Session
	fn           func([]platform.PerformanceEntry)
	disconnected bool
}

func (o *perfObserver) Disconnect() {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.disconnected = true
}

func (s *Session) ObservePerformance(entryType string, buffered bool, fn func([]platform.PerformanceEntry)) (platform.Observer, error) {
	s.mu.Lock()
	if len(s.entryTypes) > 0 && !slices.Contains(s.entryTypes, entryType) {
		s.mu.Unlock()
		return nil, platform.ErrUnsupported
	}
	o := &perfObserver{s: s, fn: fn}
	s.perf[entryType] = append(s.perf[entryType], o)
	backlog := slices.Clone(s.perfBuffer[entryType])
	s.mu.Unlock()

	// Observers are created on the loop, which must not Post to itself.
	if buffered && len(backlog) > 0 {
		s.loop.AfterFunc(0, func() {
			s.mu.Lock()
			gone := o.disconnected
			s.mu.Unlock()
			if !gone {
				fn(backlog)
			}
		})
	}
	return o, nil
}

func (s *Session) deliverPerf(entryType string, entries []platform.PerformanceEntry) {
	s.mu.Lock()
	buf := append(s.perfBuffer[entryType], entries...)
	if n := len(buf); n > perfBufferSize {
		buf = slices.Clone(buf[n-perfBufferSize:])
	}
	s.perfBuffer[entryType] = buf
	var targets []*perfObserver
	for _, o := range s.perf[entryType] {
		if !o.disconnected {
			targets = append(targets, o)
		}
	}
	s.mu.Unlock()
	for _, o := range targets {
		o.fn(entries)
	}
}

type mutationObserver struct {
	s            *Session
	fn           func([]platform.MutationRecord)
	disconnected bool
}

func (o *mutationObserver) Disconnect() {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.disconnected = true
	o.s.mutations = slices.DeleteFunc(o.s.mutations, func(m *mutationObserver) bool { return m == o })
}

func (s *Session) ObserveMutations(fn func([]platform.MutationRecord)) (platform.Observer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutationsOff {
		return nil, platform.ErrUnsupported
	}
	o := &mutationObserver{s: s, fn: fn}
	s.mutations = append(s.mutations, o)
	return o, nil
}

func (s *Session) deliverMutations(records []platform.MutationRecord) {
	s.mu.Lock()
	targets := slices.Clone(s.mutations)
	s.mu.Unlock()
	for _, o := range targets {
		s.mu.Lock()
		gone := o.disconnected
		s.mu.Unlock()
		if !gone {
			o.fn(records)
		}
	}
}

// Primitives.

func (s *Session) Fetch() *platform.Primitive[platform.RequestFunc] { return s.fetch }
func (s *Session) XHR() *platform.Primitive[platform.RequestFunc] { return s.xhr }
func (s *Session) PushState() *platform.Primitive[platform.NavigateFunc] { return s.push }
func (s *Session) ReplaceState() *platform.Primitive[platform.NavigateFunc] { return s.replace }
func (s *Session) ErrorBoundary() *platform.Primitive[platform.BoundaryFunc] { return s.boundary }

// replayed is the innermost request implementation: it resolves to the
// outcome the page reported and moves the replay clock to its end.
func (s *Session) replayed(ctx context.Context, _ *platform.Request) (*platform.Response, error) {
	o, ok := ctx.Value(replayKey{}).(*outcome)
	if !ok {
		return nil, ErrNotReplayed
	}
	s.mu.Lock()
	end := o.end
	s.replayClock = &end
	s.mu.Unlock()
	return o.resp, o.err
}

// replay runs a completed page request through the current, possibly
// decorated, primitive of its transport.
func (s *Session) replay(r Request) error {
	var prim *platform.Primitive[platform.RequestFunc]
	switch r.Transport {
	case "", "fetch":
		prim = s.fetch
	case "xhr":
		prim = s.xhr
	default:
		return fmt.Errorf("unknown transport %q", r.Transport)
	}
	start := millis(r.Start)
	o := &outcome{end: start + millis(r.Duration)}
	switch {
	case r.Timeout:
		o.err = platform.ErrTimeout
	case r.Error != "":
		o.err = errors.New(r.Error)
	default:
		o.resp = &platform.Response{Status: r.Status, Body: []byte(r.Body)}
	}

	s.mu.Lock()
	s.replayClock = &start
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.replayClock = nil
		s.mu.Unlock()
	}()

	ctx := context.WithValue(context.Background(), replayKey{}, o)
	_, _ = prim.Get()(ctx, &platform.Request{Method: r.Method, URL: r.URL})
	return nil
}

func millis(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }

// Storage.

func (s *Session) Storage() platform.Storage { return s.storage }

func (s *Session) echoStorage(key, value string) error {
	m, err := NewMessage(TypeStorage, StorageWrite{Key: key, Value: value})
	if err != nil {
		return err
	}
	return s.send(m)
}

// storage mirrors the page's local storage. Writes made by plugins are
// echoed to the page.
type storage struct {
	mu   sync.Mutex
	data map[string]string
	echo func(key, value string) error
}

func (st *storage) Get(key string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.data[key]
	return v, ok
}

func (st *storage) Set(key, value string) error {
	if err := st.echo(key, value); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data[key] = value
	return nil
}

// sync records a write made by the page itself.
func (st *storage) sync(key, value string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data[key] = value
}

// handle applies one page message. It runs on the session loop.
func (s *Session) handle(m Message) error {
	switch m.Type {
	case TypeEvent:
		var e Event
		if err := json.Unmarshal(m.Data, &e); err != nil {
			return err
		}
		ev, err := e.platformEvent()
		if err != nil {
			return err
		}
		s.applyState(e.State)
		target := e.Target
		if target == "" {
			target = platform.TargetWindow
		}
		s.dispatch(target, ev)
	case TypeState:
		var st State
		if err := json.Unmarshal(m.Data, &st); err != nil {
			return err
		}
		s.applyState(&st)
	case TypePerf:
		var p Perf
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return err
		}
		if p.EntryType == "" {
			return errors.New("perf message without entry type")
		}
		s.deliverPerf(p.EntryType, p.Entries)
	case TypeMutations:
		var mu Mutations
		if err := json.Unmarshal(m.Data, &mu); err != nil {
			return err
		}
		s.deliverMutations(mu.Records)
	case TypeLayout:
		var l Layout
		if err := json.Unmarshal(m.Data, &l); err != nil {
			return err
		}
		s.mu.Lock()
		s.layout = l.Elements
		s.mu.Unlock()
	case TypeRequest:
		var r Request
		if err := json.Unmarshal(m.Data, &r); err != nil {
			return err
		}
		return s.replay(r)
	case TypeFrameworkError:
		var be platform.BoundaryError
		if err := json.Unmarshal(m.Data, &be); err != nil {
			return err
		}
		if fn := s.boundary.Get(); fn != nil {
			fn(be)
		}
	case TypeNavigate:
		var n Navigate
		if err := json.Unmarshal(m.Data, &n); err != nil {
			return err
		}
		var state any
		if len(n.State) > 0 {
			if err := json.Unmarshal(n.State, &state); err != nil {
				return err
			}
		}
		switch n.Kind {
		case "pushState":
			s.push.Get()(state, n.Title, n.URL)
		case "replaceState":
			s.replace.Get()(state, n.Title, n.URL)
		default:
			return fmt.Errorf("unknown navigation %q", n.Kind)
		}
	case TypeStorage:
		var w StorageWrite
		if err := json.Unmarshal(m.Data, &w); err != nil {
			return err
		}
		s.storage.sync(w.Key, w.Value)
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

var _ platform.Platform = (*Session)(nil)
