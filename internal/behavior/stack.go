package behavior

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/pagewatch/internal/bus"
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Allow-list tokens beyond plain types and subtypes.
const (
	includeAll    = "*"
	includeCustom = "custom"
)

var (
	stackEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagewatch_behavior_stack_entries_total",
			Help: "Actions appended to the behavior stack, by type",
		},
		[]string{"type"},
	)
	stackReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagewatch_behavior_stack_reports_total",
			Help: "Behavior stack snapshots reported, by trigger",
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(stackEntriesTotal, stackReportsTotal)
}

// StackOptions configures the behavior stack. Times are in milliseconds.
type StackOptions struct {
	MaxStackSize    int      `yaml:"maxStackSize"`
	IncludeTypes    []string `yaml:"includeTypes"`
	DebounceTime    int      `yaml:"debounceTime"`
	ReportWithError bool     `yaml:"reportWithError"`
	ReportInterval  int      `yaml:"reportInterval"`
	MaskSensitive   bool     `yaml:"maskSensitiveData"`
	// SensitiveKeys extend the built-in password, token, credit and card.
	SensitiveKeys []string `yaml:"sensitiveKeys"`
	// Debounced lists the high-frequency subtypes that are coalesced.
	Debounced []string `yaml:"debouncedTypes"`
}

// Stack remembers the most recent user actions and reports a copy of them
// whenever an error is published, so the error can be replayed in context.
type Stack struct {
	host plugin.Host
	life plugin.Lifecycle
	opts StackOptions

	ring     *Ring[record.BehaviorEntry]
	mask     masker
	subs     map[string]bus.HandlerID
	debounce map[string]*platform.Debouncer
	ticker   platform.Timer
}

// NewStack is the factory for the behavior stack plugin.
func NewStack(host plugin.Host) plugin.Plugin {
	return &Stack{host: host, opts: StackOptions{
		MaxStackSize:    30,
		IncludeTypes:    []string{record.SubClick, record.SubPageChange, record.SubHTTP, string(record.TypeError), includeCustom},
		DebounceTime:    300,
		ReportWithError: true,
		MaskSensitive:   true,
		Debounced:       []string{platform.EventScroll, platform.EventMouseMove},
	}}
}

func (s *Stack) Name() string { return StackName }

func (s *Stack) Init(cfg plugin.RawConfig) error {
	if err := s.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &s.opts); err != nil {
		return err
	}
	s.ring = NewRing[record.BehaviorEntry](s.opts.MaxStackSize)
	s.mask = newMasker(s.opts.SensitiveKeys)
	s.debounce = make(map[string]*platform.Debouncer)
	s.subs = map[string]bus.HandlerID{
		string(record.TypeBehavior):    s.host.On(string(record.TypeBehavior), s.onBehavior),
		string(record.TypeCustomEvent): s.host.On(string(record.TypeCustomEvent), s.onBehavior),
		string(record.TypeError):       s.host.On(string(record.TypeError), s.onError),
	}
	if s.opts.ReportInterval > 0 {
		s.ticker = s.host.Platform().Every(ms(s.opts.ReportInterval), func() {
			if s.ring.Len() > 0 {
				s.report("", "interval")
			}
		})
	}
	return nil
}

func (s *Stack) included(rec *record.Record) bool {
	for _, t := range s.opts.IncludeTypes {
		switch {
		case t == includeAll:
			return true
		case t == string(rec.Type):
			return true
		case rec.SubType != "" && t == rec.SubType:
			return true
		case t == includeCustom && rec.Type == record.TypeCustomEvent:
			return true
		}
	}
	return false
}

func (s *Stack) onBehavior(rec *record.Record) {
	if !s.life.Active() || rec.SubType == record.SubStack || !s.included(rec) {
		return
	}
	if slices.Contains(s.opts.Debounced, rec.SubType) {
		d, ok := s.debounce[rec.SubType]
		if !ok {
			d = platform.NewDebouncer(s.host.Platform(), ms(s.opts.DebounceTime))
			s.debounce[rec.SubType] = d
		}
		d.Call(func() { s.push(rec) })
		return
	}
	s.push(rec)
}

func (s *Stack) onError(rec *record.Record) {
	if !s.life.Active() {
		return
	}
	if s.opts.ReportWithError && s.ring.Len() > 0 {
		s.report(rec.ID, "error")
	}
	if s.included(rec) {
		s.push(rec)
	}
}

func (s *Stack) push(rec *record.Record) {
	if !s.life.Active() {
		return
	}
	data, err := toMap(rec.Payload)
	if err != nil {
		logging.Warn("behavior payload not encodable", logging.F(
			"component", "behavior",
			"plugin", StackName,
			"event", string(rec.Type)+":"+rec.SubType,
			"error", err,
		))
		return
	}
	if s.opts.MaskSensitive {
		s.mask.apply(data)
	}
	p := s.host.Platform()
	pageURL := rec.PageURL
	if pageURL == "" {
		pageURL = p.URL()
	}
	s.ring.Push(record.BehaviorEntry{
		ID:        envinfo.NewID(),
		Timestamp: envinfo.UnixMillis(p.Now()),
		PageURL:   pageURL,
		Type:      rec.Type,
		SubType:   rec.SubType,
		Data:      data,
	})
	stackEntriesTotal.WithLabelValues(string(rec.Type)).Inc()
}

func (s *Stack) report(errorID, trigger string) {
	actions := s.ring.Snapshot()
	if len(actions) == 0 {
		return
	}
	stackReportsTotal.WithLabelValues(trigger).Inc()
	s.host.Send(&record.BehaviorStack{
		StackID: envinfo.NewID(),
		ErrorID: errorID,
		Actions: actions,
		Count:   len(actions),
	})
}

// Stack returns the remembered actions, oldest first.
func (s *Stack) Stack() []record.BehaviorEntry {
	if s.ring == nil {
		return nil
	}
	return s.ring.Snapshot()
}

// Clear forgets every remembered action.
func (s *Stack) Clear() {
	if s.ring != nil {
		s.ring.Clear()
	}
}

func (s *Stack) Destroy() {
	if !s.life.Deactivate() {
		return
	}
	for event, id := range s.subs {
		s.host.Off(event, id)
	}
	for _, d := range s.debounce {
		d.Cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.subs, s.debounce, s.ticker = nil, nil, nil
	s.Clear()
}
