// Package monitor is the collection core: it stamps records with session and
// environment facts, applies the sampling gate, queues records, publishes
// them on the event bus and flushes batches to the reporter.
package monitor

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/szibis/pagewatch/internal/bus"
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Reporter hands a batch to the transport. It returns false when no delivery
// strategy accepted the batch; the batch is not retried.
type Reporter interface {
	Report(url string, batch []*record.Record) bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithReporter sets the batch transport.
func WithReporter(r Reporter) Option {
	return func(m *Monitor) { m.reporter = r }
}

// WithRegistry sets the plugin registry consulted by Init.
func WithRegistry(r *plugin.Registry) Option {
	return func(m *Monitor) { m.registry = r }
}

// WithRandom replaces the sampling source. f must return values in [0,1).
func WithRandom(f func() float64) Option {
	return func(m *Monitor) { m.random = f }
}

// WithSessionID fixes the session id instead of minting one.
func WithSessionID(id string) Option {
	return func(m *Monitor) { m.sessionID = id }
}

type discardReporter struct{}

func (discardReporter) Report(string, []*record.Record) bool { return false }

// Monitor is one page session's collector.
type Monitor struct {
	mu          sync.Mutex
	cfg         Config
	queue       []*record.Record
	initialized bool
	plugins     plugin.Instances
	interval    platform.Timer
	unload      platform.Listener

	platform  platform.Platform
	reporter  Reporter
	registry  *plugin.Registry
	random    func() float64
	sessionID string
	bus       *bus.Bus
}

// New validates cfg and returns an uninitialized monitor bound to p.
func New(cfg Config, p platform.Platform, opts ...Option) (*Monitor, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:      cfg,
		queue:    make([]*record.Record, 0, cfg.MaxQueueSize),
		platform: p,
		reporter: discardReporter{},
		registry: plugin.NewRegistry(),
		random:   rand.Float64,
		bus:      bus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sessionID == "" {
		m.sessionID = envinfo.NewID()
	}
	return m, nil
}

// Init creates and initializes the configured plugins and arms the interval
// and unload flushes. A second call is a no-op until Destroy.
func (m *Monitor) Init() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		logging.Warn("monitor already initialized", logging.F("component", "monitor", "app_id", m.cfg.AppID))
		return
	}
	m.initialized = true
	names := append([]string(nil), m.cfg.Plugins...)
	configs := m.cfg.PluginsConfig
	interval := m.cfg.ReportInterval
	m.mu.Unlock()

	instances := m.registry.InitAll(m, names, configs)

	var timer platform.Timer
	if interval > 0 {
		timer = m.platform.Every(interval, func() { m.flush(triggerInterval) })
	}
	unload := m.platform.Listen(platform.TargetWindow, platform.EventBeforeUnload, false, func(platform.Event) {
		m.flush(triggerUnload)
	})

	m.mu.Lock()
	m.plugins = instances
	m.interval = timer
	m.unload = unload
	m.mu.Unlock()

	logging.Info("monitor initialized", logging.F(
		"component", "monitor",
		"app_id", m.cfg.AppID,
		"session_id", m.sessionID,
		"plugins", len(instances),
	))
}

// SessionID returns the id shared by every record of this monitor.
func (m *Monitor) SessionID() string { return m.sessionID }

// Platform returns the page the monitor is bound to.
func (m *Monitor) Platform() platform.Platform { return m.platform }

// ReportURL returns the configured collection endpoint.
func (m *Monitor) ReportURL() string { return m.cfg.ReportURL }

// Plugins returns the plugins created by Init, keyed by name.
func (m *Monitor) Plugins() map[string]plugin.Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plugins.Map()
}

// Instances returns the plugins created by Init in initialization order.
func (m *Monitor) Instances() plugin.Instances {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(plugin.Instances(nil), m.plugins...)
}

// QueueLen returns the number of records waiting for the next flush.
func (m *Monitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// stamp builds the immutable record for p.
func (m *Monitor) stamp(p record.Payload) *record.Record {
	typ, sub := p.Kind()
	env := m.platform.Environment()
	m.mu.Lock()
	appID, userID := m.cfg.AppID, m.cfg.UserID
	m.mu.Unlock()
	return &record.Record{
		ID:        envinfo.NewID(),
		AppID:     appID,
		UserID:    userID,
		SessionID: m.sessionID,
		Type:      typ,
		SubType:   sub,
		Timestamp: envinfo.UnixMillis(m.platform.Now()),
		PageURL:   m.platform.URL(),
		Browser:   env.Browser,
		Device:    env.Device,
		Payload:   p,
	}
}

func (m *Monitor) sampled() bool {
	m.mu.Lock()
	rate := m.cfg.Sampling
	m.mu.Unlock()
	return m.random() < rate
}

// Send stamps p, applies the sampling gate and enqueues the record. A full
// queue is flushed before the accepted record is emitted under its type and
// "type:subType", so handlers that send re-entrantly never push the queue past
// its maximum. Send reports whether the record was accepted.
func (m *Monitor) Send(p record.Payload) bool {
	if p == nil {
		return false
	}
	typ, _ := p.Kind()
	if !m.sampled() {
		recordsSampledTotal.WithLabelValues(string(typ)).Inc()
		return false
	}
	rec := m.stamp(p)
	m.enqueue(rec)
	m.flushIfFull()
	m.publish(rec)
	return true
}

func (m *Monitor) enqueue(rec *record.Record) {
	m.mu.Lock()
	m.queue = append(m.queue, rec)
	n := len(m.queue)
	m.mu.Unlock()
	queueLength.Set(float64(n))
	recordsAcceptedTotal.WithLabelValues(string(rec.Type)).Inc()
}

func (m *Monitor) publish(rec *record.Record) {
	base, sub := rec.EventName()
	m.bus.Emit(base, rec)
	if sub != "" {
		m.bus.Emit(sub, rec)
	}
}

func (m *Monitor) flushIfFull() {
	m.mu.Lock()
	full := len(m.queue) >= m.cfg.MaxQueueSize
	m.mu.Unlock()
	if full {
		m.flush(triggerSize)
	}
}

// Flush hands the queued records to the reporter as one batch. It reports
// whether there was anything to flush. Delivery failures are logged; the
// batch is not retried.
func (m *Monitor) Flush() bool {
	return m.flush(triggerManual)
}

func (m *Monitor) flush(trigger string) bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	batch := m.queue
	m.queue = make([]*record.Record, 0, m.cfg.MaxQueueSize)
	url := m.cfg.ReportURL
	m.mu.Unlock()

	queueLength.Set(0)
	flushesTotal.WithLabelValues(trigger).Inc()
	batchSize.Observe(float64(len(batch)))

	if !m.reporter.Report(url, batch) {
		batchesFailedTotal.Inc()
		logging.Warn("batch delivery failed, records dropped", logging.F(
			"component", "monitor",
			"trigger", trigger,
			"records", len(batch),
		))
	}
	return true
}

// ReportError records an application error. The record is emitted on
// "error" and "error:manual" before the sampling gate so that correlating
// plugins see every error; when it passes sampling it is enqueued and the
// queue is flushed immediately. Extra fields are attached as-is; a string
// "level" in extra overrides the default level.
func (m *Monitor) ReportError(err any, extra map[string]any) bool {
	p := &record.ManualError{Level: record.LevelError, Extra: extra}
	switch v := err.(type) {
	case nil:
		p.Message = "unknown error"
	case error:
		p.Name = fmt.Sprintf("%T", v)
		p.Message = v.Error()
		if s, ok := v.(interface{ Stack() string }); ok {
			p.Stack = s.Stack()
		}
	case string:
		p.Message = v
	default:
		p.Message = fmt.Sprint(v)
	}
	if level, ok := extra["level"].(string); ok && level != "" {
		p.Level = level
	}

	rec := m.stamp(p)
	m.publish(rec)

	if !m.sampled() {
		recordsSampledTotal.WithLabelValues(string(rec.Type)).Inc()
		return false
	}
	m.enqueue(rec)
	m.flush(triggerError)
	return true
}

// ReportEvent records an application-defined event.
func (m *Monitor) ReportEvent(name string, data any) bool {
	return m.Send(&record.CustomEvent{Name: name, Data: data})
}

// SetUser attaches id to every subsequent record and reports a
// "user_update" event carrying id and info.
func (m *Monitor) SetUser(id string, info map[string]any) {
	m.mu.Lock()
	m.cfg.UserID = id
	m.mu.Unlock()

	data := make(map[string]any, len(info)+1)
	for k, v := range info {
		data[k] = v
	}
	data["userId"] = id
	m.ReportEvent("user_update", data)
}

// On subscribes h to event.
func (m *Monitor) On(event string, h bus.Handler) bus.HandlerID {
	return m.bus.On(event, h)
}

// Off removes subscriptions; with no ids every handler of event is removed.
func (m *Monitor) Off(event string, ids ...bus.HandlerID) {
	m.bus.Off(event, ids...)
}

// Emit publishes rec under event without enqueuing it.
func (m *Monitor) Emit(event string, rec *record.Record) {
	m.bus.Emit(event, rec)
}

// Destroy flushes the queue, stops the interval and unload flushes and
// clears every bus subscription. Plugins are left to their owner, see
// DestroyPlugins.
func (m *Monitor) Destroy() {
	m.flush(triggerDestroy)

	m.mu.Lock()
	timer, unload := m.interval, m.unload
	m.interval, m.unload = nil, nil
	m.initialized = false
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if unload != nil {
		unload.Remove()
	}
	m.bus.Clear()
}

// DestroyPlugins tears down the plugins created by Init.
func (m *Monitor) DestroyPlugins() {
	m.mu.Lock()
	instances := m.plugins
	m.plugins = nil
	m.mu.Unlock()
	m.registry.DestroyAll(instances)
}

// Close destroys the plugins, then the monitor.
func (m *Monitor) Close() {
	m.DestroyPlugins()
	m.Destroy()
}

var _ plugin.Host = (*Monitor)(nil)
