package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/pagewatch/internal/logging"
)

var failuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pagewatch_plugin_failures_total",
		Help: "Plugin failures by plugin name and lifecycle stage",
	},
	[]string{"plugin", "stage"},
)

var activePlugins = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pagewatch_plugins_active",
	Help: "Plugins currently initialized across all monitors",
})

func init() {
	prometheus.MustRegister(failuresTotal, activePlugins)
}

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names lists registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instances are the plugins a monitor initialized, in initialization order.
type Instances []Plugin

// Map indexes the instances by name.
func (in Instances) Map() map[string]Plugin {
	m := make(map[string]Plugin, len(in))
	for _, p := range in {
		m[p.Name()] = p
	}
	return m
}

// InitAll builds and initializes the named plugins in order. Unknown names,
// duplicates and plugins whose construction or Init fails are logged and
// skipped; the remaining plugins are unaffected.
func (r *Registry) InitAll(host Host, names []string, configs map[string]RawConfig) Instances {
	var out Instances
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			logging.Warn("duplicate plugin name ignored", logging.F("component", "plugin", "plugin", name))
			continue
		}
		seen[name] = true

		factory, ok := r.Lookup(name)
		if !ok {
			logging.Warn("unknown plugin", logging.F("component", "plugin", "plugin", name))
			continue
		}
		p, err := construct(name, factory, host)
		if err != nil {
			report(err)
			continue
		}
		if err := initialize(name, p, configs[name]); err != nil {
			report(err)
			// Release whatever the plugin attached before failing.
			if derr := destroy(name, p); derr != nil {
				report(derr)
			}
			continue
		}
		activePlugins.Inc()
		out = append(out, p)
	}
	return out
}

// DestroyAll tears down instances in reverse order. A failing Destroy does
// not prevent the others from running.
func (r *Registry) DestroyAll(instances Instances) {
	for i := len(instances) - 1; i >= 0; i-- {
		p := instances[i]
		if err := destroy(p.Name(), p); err != nil {
			report(err)
		}
		activePlugins.Dec()
	}
}

func report(err error) {
	ie, ok := err.(*InitError)
	if !ok {
		return
	}
	failuresTotal.WithLabelValues(ie.Plugin, ie.Stage).Inc()
	logging.Error("plugin failed", logging.F(
		"component", "plugin",
		"plugin", ie.Plugin,
		"stage", ie.Stage,
		"error", ie.Err,
	))
}

func construct(name string, f Factory, host Host) (p Plugin, err error) {
	defer recoverInto(name, StageConstruct, &err)
	p = f(host)
	if p == nil {
		return nil, &InitError{Plugin: name, Stage: StageConstruct, Err: fmt.Errorf("factory returned nil")}
	}
	return p, nil
}

func initialize(name string, p Plugin, cfg RawConfig) (err error) {
	defer recoverInto(name, StageInit, &err)
	if err := p.Init(cfg); err != nil {
		return &InitError{Plugin: name, Stage: StageInit, Err: err}
	}
	return nil
}

func destroy(name string, p Plugin) (err error) {
	defer recoverInto(name, StageDestroy, &err)
	p.Destroy()
	return nil
}

func recoverInto(name, stage string, err *error) {
	if r := recover(); r != nil {
		*err = &InitError{Plugin: name, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
	}
}
