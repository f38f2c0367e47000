// Package health serves the liveness and readiness probes of the pagewatch
// binaries.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the state of the process or one of its components.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck is the state of one named component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body of both probes.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil while the component can serve.
type CheckFunc func() error

// Checker aggregates component checks.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	draining atomic.Bool
}

// New creates a Checker with no components.
func New() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces the readiness check of a component, for example
// the bridge listener or the collector ingest handler.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetShuttingDown fails both probes from now on so load balancers stop
// routing pages and batches here while connections drain.
func (c *Checker) SetShuttingDown() {
	c.draining.Store(true)
}

// Mount registers /live and /ready on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/live", c.LiveHandler())
	mux.HandleFunc("/ready", c.ReadyHandler())
}

func (c *Checker) drainingResponse() Response {
	return Response{
		Status:     StatusDown,
		Components: map[string]ComponentCheck{"process": {Status: StatusDown, Message: "shutting down"}},
		Timestamp:  now(),
	}
}

// LiveHandler reports whether the process is running and not draining.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if c.draining.Load() {
			writeJSON(w, http.StatusServiceUnavailable, c.drainingResponse())
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: now()})
	}
}

// ReadyHandler runs every registered check. Any failure answers 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if c.draining.Load() {
			writeJSON(w, http.StatusServiceUnavailable, c.drainingResponse())
			return
		}
		resp := c.Evaluate()
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// Evaluate runs the readiness checks in name order.
func (c *Checker) Evaluate() Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		checks[name] = fn
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{Status: StatusUp, Components: make(map[string]ComponentCheck, len(names)), Timestamp: now()}
	for _, name := range names {
		if err := checks[name](); err != nil {
			resp.Status = StatusDown
			resp.Components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			continue
		}
		resp.Components[name] = ComponentCheck{Status: StatusUp}
	}
	return resp
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
