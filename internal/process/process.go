// Package process runs the listeners of a pagewatch binary: the stats
// server with /metrics and the health probes, plus one or more service
// listeners, with a graceful drain on shutdown.
package process

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/pagewatch/internal/config"
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/health"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/telemetry"
)

const drainTimeout = 10 * time.Second

type listener struct {
	name    string
	srv     *http.Server
	tls     *tls.Config
	ln      net.Listener
	serving atomic.Bool
}

// Process owns the listeners and shutdown hooks of one binary.
type Process struct {
	name      string
	health    *health.Checker
	tel       *telemetry.Telemetry
	listeners []*listener
	hooks     []func()
}

// Start applies the logging, memory and telemetry settings of cfg and
// prepares the stats listener. Nothing listens until Listen.
func Start(ctx context.Context, name string, cfg *config.Config) (*Process, error) {
	level, ok := logging.ParseLevel(cfg.Logging.Level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Logging.Level)
	}
	logging.SetLevel(level)

	if ratio := cfg.Memory.LimitRatio; ratio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(ratio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		)
		if err != nil {
			logging.Warn("memory limit not set", logging.F("component", "process", "error", err.Error()))
		} else {
			logging.Info("memory limit set", logging.F("component", "process", "gomemlimit", limit, "ratio", ratio))
		}
	}

	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), telemetry.Service{
		Name:       name,
		Version:    config.Version(),
		InstanceID: envinfo.NewID(),
	})
	if err != nil {
		return nil, err
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("telemetry export enabled", logging.F(
			"component", "process",
			"endpoint", cfg.Telemetry.Endpoint,
			"protocol", cfg.Telemetry.Protocol,
		))
	}

	p := &Process{name: name, health: health.New(), tel: tel}
	if cfg.Stats.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		p.health.Mount(mux)
		p.listeners = append(p.listeners, &listener{name: "stats", srv: &http.Server{
			Addr:              cfg.Stats.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}})
	}
	return p, nil
}

// Health returns the checker behind /live and /ready.
func (p *Process) Health() *health.Checker { return p.health }

// Add registers a service listener, served over TLS when tc is not nil. It
// counts as ready while it serves.
func (p *Process) Add(name, addr string, h http.Handler, tc *tls.Config) {
	l := &listener{name: name, tls: tc, srv: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	p.listeners = append(p.listeners, l)
	p.health.Register(name, func() error {
		if !l.serving.Load() {
			return errors.New("not serving")
		}
		return nil
	})
}

// OnShutdown registers fn to run after the listeners stopped. Hooks run in
// registration order.
func (p *Process) OnShutdown(fn func()) {
	p.hooks = append(p.hooks, fn)
}

// Listen binds every listener. On error the ones already bound are closed.
func (p *Process) Listen() error {
	for i, l := range p.listeners {
		ln, err := net.Listen("tcp", l.srv.Addr)
		if err != nil {
			for _, prev := range p.listeners[:i] {
				_ = prev.ln.Close()
			}
			return fmt.Errorf("listen %s on %s: %w", l.name, l.srv.Addr, err)
		}
		if l.tls != nil {
			ln = tls.NewListener(ln, l.tls)
		}
		l.ln = ln
	}
	return nil
}

// Addr returns the bound address of the named listener, or "".
func (p *Process) Addr(name string) string {
	for _, l := range p.listeners {
		if l.name == name && l.ln != nil {
			return l.ln.Addr().String()
		}
	}
	return ""
}

// Serve runs the bound listeners until ctx is done or one of them fails,
// then drains. Probes fail from the moment shutdown begins.
func (p *Process) Serve(ctx context.Context) error {
	for _, l := range p.listeners {
		if l.ln == nil {
			return fmt.Errorf("%s: Serve before Listen", l.name)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.listeners {
		g.Go(func() error {
			l.serving.Store(true)
			logging.Info("listener started", logging.F(
				"component", "process",
				"listener", l.name,
				"addr", l.ln.Addr().String(),
				"tls", l.tls != nil,
			))
			err := l.srv.Serve(l.ln)
			l.serving.Store(false)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s: %w", l.name, err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		p.drain()
		return nil
	})

	logging.Info(p.name+" started", logging.F("component", "process", "listeners", len(p.listeners)))
	err := g.Wait()
	p.shutdown()
	return err
}

func (p *Process) drain() {
	logging.Info("shutting down", logging.F("component", "process"))
	p.health.SetShuttingDown()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, l := range p.listeners {
		if err := l.srv.Shutdown(ctx); err != nil {
			logging.Warn("listener shutdown", logging.F("component", "process", "listener", l.name, "error", err.Error()))
		}
	}
}

func (p *Process) shutdown() {
	for _, fn := range p.hooks {
		fn()
	}
	if p.tel.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), p.tel.ShutdownTimeout())
		defer cancel()
		logging.SetHook(nil)
		if err := p.tel.Shutdown(ctx); err != nil {
			logging.Warn("telemetry shutdown", logging.F("component", "process", "error", err.Error()))
		}
	}
	logging.Info("shutdown complete", logging.F("component", "process"))
}
