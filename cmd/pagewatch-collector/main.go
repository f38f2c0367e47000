// Command pagewatch-collector receives the batches reported by pagewatch
// agents and exposes them as Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/szibis/pagewatch/internal/auth"
	"github.com/szibis/pagewatch/internal/collector"
	"github.com/szibis/pagewatch/internal/config"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/process"
	"github.com/szibis/pagewatch/internal/tls"
)

const (
	name          = "pagewatch-collector"
	statsInterval = 30 * time.Second
)

func main() {
	cfg, opts, err := config.Load(name, os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logging.Fatal("failed to load configuration", logging.F("error", err.Error()))
	}
	if opts.ShowVersion {
		config.PrintVersion(os.Stdout, name)
		return
	}

	res := cfg.Validate(config.RoleCollector)
	if opts.ValidateOnly {
		fmt.Println(res.JSON())
		if !res.Valid {
			os.Exit(1)
		}
		return
	}
	for _, is := range res.Issues {
		if is.Severity == config.SeverityWarning {
			logging.Warn("configuration warning", logging.F("field", is.Field, "message", is.Message))
		}
	}
	if err := res.Err(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc, err := process.Start(ctx, name, cfg)
	if err != nil {
		logging.Fatal("failed to start", logging.F("error", err.Error()))
	}

	serverTLS, err := tls.NewServerTLSConfig(cfg.CollectorTLS())
	if err != nil {
		logging.Fatal("invalid collector TLS settings", logging.F("error", err.Error()))
	}
	h := collector.NewHandler(cfg.CollectorConfig())
	mux := http.NewServeMux()
	mux.Handle(h.Path(), auth.HTTPMiddleware(cfg.CollectorAuth(), h))
	proc.Add("collector", cfg.Collector.Listen, mux, serverTLS)

	if err := proc.Listen(); err != nil {
		logging.Fatal("failed to listen", logging.F("error", err.Error()))
	}
	go logStats(ctx, h)
	go h.WatchSilence(ctx, time.Minute)

	logging.Info("collector ready", logging.F(
		"addr", proc.Addr("collector"),
		"path", h.Path(),
		"auth", cfg.CollectorAuth().Enabled(),
	))
	if err := proc.Serve(ctx); err != nil {
		logging.Fatal("server error", logging.F("error", err.Error()))
	}
}

func logStats(ctx context.Context, h *collector.Handler) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := h.Stats()
			logging.Info("collector stats", logging.F(
				"records", s.Records,
				"duplicates", s.Duplicates,
				"invalid", s.Invalid,
				"unique_sessions", s.Sessions,
				"unique_users", s.Users,
				"apps", s.Apps,
				"silent_apps", s.SilentApps,
			))
		}
	}
}
