// Command pagewatch accepts page sessions over websocket, runs the monitor
// and its plugins for each of them and reports the batches to the
// collection endpoint.
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

	"github.com/szibis/pagewatch/internal/auth"
	"github.com/szibis/pagewatch/internal/bridge"
	"github.com/szibis/pagewatch/internal/builtin"
	"github.com/szibis/pagewatch/internal/config"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/monitor"
	"github.com/szibis/pagewatch/internal/process"
	"github.com/szibis/pagewatch/internal/reporter"
	"github.com/szibis/pagewatch/internal/tls"
)

const name = "pagewatch"

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

	res := cfg.Validate(config.RoleAgent)
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

	clientTLS, err := tls.NewClientTLSConfig(cfg.ReporterTLS())
	if err != nil {
		logging.Fatal("invalid reporter TLS settings", logging.F("error", err.Error()))
	}
	bridgeTLS, err := tls.NewServerTLSConfig(cfg.BridgeTLS())
	if err != nil {
		logging.Fatal("invalid bridge TLS settings", logging.F("error", err.Error()))
	}
	credentials := cfg.ReporterAuth()
	rep, err := reporter.New(cfg.ReporterConfig(),
		reporter.WithTLSConfig(clientTLS),
		reporter.WithTransportWrapper(func(rt http.RoundTripper) http.RoundTripper {
			return auth.HTTPTransport(credentials, rt)
		}),
	)
	if err != nil {
		logging.Fatal("failed to create reporter", logging.F("error", err.Error()))
	}

	monCfg := cfg.MonitorConfig(builtin.Names())
	srv := bridge.NewServer(cfg.BridgeConfig(), func(s *bridge.Session) (func(), error) {
		m, err := monitor.New(monCfg, s,
			monitor.WithReporter(rep),
			monitor.WithRegistry(builtin.Registry()),
			monitor.WithSessionID(s.ID()),
		)
		if err != nil {
			return nil, err
		}
		m.Init()
		return m.Close, nil
	})

	mux := http.NewServeMux()
	mux.Handle(srv.Path(), srv)
	proc.Add("bridge", cfg.Bridge.Listen, mux, bridgeTLS)
	// Sessions flush on release, so the bridge closes before the reporter.
	proc.OnShutdown(srv.Close)
	proc.OnShutdown(func() { _ = rep.Close() })

	if err := proc.Listen(); err != nil {
		logging.Fatal("failed to listen", logging.F("error", err.Error()))
	}
	logging.Info("bridge ready", logging.F(
		"addr", proc.Addr("bridge"),
		"path", srv.Path(),
		"app_id", monCfg.AppID,
		"report_url", monCfg.ReportURL,
		"plugins", len(monCfg.Plugins),
		"strategies", cfg.Reporter.Strategies,
	))
	if err := proc.Serve(ctx); err != nil {
		logging.Fatal("server error", logging.F("error", err.Error()))
	}
}
