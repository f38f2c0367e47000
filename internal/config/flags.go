package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

// version is set at build time with -ldflags "-X ...config.version=v1.2.3".
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// PrintVersion writes "<name> version <v>" to w.
func PrintVersion(w io.Writer, name string) {
	fmt.Fprintf(w, "%s version %s\n", name, version)
}

// Options are the command-line switches that are not configuration.
type Options struct {
	File        string
	ShowVersion bool
	// ValidateOnly validates the effective configuration and exits.
	ValidateOnly bool
}

// Load parses args, reads the file named by -config and applies the flags
// that were set explicitly on top of it. Flags left unset never override
// the file.
func Load(name string, args []string, output io.Writer) (*Config, Options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	var (
		opts    Options
		v       = *Default()
		plugins string

		bridgeOrigins, collectorOrigins string
	)
	fs.StringVar(&opts.File, "config", "", "Path to YAML configuration file")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Print version and exit")
	fs.BoolVar(&opts.ValidateOnly, "validate", false, "Validate the configuration and exit")

	fs.StringVar(&v.Logging.Level, "log-level", v.Logging.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&v.Stats.Address, "stats-addr", v.Stats.Address, "Listen address for /metrics, /live and /ready")
	fs.Float64Var(&v.Memory.LimitRatio, "memory-limit-ratio", v.Memory.LimitRatio, "Share of the container memory limit used as GOMEMLIMIT (0 disables)")

	fs.StringVar(&v.Monitor.AppID, "app-id", v.Monitor.AppID, "Application id stamped on every record")
	fs.StringVar(&v.Monitor.ReportURL, "report-url", v.Monitor.ReportURL, "Collection endpoint batches are delivered to")
	fs.Float64Var(&v.Monitor.Sampling, "sampling", v.Monitor.Sampling, "Probability in [0,1] that a record is kept")
	fs.IntVar(&v.Monitor.MaxQueueSize, "max-queue-size", v.Monitor.MaxQueueSize, "Queued records that trigger a flush")
	fs.Func("report-interval", "Periodic flush interval (0 disables)", func(s string) error {
		return durationFlag(&v.Monitor.ReportInterval, s)
	})
	fs.StringVar(&plugins, "plugins", "", "Comma-separated plugins to enable (default: all)")

	fs.StringVar(&v.Reporter.Compression, "reporter-compression", v.Reporter.Compression, "Stream strategy compression: none, gzip, zstd")
	fs.IntVar(&v.Reporter.MaxInFlight, "reporter-max-in-flight", v.Reporter.MaxInFlight, "Concurrent background deliveries")

	fs.StringVar(&v.Bridge.Listen, "bridge-listen", v.Bridge.Listen, "Page websocket listen address")
	fs.StringVar(&v.Bridge.Path, "bridge-path", v.Bridge.Path, "Page websocket path")
	fs.StringVar(&bridgeOrigins, "bridge-allowed-origins", "", "Comma-separated page origins allowed to connect")

	fs.StringVar(&v.Collector.Listen, "collector-listen", v.Collector.Listen, "Ingest listen address")
	fs.StringVar(&v.Collector.Path, "collector-path", v.Collector.Path, "Ingest path")
	fs.StringVar(&collectorOrigins, "collector-allowed-origins", "", "Comma-separated origins allowed by CORS")

	fs.StringVar(&v.Telemetry.Endpoint, "telemetry-endpoint", v.Telemetry.Endpoint, "OTLP endpoint for self-telemetry (empty disables)")
	fs.StringVar(&v.Telemetry.Protocol, "telemetry-protocol", v.Telemetry.Protocol, "OTLP protocol: grpc or http")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if fs.NArg() > 0 {
		return nil, opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := Default()
	if opts.File != "" {
		loaded, err := LoadFile(opts.File)
		if err != nil {
			return nil, opts, fmt.Errorf("load %s: %w", opts.File, err)
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Logging.Level = v.Logging.Level
		case "stats-addr":
			cfg.Stats.Address = v.Stats.Address
		case "memory-limit-ratio":
			cfg.Memory.LimitRatio = v.Memory.LimitRatio
		case "app-id":
			cfg.Monitor.AppID = v.Monitor.AppID
		case "report-url":
			cfg.Monitor.ReportURL = v.Monitor.ReportURL
		case "sampling":
			cfg.Monitor.Sampling = v.Monitor.Sampling
		case "max-queue-size":
			cfg.Monitor.MaxQueueSize = v.Monitor.MaxQueueSize
		case "report-interval":
			cfg.Monitor.ReportInterval = v.Monitor.ReportInterval
		case "plugins":
			cfg.Monitor.Plugins = splitList(plugins)
		case "reporter-compression":
			cfg.Reporter.Compression = v.Reporter.Compression
		case "reporter-max-in-flight":
			cfg.Reporter.MaxInFlight = v.Reporter.MaxInFlight
		case "bridge-listen":
			cfg.Bridge.Listen = v.Bridge.Listen
		case "bridge-path":
			cfg.Bridge.Path = v.Bridge.Path
		case "bridge-allowed-origins":
			cfg.Bridge.AllowedOrigins = splitList(bridgeOrigins)
		case "collector-listen":
			cfg.Collector.Listen = v.Collector.Listen
		case "collector-path":
			cfg.Collector.Path = v.Collector.Path
		case "collector-allowed-origins":
			cfg.Collector.AllowedOrigins = splitList(collectorOrigins)
		case "telemetry-endpoint":
			cfg.Telemetry.Endpoint = v.Telemetry.Endpoint
		case "telemetry-protocol":
			cfg.Telemetry.Protocol = v.Telemetry.Protocol
		}
	})
	cfg.ApplyDefaults()
	return cfg, opts, nil
}

func durationFlag(dst *Duration, s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = Duration(d)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
