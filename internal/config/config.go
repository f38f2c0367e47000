// Package config loads the pagewatch YAML file and command-line overrides
// for both binaries.
package config

import (
	"time"

	"github.com/szibis/pagewatch/internal/auth"
	"github.com/szibis/pagewatch/internal/bridge"
	"github.com/szibis/pagewatch/internal/collector"
	"github.com/szibis/pagewatch/internal/monitor"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/reporter"
	"github.com/szibis/pagewatch/internal/telemetry"
	"github.com/szibis/pagewatch/internal/tls"
)

// Config is the whole configuration file.
type Config struct {
	Monitor   MonitorConfig   `yaml:"monitor"`
	Reporter  ReporterConfig  `yaml:"reporter"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Collector CollectorConfig `yaml:"collector"`
	Stats     StatsConfig     `yaml:"stats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// MonitorConfig is applied to the monitor built for every page session.
type MonitorConfig struct {
	AppID          string   `yaml:"app_id"`
	ReportURL      string   `yaml:"report_url"`
	Sampling       float64  `yaml:"sampling"`
	MaxQueueSize   int      `yaml:"max_queue_size"`
	ReportInterval Duration `yaml:"report_interval"`
	// Plugins are initialized in order. Empty means every built-in plugin.
	Plugins []string `yaml:"plugins"`
	// PluginsConfig holds per-plugin options keyed by plugin name, using the
	// plugin's own option names.
	PluginsConfig map[string]map[string]any `yaml:"plugins_config"`
}

// ReporterConfig controls batch delivery.
type ReporterConfig struct {
	Strategies       []string `yaml:"strategies"`
	Timeout          Duration `yaml:"timeout"`
	MaxBeaconBytes   ByteSize `yaml:"max_beacon_bytes"`
	MaxPixelURLBytes ByteSize `yaml:"max_pixel_url_bytes"`
	MaxInFlight      int      `yaml:"max_in_flight"`
	Compression      string   `yaml:"compression"`
	ForceHTTP2       bool     `yaml:"force_http2"`

	// TLS and Auth apply to the requests sent to monitor.report_url.
	TLS  TLSClientConfig  `yaml:"tls"`
	Auth AuthClientConfig `yaml:"auth"`
}

// BridgeConfig is the page websocket endpoint.
type BridgeConfig struct {
	Listen           string   `yaml:"listen"`
	Path             string   `yaml:"path"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	ReadLimit        ByteSize `yaml:"read_limit"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	WriteTimeout     Duration `yaml:"write_timeout"`
	PingInterval     Duration `yaml:"ping_interval"`
	QueueSize        int      `yaml:"queue_size"`

	// TLS serves wss:// when cert_file is set.
	TLS TLSServerConfig `yaml:"tls"`
}

// CollectorConfig is the ingest endpoint.
type CollectorConfig struct {
	Listen              string           `yaml:"listen"`
	Path                string           `yaml:"path"`
	MaxBodySize         ByteSize         `yaml:"max_body_size"`
	DedupeCapacity      uint             `yaml:"dedupe_capacity"`
	DedupeFalsePositive float64          `yaml:"dedupe_false_positive"`
	AllowedOrigins      []string         `yaml:"allowed_origins"`
	SilenceThreshold    Duration         `yaml:"silence_threshold"`
	MaxApps             int              `yaml:"max_apps"`
	TLS                 TLSServerConfig  `yaml:"tls"`
	Auth                AuthServerConfig `yaml:"auth"`
}

// TLSServerConfig enables TLS on a listener.
type TLSServerConfig struct {
	CertFile       string   `yaml:"cert_file"`
	KeyFile        string   `yaml:"key_file"`
	ClientCAFile   string   `yaml:"client_ca_file"`
	ReloadInterval Duration `yaml:"reload_interval"`
}

// TLSClientConfig configures outgoing TLS.
type TLSClientConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// AuthServerConfig lists the credentials ingest accepts.
type AuthServerConfig struct {
	BearerToken       string `yaml:"bearer_token"`
	BasicAuthUsername string `yaml:"basic_auth_username"`
	BasicAuthPassword string `yaml:"basic_auth_password"`
}

// AuthClientConfig holds the credentials sent with every report.
type AuthClientConfig struct {
	BearerToken       string            `yaml:"bearer_token"`
	BasicAuthUsername string            `yaml:"basic_auth_username"`
	BasicAuthPassword string            `yaml:"basic_auth_password"`
	Headers           map[string]string `yaml:"headers"`
}

func (t TLSServerConfig) convert() tls.ServerConfig {
	return tls.ServerConfig{
		CertFile:       t.CertFile,
		KeyFile:        t.KeyFile,
		ClientCAFile:   t.ClientCAFile,
		ReloadInterval: time.Duration(t.ReloadInterval),
	}
}

// StatsConfig is the listener serving /metrics, /live and /ready.
type StatsConfig struct {
	Address string `yaml:"address"`
}

// TelemetryConfig holds OTLP self-telemetry settings.
type TelemetryConfig struct {
	Endpoint        string            `yaml:"endpoint"` // empty disables export
	Protocol        string            `yaml:"protocol"` // grpc or http
	Insecure        bool              `yaml:"insecure"`
	Timeout         Duration          `yaml:"timeout"`
	PushInterval    Duration          `yaml:"push_interval"`
	Compression     string            `yaml:"compression"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
	Headers         map[string]string `yaml:"headers"`
	Retry           RetryConfig       `yaml:"retry"`
}

// RetryConfig is the OTLP exporter retry policy.
type RetryConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Initial     Duration `yaml:"initial"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxElapsed  Duration `yaml:"max_elapsed"`
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MemoryConfig sets GOMEMLIMIT from the container limit.
type MemoryConfig struct {
	// LimitRatio is the share of the cgroup memory limit used as GOMEMLIMIT.
	// Zero disables it.
	LimitRatio float64 `yaml:"limit_ratio"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	rep := reporter.DefaultConfig()
	br := bridge.DefaultConfig()
	col := collector.DefaultConfig()
	mon := monitor.DefaultConfig()
	return &Config{
		Monitor: MonitorConfig{
			Sampling:     mon.Sampling,
			MaxQueueSize: mon.MaxQueueSize,
		},
		Reporter: ReporterConfig{
			Strategies:       rep.Strategies,
			Timeout:          Duration(rep.Timeout),
			MaxBeaconBytes:   ByteSize(rep.MaxBeaconBytes),
			MaxPixelURLBytes: ByteSize(rep.MaxPixelURLBytes),
			MaxInFlight:      rep.MaxInFlight,
			Compression:      rep.Compression,
		},
		Bridge: BridgeConfig{
			Listen:           ":8700",
			Path:             br.Path,
			ReadLimit:        ByteSize(br.ReadLimit),
			HandshakeTimeout: Duration(br.HandshakeTimeout),
			WriteTimeout:     Duration(br.WriteTimeout),
			PingInterval:     Duration(br.PingInterval),
			QueueSize:        br.QueueSize,
		},
		Collector: CollectorConfig{
			Listen:              ":8710",
			Path:                col.Path,
			MaxBodySize:         ByteSize(col.MaxBodySize),
			DedupeCapacity:      col.DedupeCapacity,
			DedupeFalsePositive: col.DedupeFalsePositive,
			SilenceThreshold:    Duration(col.SilenceThreshold),
			MaxApps:             col.MaxApps,
		},
		Stats: StatsConfig{Address: ":9090"},
		Telemetry: TelemetryConfig{
			Protocol:        "grpc",
			Insecure:        true,
			PushInterval:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
			Retry:           RetryConfig{Enabled: true},
		},
		Logging: LoggingConfig{Level: "info"},
		Memory:  MemoryConfig{LimitRatio: 0.9},
	}
}

// ApplyDefaults fills settings a file left empty where empty is never a
// usable value.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.Monitor.MaxQueueSize <= 0 {
		c.Monitor.MaxQueueSize = def.Monitor.MaxQueueSize
	}
	if len(c.Reporter.Strategies) == 0 {
		c.Reporter.Strategies = def.Reporter.Strategies
	}
	if c.Reporter.Timeout <= 0 {
		c.Reporter.Timeout = def.Reporter.Timeout
	}
	if c.Reporter.Compression == "" {
		c.Reporter.Compression = def.Reporter.Compression
	}
	if c.Bridge.Path == "" {
		c.Bridge.Path = def.Bridge.Path
	}
	if c.Collector.Path == "" {
		c.Collector.Path = def.Collector.Path
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// MonitorConfig converts the monitor section. plugins names every plugin
// available and is used when the section lists none.
func (c *Config) MonitorConfig(plugins []string) monitor.Config {
	out := monitor.DefaultConfig()
	out.AppID = c.Monitor.AppID
	out.ReportURL = c.Monitor.ReportURL
	out.Sampling = c.Monitor.Sampling
	out.MaxQueueSize = c.Monitor.MaxQueueSize
	out.ReportInterval = time.Duration(c.Monitor.ReportInterval)
	out.Plugins = c.Monitor.Plugins
	if len(out.Plugins) == 0 {
		out.Plugins = plugins
	}
	if len(c.Monitor.PluginsConfig) > 0 {
		out.PluginsConfig = make(map[string]plugin.RawConfig, len(c.Monitor.PluginsConfig))
		for name, opts := range c.Monitor.PluginsConfig {
			out.PluginsConfig[name] = plugin.RawConfig(opts)
		}
	}
	return out
}

// ReporterConfig converts the reporter section.
func (c *Config) ReporterConfig() reporter.Config {
	return reporter.Config{
		Strategies:       c.Reporter.Strategies,
		Timeout:          time.Duration(c.Reporter.Timeout),
		MaxBeaconBytes:   int(c.Reporter.MaxBeaconBytes),
		MaxPixelURLBytes: int(c.Reporter.MaxPixelURLBytes),
		MaxInFlight:      c.Reporter.MaxInFlight,
		Compression:      c.Reporter.Compression,
		ForceHTTP2:       c.Reporter.ForceHTTP2,
	}
}

// ReporterTLS converts reporter.tls.
func (c *Config) ReporterTLS() tls.ClientConfig {
	t := c.Reporter.TLS
	return tls.ClientConfig{
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		CAFile:             t.CAFile,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}

// ReporterAuth converts reporter.auth.
func (c *Config) ReporterAuth() auth.ClientConfig {
	a := c.Reporter.Auth
	return auth.ClientConfig{
		BearerToken:       a.BearerToken,
		BasicAuthUsername: a.BasicAuthUsername,
		BasicAuthPassword: a.BasicAuthPassword,
		Headers:           a.Headers,
	}
}

// BridgeTLS converts bridge.tls.
func (c *Config) BridgeTLS() tls.ServerConfig { return c.Bridge.TLS.convert() }

// CollectorTLS converts collector.tls.
func (c *Config) CollectorTLS() tls.ServerConfig { return c.Collector.TLS.convert() }

// CollectorAuth converts collector.auth.
func (c *Config) CollectorAuth() auth.ServerConfig {
	a := c.Collector.Auth
	return auth.ServerConfig{
		BearerToken:       a.BearerToken,
		BasicAuthUsername: a.BasicAuthUsername,
		BasicAuthPassword: a.BasicAuthPassword,
	}
}

// BridgeConfig converts the bridge section.
func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		Path:             c.Bridge.Path,
		AllowedOrigins:   c.Bridge.AllowedOrigins,
		ReadLimit:        int64(c.Bridge.ReadLimit),
		HandshakeTimeout: time.Duration(c.Bridge.HandshakeTimeout),
		WriteTimeout:     time.Duration(c.Bridge.WriteTimeout),
		PingInterval:     time.Duration(c.Bridge.PingInterval),
		QueueSize:        c.Bridge.QueueSize,
	}
}

// CollectorConfig converts the collector section.
func (c *Config) CollectorConfig() collector.Config {
	return collector.Config{
		Path:                c.Collector.Path,
		MaxBodySize:         int64(c.Collector.MaxBodySize),
		DedupeCapacity:      c.Collector.DedupeCapacity,
		DedupeFalsePositive: c.Collector.DedupeFalsePositive,
		AllowedOrigins:      c.Collector.AllowedOrigins,
		SilenceThreshold:    time.Duration(c.Collector.SilenceThreshold),
		MaxApps:             c.Collector.MaxApps,
	}
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig() telemetry.Config {
	t := c.Telemetry
	return telemetry.Config{
		Endpoint:         t.Endpoint,
		Protocol:         t.Protocol,
		Insecure:         t.Insecure,
		Timeout:          time.Duration(t.Timeout),
		PushInterval:     time.Duration(t.PushInterval),
		Compression:      t.Compression,
		Headers:          t.Headers,
		ShutdownTimeout:  time.Duration(t.ShutdownTimeout),
		RetryEnabled:     t.Retry.Enabled,
		RetryInitial:     time.Duration(t.Retry.Initial),
		RetryMaxInterval: time.Duration(t.Retry.MaxInterval),
		RetryMaxElapsed:  time.Duration(t.Retry.MaxElapsed),
	}
}
