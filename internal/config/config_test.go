package config

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szibis/pagewatch/internal/reporter"
)

const sampleYAML = `
monitor:
  app_id: shop
  report_url: https://collect.shop.test/report
  sampling: 0.25
  report_interval: 15s
  plugins: [jsError, click, behaviorStack]
  plugins_config:
    behaviorStack:
      maxStackSize: 50
      includeTypes: [click, error]
reporter:
  strategies: [async, stream]
  compression: zstd
  max_beacon_bytes: 32Ki
bridge:
  listen: ":9000"
  allowed_origins: ["https://shop.test"]
  ping_interval: 1m
collector:
  max_body_size: 2Mi
logging:
  level: debug
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Monitor.AppID != "shop" || cfg.Monitor.Sampling != 0.25 {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if time.Duration(cfg.Monitor.ReportInterval) != 15*time.Second {
		t.Errorf("report_interval = %v", time.Duration(cfg.Monitor.ReportInterval))
	}
	if cfg.Reporter.MaxBeaconBytes != 32<<10 || cfg.Collector.MaxBodySize != 2<<20 {
		t.Errorf("byte sizes = %d, %d", cfg.Reporter.MaxBeaconBytes, cfg.Collector.MaxBodySize)
	}
	if !slices.Equal(cfg.Reporter.Strategies, []string{"async", "stream"}) {
		t.Errorf("strategies = %v", cfg.Reporter.Strategies)
	}
	// Untouched sections keep their defaults.
	if cfg.Bridge.Path != "/bridge" || cfg.Collector.Path != "/report" || cfg.Stats.Address != ":9090" {
		t.Errorf("defaults lost: bridge %q collector %q stats %q", cfg.Bridge.Path, cfg.Collector.Path, cfg.Stats.Address)
	}
	if !cfg.Telemetry.Insecure || cfg.Reporter.MaxInFlight != reporter.DefaultConfig().MaxInFlight {
		t.Errorf("defaults lost: telemetry %+v reporter %+v", cfg.Telemetry, cfg.Reporter)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("monitor:\n  appid: shop\n")); err == nil {
		t.Error("misspelt key accepted")
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Monitor.Sampling != 1 || cfg.Monitor.MaxQueueSize != 10 {
		t.Errorf("monitor defaults = %+v", cfg.Monitor)
	}
}

func TestConversions(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	m := cfg.MonitorConfig([]string{"everything"})
	if m.AppID != "shop" || m.ReportInterval != 15*time.Second || len(m.Plugins) != 3 {
		t.Errorf("monitor config = %+v", m)
	}
	if got := m.PluginsConfig["behaviorStack"]["maxStackSize"]; got != 50 {
		t.Errorf("plugin option = %#v", got)
	}

	cfg.Monitor.Plugins = nil
	if m := cfg.MonitorConfig([]string{"a", "b"}); !slices.Equal(m.Plugins, []string{"a", "b"}) {
		t.Errorf("fallback plugins = %v", m.Plugins)
	}

	if b := cfg.BridgeConfig(); b.Path != "/bridge" || b.PingInterval != time.Minute || len(b.AllowedOrigins) != 1 {
		t.Errorf("bridge config = %+v", b)
	}
	if r := cfg.ReporterConfig(); r.Compression != reporter.CompressionZstd || r.MaxBeaconBytes != 32<<10 {
		t.Errorf("reporter config = %+v", r)
	}
	if c := cfg.CollectorConfig(); c.MaxBodySize != 2<<20 || c.DedupeCapacity == 0 {
		t.Errorf("collector config = %+v", c)
	}
	if tc := cfg.TelemetryConfig(); tc.Protocol != "grpc" || !tc.RetryEnabled || tc.PushInterval != 30*time.Second {
		t.Errorf("telemetry config = %+v", tc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		role      Role
		mutate    func(*Config)
		wantValid bool
		wantField string
	}{
		{"valid agent", RoleAgent, func(*Config) {}, true, ""},
		{"missing app id", RoleAgent, func(c *Config) { c.Monitor.AppID = "" }, false, "monitor.app_id"},
		{"relative report url", RoleAgent, func(c *Config) { c.Monitor.ReportURL = "/report" }, false, "monitor.report_url"},
		{"unknown strategy", RoleAgent, func(c *Config) { c.Reporter.Strategies = []string{"carrier-pigeon"} }, false, "reporter.strategies"},
		{"bad compression", RoleAgent, func(c *Config) { c.Reporter.Compression = "brotli" }, false, "reporter.compression"},
		{"sampling out of range warns", RoleAgent, func(c *Config) { c.Monitor.Sampling = 3 }, true, "monitor.sampling"},
		{"collector ignores monitor", RoleCollector, func(c *Config) { c.Monitor = MonitorConfig{} }, true, ""},
		{"collector bad fp rate", RoleCollector, func(c *Config) { c.Collector.DedupeFalsePositive = 1 }, false, "collector.dedupe_false_positive"},
		{"bad log level", RoleCollector, func(c *Config) { c.Logging.Level = "loud" }, false, "logging.level"},
		{"bad telemetry protocol", RoleCollector, func(c *Config) { c.Telemetry.Protocol = "udp" }, false, "telemetry.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Monitor.AppID = "shop"
			cfg.Monitor.ReportURL = "https://collect.test/report"
			tt.mutate(cfg)

			res := cfg.Validate(tt.role)
			if res.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (issues %+v)", res.Valid, tt.wantValid, res.Issues)
			}
			if (res.Err() == nil) != tt.wantValid {
				t.Errorf("Err() = %v", res.Err())
			}
			if tt.wantField != "" && !slices.ContainsFunc(res.Issues, func(i ValidationIssue) bool { return i.Field == tt.wantField }) {
				t.Errorf("no issue for %s: %s", tt.wantField, res.JSON())
			}
		})
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, sampleYAML)
	cfg, opts, err := Load("pagewatch", []string{
		"-config", path,
		"-app-id", "checkout",
		"-plugins", "pv, uv",
		"-report-interval", "2s",
		"-bridge-allowed-origins", "https://a.test,https://b.test",
	}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.File != path {
		t.Errorf("File = %q", opts.File)
	}
	if cfg.Monitor.AppID != "checkout" {
		t.Errorf("app id = %q, flag should win", cfg.Monitor.AppID)
	}
	if cfg.Monitor.ReportURL != "https://collect.shop.test/report" || cfg.Monitor.Sampling != 0.25 {
		t.Errorf("unset flags overrode the file: %+v", cfg.Monitor)
	}
	if !slices.Equal(cfg.Monitor.Plugins, []string{"pv", "uv"}) {
		t.Errorf("plugins = %v", cfg.Monitor.Plugins)
	}
	if time.Duration(cfg.Monitor.ReportInterval) != 2*time.Second {
		t.Errorf("report interval = %v", time.Duration(cfg.Monitor.ReportInterval))
	}
	if len(cfg.Bridge.AllowedOrigins) != 2 || cfg.Bridge.Listen != ":9000" {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, _, err := Load("pagewatch", []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard); err == nil {
		t.Error("missing file accepted")
	}
	if _, _, err := Load("pagewatch", []string{"-report-interval", "soon"}, io.Discard); err == nil {
		t.Error("bad duration accepted")
	}
	if _, _, err := Load("pagewatch", []string{"extra"}, io.Discard); err == nil || !strings.Contains(err.Error(), "unexpected") {
		t.Errorf("positional argument err = %v", err)
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512", 512, false},
		{"64Ki", 64 << 10, false},
		{"1.5Mi", 3 << 19, false},
		{"2Gi", 2 << 30, false},
		{"", 0, false},
		{"256MB", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, %v", tt.in, got, err)
		}
	}
	for _, b := range []int64{512, 64 << 10, 3 << 20} {
		out, err := yaml.Marshal(ByteSize(b))
		if err != nil {
			t.Fatal(err)
		}
		var back ByteSize
		if err := yaml.Unmarshal(out, &back); err != nil || int64(back) != b {
			t.Errorf("%d -> %s -> %d (%v)", b, out, back, err)
		}
	}
}

func TestPrintVersion(t *testing.T) {
	var b strings.Builder
	PrintVersion(&b, "pagewatch-collector")
	if got := b.String(); got != "pagewatch-collector version "+Version()+"\n" {
		t.Errorf("PrintVersion = %q", got)
	}
}

func TestSecuritySections(t *testing.T) {
	cfg, err := Parse([]byte(`
monitor:
  app_id: shop
  report_url: https://collect.shop.test/report
reporter:
  tls:
    ca_file: /etc/pagewatch/ca.pem
    server_name: collect.shop.test
  auth:
    bearer_token: agent-token
    headers:
      X-Tenant: shop
bridge:
  tls:
    cert_file: /etc/pagewatch/bridge.crt
    key_file: /etc/pagewatch/bridge.key
    reload_interval: 1m
collector:
  auth:
    basic_auth_username: agent
    basic_auth_password: pw
`))
	if err != nil {
		t.Fatal(err)
	}
	if rt := cfg.ReporterTLS(); !rt.Enabled() || rt.ServerName != "collect.shop.test" {
		t.Errorf("reporter tls = %+v", rt)
	}
	if ra := cfg.ReporterAuth(); ra.BearerToken != "agent-token" || ra.Headers["X-Tenant"] != "shop" {
		t.Errorf("reporter auth = %+v", ra)
	}
	if bt := cfg.BridgeTLS(); !bt.Enabled() || bt.ReloadInterval != time.Minute {
		t.Errorf("bridge tls = %+v", bt)
	}
	if cfg.CollectorTLS().Enabled() {
		t.Error("collector tls enabled without a certificate")
	}
	if !cfg.CollectorAuth().Enabled() {
		t.Error("collector auth not enabled")
	}
	if err := cfg.Validate(RoleAgent).Err(); err != nil {
		t.Errorf("agent: %v", err)
	}
	if err := cfg.Validate(RoleCollector).Err(); err != nil {
		t.Errorf("collector: %v", err)
	}

	cfg.Bridge.TLS.KeyFile = ""
	cfg.Collector.Auth.BasicAuthPassword = ""
	if res := cfg.Validate(RoleAgent); res.Valid {
		t.Error("certificate without key accepted")
	}
	if res := cfg.Validate(RoleCollector); res.Valid {
		t.Error("username without password accepted")
	}
}
