package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"

	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/reporter"
)

// Role selects the sections a binary depends on.
type Role string

const (
	RoleAgent     Role = "agent"
	RoleCollector Role = "collector"
)

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError prevents startup.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning is logged and startup continues.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single finding.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	Field    string             `json:"field"`
	Message  string             `json:"message"`
}

// ValidationResult holds every finding for one configuration.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// JSON returns the result as indented JSON.
func (r *ValidationResult) JSON() string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}

// Err returns the error-level issues joined into one error, or nil.
func (r *ValidationResult) Err() error {
	var msgs []string
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			msgs = append(msgs, is.Field+": "+is.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) add(sev ValidationSeverity, field, format string, args ...any) {
	if sev == SeverityError {
		r.Valid = false
	}
	r.Issues = append(r.Issues, ValidationIssue{Severity: sev, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the sections role uses.
func (c *Config) Validate(role Role) *ValidationResult {
	r := &ValidationResult{Valid: true}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		r.add(SeverityError, "logging.level", "unknown level %q", c.Logging.Level)
	}
	if c.Memory.LimitRatio < 0 || c.Memory.LimitRatio > 1 {
		r.add(SeverityError, "memory.limit_ratio", "must be within [0,1], got %v", c.Memory.LimitRatio)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		r.add(SeverityError, "telemetry.protocol", "must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.Endpoint != "" && !c.Telemetry.Insecure && isLocalhost(c.Telemetry.Endpoint) {
		r.add(SeverityWarning, "telemetry.insecure", "TLS enabled for a localhost endpoint")
	}

	switch role {
	case RoleAgent:
		c.validateAgent(r)
	case RoleCollector:
		if c.Collector.Listen == "" {
			r.add(SeverityError, "collector.listen", "is required")
		}
		if !strings.HasPrefix(c.Collector.Path, "/") {
			r.add(SeverityError, "collector.path", "must start with /")
		}
		if fp := c.Collector.DedupeFalsePositive; fp <= 0 || fp >= 1 {
			r.add(SeverityError, "collector.dedupe_false_positive", "must be within (0,1), got %v", fp)
		}
		validateTLS(r, "collector.tls", c.Collector.TLS)
		if a := c.Collector.Auth; a.BearerToken == "" && (a.BasicAuthUsername == "") != (a.BasicAuthPassword == "") {
			r.add(SeverityError, "collector.auth", "basic auth needs both username and password")
		}
	}
	return r
}

func (c *Config) validateAgent(r *ValidationResult) {
	m := c.Monitor
	if m.AppID == "" {
		r.add(SeverityError, "monitor.app_id", "is required")
	}
	if m.ReportURL == "" {
		r.add(SeverityError, "monitor.report_url", "is required")
	} else if u, err := url.Parse(m.ReportURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		r.add(SeverityError, "monitor.report_url", "must be an absolute http(s) URL, got %q", m.ReportURL)
	}
	if math.IsNaN(m.Sampling) || m.Sampling < 0 || m.Sampling > 1 {
		r.add(SeverityWarning, "monitor.sampling", "outside [0,1], 1 will be used")
	}
	if m.ReportInterval < 0 {
		r.add(SeverityWarning, "monitor.report_interval", "negative interval disables periodic flush")
	}
	for name := range m.PluginsConfig {
		if len(m.Plugins) > 0 && !slices.Contains(m.Plugins, name) {
			r.add(SeverityWarning, "monitor.plugins_config."+name, "plugin is not enabled")
		}
	}

	known := []string{reporter.StrategyBeacon, reporter.StrategyPixel, reporter.StrategyAsync, reporter.StrategyStream}
	for _, s := range c.Reporter.Strategies {
		if !slices.Contains(known, s) {
			r.add(SeverityError, "reporter.strategies", "unknown strategy %q", s)
		}
	}
	switch c.Reporter.Compression {
	case reporter.CompressionNone, reporter.CompressionGzip, reporter.CompressionZstd:
	default:
		r.add(SeverityError, "reporter.compression", "must be none, gzip or zstd, got %q", c.Reporter.Compression)
	}

	if c.Bridge.Listen == "" {
		r.add(SeverityError, "bridge.listen", "is required")
	}
	if !strings.HasPrefix(c.Bridge.Path, "/") {
		r.add(SeverityError, "bridge.path", "must start with /")
	}
	if slices.Contains(c.Bridge.AllowedOrigins, "*") && len(c.Bridge.AllowedOrigins) > 1 {
		r.add(SeverityWarning, "bridge.allowed_origins", "\"*\" makes the other entries redundant")
	}
	validateTLS(r, "bridge.tls", c.Bridge.TLS)

	if t := c.Reporter.TLS; (t.CertFile == "") != (t.KeyFile == "") {
		r.add(SeverityError, "reporter.tls", "cert_file and key_file must be set together")
	} else if t.InsecureSkipVerify {
		r.add(SeverityWarning, "reporter.tls.insecure_skip_verify", "collector certificate is not verified")
	}
	if a := c.Reporter.Auth; a.BasicAuthUsername != "" && a.BasicAuthPassword == "" {
		r.add(SeverityError, "reporter.auth", "basic auth needs a password")
	}
}

func validateTLS(r *ValidationResult, field string, t TLSServerConfig) {
	if (t.CertFile == "") != (t.KeyFile == "") {
		r.add(SeverityError, field, "cert_file and key_file must be set together")
	}
	if t.ClientCAFile != "" && t.CertFile == "" {
		r.add(SeverityError, field+".client_ca_file", "needs cert_file and key_file")
	}
}

func isLocalhost(endpoint string) bool {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	return strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1")
}
