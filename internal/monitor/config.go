package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/plugin"
)

const (
	defaultSampling     = 1.0
	defaultMaxQueueSize = 10
)

// Config holds monitor settings.
type Config struct {
	// AppID identifies the monitored application. Required.
	AppID string
	// ReportURL is the collection endpoint. Required.
	ReportURL string
	// UserID is attached to every record once set.
	UserID string
	// Sampling is the probability in [0,1] that a record is kept.
	Sampling float64
	// Plugins are initialized in order by Init.
	Plugins []string
	// MaxQueueSize triggers a flush when reached.
	MaxQueueSize int
	// ReportInterval flushes periodically when positive.
	ReportInterval time.Duration
	// PluginsConfig holds per-plugin option maps keyed by plugin name.
	PluginsConfig map[string]plugin.RawConfig
}

// DefaultConfig returns sampling 1, a queue of 10 and no periodic flush.
func DefaultConfig() Config {
	return Config{
		Sampling:     defaultSampling,
		MaxQueueSize: defaultMaxQueueSize,
	}
}

// ConfigError reports a missing or invalid required setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("monitor config: %s: %s", e.Field, e.Message)
}

// normalize rejects missing required fields and repairs the rest.
func (c Config) normalize() (Config, error) {
	if c.AppID == "" {
		return c, &ConfigError{Field: "appId", Message: "is required"}
	}
	if c.ReportURL == "" {
		return c, &ConfigError{Field: "reportUrl", Message: "is required"}
	}
	if math.IsNaN(c.Sampling) || c.Sampling < 0 || c.Sampling > 1 {
		logging.Warn("sampling outside [0,1], using 1", logging.F(
			"component", "monitor",
			"sampling", fmt.Sprint(c.Sampling),
		))
		c.Sampling = defaultSampling
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.ReportInterval < 0 {
		c.ReportInterval = 0
	}
	return c, nil
}
