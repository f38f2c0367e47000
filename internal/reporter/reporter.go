// Package reporter delivers flushed batches to the collection endpoint. It
// tries a fixed list of transport strategies in preference order and stops
// at the first one that accepts the batch. Delivery is best effort: a batch
// no strategy accepts is dropped.
package reporter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/record"
)

// Strategy names.
const (
	StrategyBeacon = "beacon"
	StrategyPixel  = "pixel"
	StrategyAsync  = "async"
	StrategyStream = "stream"
)

// Compression names for the stream strategy.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Config controls strategy selection and limits.
type Config struct {
	// Strategies in preference order.
	Strategies []string
	// Timeout bounds every HTTP exchange.
	Timeout time.Duration
	// MaxBeaconBytes caps the body the beacon strategy accepts.
	MaxBeaconBytes int
	// MaxPixelURLBytes caps the full GET URL of the pixel strategy.
	MaxPixelURLBytes int
	// MaxInFlight bounds concurrent deliveries across all strategies.
	MaxInFlight int
	// Compression applies to the stream strategy.
	Compression string
	// ForceHTTP2 configures the transport for HTTP/2.
	ForceHTTP2 bool
}

// DefaultConfig returns the standard strategy order and limits.
func DefaultConfig() Config {
	return Config{
		Strategies:       []string{StrategyBeacon, StrategyPixel, StrategyAsync, StrategyStream},
		Timeout:          10 * time.Second,
		MaxBeaconBytes:   64 << 10,
		MaxPixelURLBytes: 8 << 10,
		MaxInFlight:      8,
		Compression:      CompressionGzip,
	}
}

// Strategy is one way of putting a batch on the wire. Send returns nil once
// the strategy has taken responsibility for the batch. The built-in
// strategies never wait for the request to complete.
type Strategy interface {
	Name() string
	Send(ctx context.Context, url string, body []byte) error
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHTTPClient replaces the HTTP client built from Config.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

// WithTLSConfig sets the TLS settings of the client built from Config.
func WithTLSConfig(tc *tls.Config) Option {
	return func(r *Reporter) { r.tlsConfig = tc }
}

// WithTransportWrapper wraps the transport of the client built from
// Config, for example to add credentials.
func WithTransportWrapper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(r *Reporter) { r.wrap = wrap }
}

// WithStrategies replaces the configured strategies.
func WithStrategies(s ...Strategy) Option {
	return func(r *Reporter) { r.strategies = s }
}

// Reporter implements monitor.Reporter.
type Reporter struct {
	cfg        Config
	client     *http.Client
	strategies []Strategy
	tlsConfig  *tls.Config
	wrap       func(http.RoundTripper) http.RoundTripper
	limiter    *ConcurrencyLimiter
	wg         sync.WaitGroup
	// gate orders background admissions against Close.
	gate   sync.RWMutex
	closed atomic.Bool
}

// New builds a reporter. Unknown strategy or compression names are errors.
func New(cfg Config, opts ...Option) (*Reporter, error) {
	def := DefaultConfig()
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = def.Strategies
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBeaconBytes <= 0 {
		cfg.MaxBeaconBytes = def.MaxBeaconBytes
	}
	if cfg.MaxPixelURLBytes <= 0 {
		cfg.MaxPixelURLBytes = def.MaxPixelURLBytes
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	switch cfg.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return nil, fmt.Errorf("reporter: unknown compression %q", cfg.Compression)
	}

	r := &Reporter{cfg: cfg, limiter: NewConcurrencyLimiter(cfg.MaxInFlight)}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = newHTTPClient(cfg, r.tlsConfig, r.wrap)
	}
	if r.strategies == nil {
		for _, name := range cfg.Strategies {
			s, err := r.strategy(name)
			if err != nil {
				return nil, err
			}
			r.strategies = append(r.strategies, s)
		}
	}
	return r, nil
}

func (r *Reporter) strategy(name string) (Strategy, error) {
	switch name {
	case StrategyBeacon:
		return &background{name: name, r: r, prepare: r.beaconRequest}, nil
	case StrategyPixel:
		return &background{name: name, r: r, prepare: r.pixelRequest}, nil
	case StrategyAsync:
		return &background{name: name, r: r, prepare: r.asyncRequest}, nil
	case StrategyStream:
		return &background{name: name, r: r, prepare: r.streamRequest}, nil
	default:
		return nil, fmt.Errorf("reporter: unknown strategy %q", name)
	}
}

func newHTTPClient(cfg Config, tc *tls.Config, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     tc,
	}
	if cfg.ForceHTTP2 {
		if _, err := http2.ConfigureTransports(transport); err != nil {
			logging.Warn("HTTP/2 transport setup failed, using HTTP/1.1", logging.F(
				"component", "reporter",
				"error", err,
			))
		}
	}
	var rt http.RoundTripper = transport
	if wrap != nil {
		rt = wrap(transport)
	}
	return &http.Client{Transport: rt, Timeout: cfg.Timeout}
}

// Report encodes batch as a JSON array and offers it to each strategy in
// order. It reports whether any strategy accepted it.
func (r *Reporter) Report(url string, batch []*record.Record) bool {
	if url == "" || len(batch) == 0 {
		return false
	}
	if r.closed.Load() {
		batchesTotal.WithLabelValues("dropped").Inc()
		return false
	}
	body, err := json.Marshal(batch)
	if err != nil {
		batchesTotal.WithLabelValues("dropped").Inc()
		logging.Error("batch encoding failed", logging.F(
			"component", "reporter",
			"records", len(batch),
			"error", err,
		))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	for _, s := range r.strategies {
		err := s.Send(ctx, url, body)
		if err == nil {
			attemptsTotal.WithLabelValues(s.Name(), "accepted").Inc()
			bytesTotal.WithLabelValues(s.Name()).Add(float64(len(body)))
			batchesTotal.WithLabelValues("accepted").Inc()
			return true
		}
		typ := errorType(err)
		result := "failed"
		if typ == ErrorTypeRejected {
			result = "rejected"
		}
		attemptsTotal.WithLabelValues(s.Name(), result).Inc()
		deliveryErrorsTotal.WithLabelValues(s.Name(), string(typ)).Inc()
		logging.Debug("strategy did not take batch", logging.F(
			"component", "reporter",
			"strategy", s.Name(),
			"error_type", string(typ),
			"error", err,
		))
	}

	batchesTotal.WithLabelValues("dropped").Inc()
	logging.Warn("no delivery strategy accepted batch", logging.F(
		"component", "reporter",
		"records", len(batch),
		"bytes", len(body),
	))
	return false
}

// Close rejects new batches and waits for background deliveries.
func (r *Reporter) Close() error {
	r.gate.Lock()
	r.closed.Store(true)
	r.gate.Unlock()
	r.wg.Wait()
	r.client.CloseIdleConnections()
	return nil
}
