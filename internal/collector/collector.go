// Package collector is the reference ingest endpoint for reported batches.
// It accepts both the POST strategies and the pixel GET, drops records it
// has already seen and keeps running counts and unique estimates.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/szibis/pagewatch/internal/activity"
	"github.com/szibis/pagewatch/internal/compression"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/record"
)

// ErrBodyTooLarge is returned when a batch exceeds MaxBodySize after
// decompression.
var ErrBodyTooLarge = errors.New("collector: batch too large")

// Config holds the ingest settings.
type Config struct {
	// Path is where the handler is mounted (default: /report).
	Path string
	// MaxBodySize caps a batch in bytes, before and after decompression.
	MaxBodySize int64
	// DedupeCapacity is the number of ids each Bloom generation holds.
	DedupeCapacity uint
	// DedupeFalsePositive is the target false positive rate per generation.
	DedupeFalsePositive float64
	// AllowedOrigins restricts CORS. Empty or "*" allows all.
	AllowedOrigins []string
	// SilenceThreshold marks an app silent after this long without records.
	SilenceThreshold time.Duration
	// MaxApps bounds the app ids tracked for silence.
	MaxApps int
}

// DefaultConfig returns the ingest defaults.
func DefaultConfig() Config {
	return Config{
		Path:                "/report",
		MaxBodySize:         1 << 20,
		DedupeCapacity:      1_000_000,
		DedupeFalsePositive: 0.001,
		SilenceThreshold:    15 * time.Minute,
		MaxApps:             1000,
	}
}

// Sink receives every accepted record.
type Sink func(rec *record.Record)

// Option configures a Handler.
type Option func(*Handler)

// WithSink forwards accepted records to s.
func WithSink(s Sink) Option {
	return func(h *Handler) { h.sink = s }
}

// Stats is a snapshot of the handler counters.
type Stats struct {
	Records    int64
	Duplicates int64
	Invalid    int64
	Sessions   uint64
	Users      uint64
	Apps       int
	SilentApps int
}

// Handler ingests reported batches.
type Handler struct {
	cfg      Config
	dedupe   *dedupe
	sessions *uniques
	users    *uniques
	apps     *activity.Tracker
	sink     Sink
	now      func() time.Time

	records    atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
}

// NewHandler creates an ingest handler. Zero config fields take defaults.
func NewHandler(cfg Config, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.DedupeCapacity == 0 {
		cfg.DedupeCapacity = def.DedupeCapacity
	}
	if cfg.DedupeFalsePositive <= 0 || cfg.DedupeFalsePositive >= 1 {
		cfg.DedupeFalsePositive = def.DedupeFalsePositive
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.MaxApps <= 0 {
		cfg.MaxApps = def.MaxApps
	}
	h := &Handler{
		cfg:      cfg,
		dedupe:   newDedupe(cfg.DedupeCapacity, cfg.DedupeFalsePositive),
		sessions: newUniques(),
		users:    newUniques(),
		apps:     activity.NewTracker(cfg.SilenceThreshold, cfg.MaxApps),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Path is the mount point of the handler.
func (h *Handler) Path() string { return h.cfg.Path }

// Stats returns the current counters and estimates.
func (h *Handler) Stats() Stats {
	return Stats{
		Records:    h.records.Load(),
		Duplicates: h.duplicates.Load(),
		Invalid:    h.invalid.Load(),
		Sessions:   h.sessions.Count(),
		Users:      h.users.Count(),
		Apps:       h.apps.Sources(),
		SilentApps: h.apps.Silent(),
	}
}

func (h *Handler) allowOrigin(origin string) bool {
	return len(h.cfg.AllowedOrigins) == 0 ||
		slices.Contains(h.cfg.AllowedOrigins, "*") ||
		slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP accepts a batch and replies 204.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && h.allowOrigin(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
	}

	var (
		batch []*record.Record
		err   error
	)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
		batch, err = h.readBody(w, r)
	case http.MethodGet:
		batch, err = h.readQuery(r)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		requestsTotal.WithLabelValues(r.Method, "rejected").Inc()
		status := http.StatusBadRequest
		if errors.Is(err, ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		logging.Warn("batch rejected", logging.F(
			"component", "collector",
			"remote", r.RemoteAddr,
			"error", err.Error(),
		))
		http.Error(w, err.Error(), status)
		return
	}

	requestsTotal.WithLabelValues(r.Method, "accepted").Inc()
	h.Ingest(batch)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]*record.Record, error) {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer body.Close()

	typ, err := compression.ParseContentEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		errorsTotal.WithLabelValues("decompress").Inc()
		return nil, err
	}
	src, err := compression.NewReader(body, typ)
	if err != nil {
		errorsTotal.WithLabelValues("decompress").Inc()
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.cfg.MaxBodySize+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorsTotal.WithLabelValues("read").Inc()
			return nil, ErrBodyTooLarge
		}
		errorsTotal.WithLabelValues("decompress").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > h.cfg.MaxBodySize {
		errorsTotal.WithLabelValues("read").Inc()
		return nil, ErrBodyTooLarge
	}
	return h.decode(data)
}

func (h *Handler) readQuery(r *http.Request) ([]*record.Record, error) {
	q := r.URL.Query().Get("batch")
	if q == "" {
		errorsTotal.WithLabelValues("decode").Inc()
		return nil, errors.New("missing batch parameter")
	}
	return h.decode([]byte(q))
}

func (h *Handler) decode(data []byte) ([]*record.Record, error) {
	batch, err := record.DecodeBatch(data)
	if err != nil {
		errorsTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}

// Ingest accounts for a decoded batch. Records without an id or type, and
// ids already seen, are dropped.
func (h *Handler) Ingest(batch []*record.Record) {
	for _, rec := range batch {
		if rec == nil || rec.ID == "" || rec.Type == "" {
			h.invalid.Add(1)
			errorsTotal.WithLabelValues("invalid").Inc()
			continue
		}
		if !h.dedupe.Add(rec.ID) {
			h.duplicates.Add(1)
			duplicatesTotal.Inc()
			continue
		}
		h.records.Add(1)
		typ, sub := labels(rec)
		recordsTotal.WithLabelValues(typ, sub).Inc()

		h.sessions.Add(rec.SessionID)
		h.users.Add(userKey(rec))
		if rec.AppID != "" {
			h.apps.Record(rec.AppID, h.now())
		}

		if rec.Type == record.TypeError {
			logging.Warn("page error reported", logging.F(
				"component", "collector",
				"app_id", rec.AppID,
				"session_id", rec.SessionID,
				"event", string(rec.Type)+":"+rec.SubType,
				"page_url", rec.PageURL,
				"message", errorMessage(rec.Payload),
			))
		}
		if h.sink != nil {
			h.sink(rec)
		}
	}
	uniqueSessions.Set(float64(h.sessions.Count()))
	uniqueUsers.Set(float64(h.users.Count()))
}

// WatchSilence scans the app ids every interval until ctx is done and logs
// apps that stop or resume reporting.
func (h *Handler) WatchSilence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.scanSilence()
		}
	}
}

func (h *Handler) scanSilence() {
	for _, tr := range h.apps.Scan(h.now()) {
		fields := logging.F(
			"component", "collector",
			"app_id", tr.Source,
			"last_seen", tr.LastSeen.UTC().Format(time.RFC3339),
		)
		if tr.Silent {
			logging.Warn("app stopped reporting", fields)
		} else {
			logging.Info("app reporting again", fields)
		}
	}
	silentApps.Set(float64(h.apps.Silent()))
}

// labels bounds metric labels to the record kinds this build knows.
func labels(rec *record.Record) (string, string) {
	if _, unknown := rec.Payload.(*record.Raw); unknown {
		return "unknown", "unknown"
	}
	switch rec.Type {
	case record.TypeError, record.TypePerformance, record.TypeBehavior, record.TypeCustomEvent:
	default:
		return "unknown", "unknown"
	}
	if _, free := rec.Payload.(*record.Interaction); free {
		return string(rec.Type), "interaction"
	}
	return string(rec.Type), rec.SubType
}

// userKey prefers the application user id and falls back to the
// pseudonymous visitor id carried by uv records.
func userKey(rec *record.Record) string {
	if rec.UserID != "" {
		return rec.UserID
	}
	if uv, ok := rec.Payload.(*record.UniqueVisitor); ok {
		return uv.VisitorID
	}
	return ""
}

func errorMessage(p record.Payload) string {
	switch e := p.(type) {
	case *record.JSError:
		return e.Message
	case *record.PromiseRejection:
		return e.Message
	case *record.ResourceError:
		return "failed to load " + e.URL
	case *record.HTTPError:
		if e.Message != "" {
			return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Message)
		}
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	case *record.FrameworkError:
		return e.Message
	case *record.ManualError:
		return e.Message
	}
	return ""
}
