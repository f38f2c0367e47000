package capture

import (
	"context"
	"errors"
	"strings"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Request transports.
const (
	transportFetch = "fetch"
	transportXHR   = "xhr"
)

// HTTPErrorOptions configures the request failure plugin.
type HTTPErrorOptions struct {
	// MaxResponseLength caps the response text attached to a report.
	MaxResponseLength int `yaml:"maxResponseLength"`
	// IgnoreURLs are substrings of request URLs that are never reported, in
	// addition to the monitor's own endpoint.
	IgnoreURLs []string `yaml:"ignoreUrls"`
}

// HTTPError decorates the page's request primitives and reports requests
// that fail at the network layer or come back with status 400 or above.
type HTTPError struct {
	host     plugin.Host
	life     plugin.Lifecycle
	opts     HTTPErrorOptions
	restores []func()
}

// NewHTTPError is the factory for the request failure plugin.
func NewHTTPError(host plugin.Host) plugin.Plugin {
	return &HTTPError{host: host, opts: HTTPErrorOptions{MaxResponseLength: 500}}
}

func (h *HTTPError) Name() string { return HTTPErrorName }

func (h *HTTPError) Init(cfg plugin.RawConfig) error {
	if err := h.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &h.opts); err != nil {
		return err
	}
	p := h.host.Platform()
	h.restores = append(h.restores,
		p.Fetch().Wrap(func(orig platform.RequestFunc) platform.RequestFunc { return h.decorate(transportFetch, orig) }),
		p.XHR().Wrap(func(orig platform.RequestFunc) platform.RequestFunc { return h.decorate(transportXHR, orig) }),
	)
	return nil
}

// decorate returns a RequestFunc that calls orig unchanged and observes the
// outcome.
func (h *HTTPError) decorate(transport string, orig platform.RequestFunc) platform.RequestFunc {
	return func(ctx context.Context, req *platform.Request) (*platform.Response, error) {
		p := h.host.Platform()
		started, startedAt := p.Elapsed(), p.Now()
		resp, err := orig(ctx, req)
		if h.life.Active() {
			h.observe(transport, req, resp, err, envinfo.Millis(p.Elapsed()-started), envinfo.UnixMillis(startedAt))
		}
		return resp, err
	}
}

func (h *HTTPError) ignored(url string) bool {
	if self := h.host.ReportURL(); self != "" && strings.HasPrefix(url, self) {
		return true
	}
	for _, s := range h.opts.IgnoreURLs {
		if s != "" && strings.Contains(url, s) {
			return true
		}
	}
	return false
}

func (h *HTTPError) observe(transport string, req *platform.Request, resp *platform.Response, err error, duration float64, start int64) {
	if req == nil || h.ignored(req.URL) {
		return
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}
	rep := &record.HTTPError{
		Transport: transport,
		Method:    strings.ToUpper(method),
		URL:       req.URL,
		Duration:  duration,
		StartTime: start,
		Level:     record.LevelError,
	}
	switch {
	case err != nil:
		rep.Status = 0
		if errors.Is(err, platform.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			rep.Message = "request timeout"
		} else {
			rep.Message = err.Error()
		}
	case resp != nil && resp.Status >= 400:
		rep.Status = resp.Status
		rep.Response = truncate(string(resp.Body), h.opts.MaxResponseLength)
		if resp.Status < 500 {
			rep.Level = record.LevelWarning
		}
	default:
		return
	}
	h.host.Send(rep)
}

func (h *HTTPError) Destroy() {
	if !h.life.Deactivate() {
		return
	}
	for i := len(h.restores) - 1; i >= 0; i-- {
		h.restores[i]()
	}
	h.restores = nil
}
