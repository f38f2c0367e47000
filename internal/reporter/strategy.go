package reporter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/szibis/pagewatch/internal/compression"
	"github.com/szibis/pagewatch/internal/logging"
)

// background strategies validate the batch on the caller's goroutine and
// deliver it on their own, bounded by the reporter's limiter. A batch that
// finds the limiter full is refused with ErrBusy.
type background struct {
	name    string
	r       *Reporter
	prepare func(ctx context.Context, target string, body []byte) (*http.Request, error)
}

func (b *background) Name() string { return b.name }

func (b *background) Send(_ context.Context, target string, body []byte) error {
	r := b.r
	// The batch outlives Report, so the request gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	req, err := b.prepare(ctx, target, body)
	if err != nil {
		cancel()
		return rejected(b.name, err)
	}

	r.gate.RLock()
	if r.closed.Load() {
		r.gate.RUnlock()
		cancel()
		return rejected(b.name, ErrClosed)
	}
	if !r.limiter.TryAcquire() {
		r.gate.RUnlock()
		cancel()
		return rejected(b.name, ErrBusy)
	}
	r.wg.Add(1)
	r.gate.RUnlock()

	inFlight.Inc()
	go func() {
		defer r.wg.Done()
		defer r.limiter.Release()
		defer inFlight.Dec()
		defer cancel()
		if err := do(r.client, b.name, req); err != nil {
			deliveryErrorsTotal.WithLabelValues(b.name, string(errorType(err))).Inc()
			logging.Warn("background delivery failed", logging.F(
				"component", "reporter",
				"strategy", b.name,
				"error_type", string(errorType(err)),
				"error", err,
			))
		}
	}()
	return nil
}

func (r *Reporter) beaconRequest(ctx context.Context, target string, body []byte) (*http.Request, error) {
	if len(body) > r.cfg.MaxBeaconBytes {
		return nil, ErrPayloadTooLarge
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	// Beacons are sent as a simple request, which rules out a JSON content type.
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	return req, nil
}

func (r *Reporter) pixelRequest(ctx context.Context, target string, body []byte) (*http.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("batch", string(body))
	u.RawQuery = q.Encode()
	full := u.String()
	if len(full) > r.cfg.MaxPixelURLBytes {
		return nil, ErrPayloadTooLarge
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
}

func (r *Reporter) asyncRequest(ctx context.Context, target string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func do(client *http.Client, strategy string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return transportError(strategy, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return statusError(strategy, resp.StatusCode)
	}
	return nil
}

func (r *Reporter) streamRequest(ctx context.Context, target string, body []byte) (*http.Request, error) {
	if r.cfg.Compression == CompressionNone {
		return r.asyncRequest(ctx, target, body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, newEncodingBody(r.cfg.Compression, body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", r.cfg.Compression)
	return req, nil
}

// encodingBody compresses the batch into a pipe once the transport starts
// reading it. A request that is never sent starts no goroutine.
type encodingBody struct {
	once sync.Once
	pr   *io.PipeReader
	pw   *io.PipeWriter
	algo string
	body []byte
}

func newEncodingBody(algo string, body []byte) *encodingBody {
	pr, pw := io.Pipe()
	return &encodingBody{pr: pr, pw: pw, algo: algo, body: body}
}

func (e *encodingBody) start() {
	go func() {
		e.pw.CloseWithError(compress(e.pw, e.algo, e.body))
	}()
}

func (e *encodingBody) Read(p []byte) (int, error) {
	e.once.Do(e.start)
	return e.pr.Read(p)
}

// Close unblocks the compressing goroutine. The transport closes the request
// body on every path.
func (e *encodingBody) Close() error {
	return e.pr.Close()
}

func compress(w io.Writer, algo string, body []byte) error {
	enc, err := compression.NewWriter(w, compression.Type(algo))
	if err != nil {
		return err
	}
	if _, err := enc.Write(body); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
