package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	dto "github.com/prometheus/client_model/go"

	"github.com/szibis/pagewatch/internal/compression"
	"github.com/szibis/pagewatch/internal/record"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func testBatch(t *testing.T, recs ...*record.Record) []byte {
	t.Helper()
	b, err := json.Marshal(recs)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func jsError(id, session string) *record.Record {
	return &record.Record{
		ID: id, AppID: "shop", SessionID: session,
		Type: record.TypeError, SubType: record.SubJS,
		PageURL: "https://shop.test/cart",
		Payload: &record.JSError{Message: "boom", Level: record.LevelError},
	}
}

func visitor(id, session, visitorID string) *record.Record {
	return &record.Record{
		ID: id, AppID: "shop", SessionID: session,
		Type: record.TypeBehavior, SubType: record.SubUniqueVisitor,
		Payload: &record.UniqueVisitor{VisitorID: visitorID},
	}
}

func TestIngestPost(t *testing.T) {
	var got []*record.Record
	h := NewHandler(Config{}, WithSink(func(r *record.Record) { got = append(got, r) }))

	body := testBatch(t, jsError("a", "s1"), visitor("b", "s1", "v1"), visitor("c", "s2", "v2"))
	req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if len(got) != 3 {
		t.Fatalf("sink got %d records, want 3", len(got))
	}
	if e, ok := got[0].Payload.(*record.JSError); !ok || e.Message != "boom" {
		t.Errorf("payload = %#v", got[0].Payload)
	}
	st := h.Stats()
	if st.Records != 3 || st.Sessions != 2 || st.Users != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestIngestDropsDuplicates(t *testing.T) {
	h := NewHandler(Config{})
	before := counterValue(t, duplicatesTotal)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewReader(testBatch(t, jsError("dup", "s1"))))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if st := h.Stats(); st.Records != 1 || st.Duplicates != 1 {
		t.Errorf("stats = %+v", st)
	}
	if got := counterValue(t, duplicatesTotal) - before; got != 1 {
		t.Errorf("duplicates counter delta = %v, want 1", got)
	}
}

func TestIngestCompressed(t *testing.T) {
	body := testBatch(t, jsError("z1", "s1"), jsError("z2", "s1"))

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(body)
	_ = gw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zs := enc.EncodeAll(body, nil)
	_ = enc.Close()

	var sn bytes.Buffer
	sw, err := compression.NewWriter(&sn, compression.TypeSnappy)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = sw.Write(body)
	_ = sw.Close()

	tests := []struct {
		encoding string
		body     []byte
		want     int
	}{
		{"gzip", gz.Bytes(), http.StatusNoContent},
		{"zstd", zs, http.StatusNoContent},
		{"x-snappy-framed", sn.Bytes(), http.StatusNoContent},
		{"br", body, http.StatusBadRequest},
		{"gzip", body, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			h := NewHandler(Config{})
			req := httptest.NewRequest(http.MethodPost, "/report", bytes.NewReader(tt.body))
			req.Header.Set("Content-Encoding", tt.encoding)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && h.Stats().Records != 2 {
				t.Errorf("records = %d, want 2", h.Stats().Records)
			}
		})
	}
}

func TestIngestPixel(t *testing.T) {
	h := NewHandler(Config{})
	q := url.Values{"batch": {string(testBatch(t, visitor("p1", "s1", "v1")))}}
	req := httptest.NewRequest(http.MethodGet, "/report?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || h.Stats().Records != 1 {
		t.Errorf("status = %d, stats = %+v", rec.Code, h.Stats())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing batch status = %d", rec.Code)
	}
}

func TestIngestRejects(t *testing.T) {
	h := NewHandler(Config{MaxBodySize: 64})

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"malformed", http.MethodPost, "{not json", http.StatusBadRequest},
		{"too large", http.MethodPost, "[" + strings.Repeat(" ", 100) + "]", http.StatusRequestEntityTooLarge},
		{"method", http.MethodPut, "[]", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/report", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIngestCountsInvalid(t *testing.T) {
	h := NewHandler(Config{})
	h.Ingest([]*record.Record{nil, {Type: record.TypeError}, {ID: "x"}})
	if st := h.Stats(); st.Invalid != 3 || st.Records != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCORS(t *testing.T) {
	h := NewHandler(Config{AllowedOrigins: []string{"https://shop.test"}})

	req := httptest.NewRequest(http.MethodOptions, "/report", nil)
	req.Header.Set("Origin", "https://shop.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.test" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/report", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin allowed: %q", got)
	}
}

func TestLabelsBounded(t *testing.T) {
	tests := []struct {
		rec      *record.Record
		typ, sub string
	}{
		{jsError("1", "s"), "error", "js"},
		{&record.Record{Type: record.TypeBehavior, SubType: "scroll", Payload: &record.Interaction{Action: "scroll"}}, "behavior", "interaction"},
		{&record.Record{Type: "weird", SubType: "x", Payload: &record.Raw{Type: "weird", SubType: "x"}}, "unknown", "unknown"},
	}
	for _, tt := range tests {
		typ, sub := labels(tt.rec)
		if typ != tt.typ || sub != tt.sub {
			t.Errorf("labels(%s/%s) = %s/%s, want %s/%s", tt.rec.Type, tt.rec.SubType, typ, sub, tt.typ, tt.sub)
		}
	}
}

func TestDedupeRotates(t *testing.T) {
	d := newDedupe(10, 0.001)
	for i := range 10 {
		if !d.Add(fmt.Sprint("id-", i)) {
			t.Fatalf("id-%d reported as duplicate", i)
		}
	}
	// Rotation keeps the previous generation.
	if !d.Add("id-10") {
		t.Fatal("id-10 reported as duplicate")
	}
	if d.Add("id-3") {
		t.Error("id-3 forgotten right after rotation")
	}
}

func TestSilentApps(t *testing.T) {
	h := NewHandler(Config{SilenceThreshold: time.Minute, MaxApps: 2})
	now := time.Unix(1_700_000_000, 0)
	h.now = func() time.Time { return now }

	blog := jsError("b1", "s9")
	blog.AppID = "blog"
	other := jsError("o1", "s9")
	other.AppID = "third"
	h.Ingest([]*record.Record{jsError("s1", "s1"), blog, other})
	if st := h.Stats(); st.Apps != 2 {
		t.Fatalf("apps = %d, want capped at 2", st.Apps)
	}

	now = now.Add(50 * time.Second)
	h.Ingest([]*record.Record{jsError("s2", "s1")})
	now = now.Add(30 * time.Second)
	h.scanSilence()
	if st := h.Stats(); st.SilentApps != 1 {
		t.Errorf("silent = %d, want blog only", st.SilentApps)
	}

	next := jsError("b2", "s9")
	next.AppID = "blog"
	h.Ingest([]*record.Record{next})
	h.scanSilence()
	if st := h.Stats(); st.SilentApps != 0 {
		t.Errorf("silent = %d after blog resumed", st.SilentApps)
	}
}

func TestWatchSilenceStops(t *testing.T) {
	h := NewHandler(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.WatchSilence(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchSilence did not return")
	}
}
