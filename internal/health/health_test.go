package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func probe(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return rec.Code, resp
}

func TestProbes(t *testing.T) {
	tests := []struct {
		name      string
		checks    map[string]CheckFunc
		draining  bool
		wantLive  int
		wantReady int
	}{
		{"no components", nil, false, http.StatusOK, http.StatusOK},
		{
			"all up",
			map[string]CheckFunc{"bridge": func() error { return nil }, "collector": func() error { return nil }},
			false, http.StatusOK, http.StatusOK,
		},
		{
			"one down",
			map[string]CheckFunc{"bridge": func() error { return nil }, "collector": func() error { return errors.New("not listening") }},
			false, http.StatusOK, http.StatusServiceUnavailable,
		},
		{"draining", map[string]CheckFunc{"bridge": func() error { return nil }}, true, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for name, fn := range tt.checks {
				c.Register(name, fn)
			}
			if tt.draining {
				c.SetShuttingDown()
			}
			mux := http.NewServeMux()
			c.Mount(mux)

			if code, _ := probe(t, mux, "/live"); code != tt.wantLive {
				t.Errorf("/live = %d, want %d", code, tt.wantLive)
			}
			code, resp := probe(t, mux, "/ready")
			if code != tt.wantReady {
				t.Errorf("/ready = %d, want %d (%+v)", code, tt.wantReady, resp)
			}
			if tt.draining && resp.Components["process"].Message != "shutting down" {
				t.Errorf("draining components = %+v", resp.Components)
			}
		})
	}
}

func TestEvaluateReportsFailingComponent(t *testing.T) {
	c := New()
	c.Register("collector", func() error { return errors.New("not listening") })
	c.Register("bridge", func() error { return nil })

	resp := c.Evaluate()
	if resp.Status != StatusDown {
		t.Errorf("status = %s", resp.Status)
	}
	if got := resp.Components["collector"]; got.Status != StatusDown || got.Message != "not listening" {
		t.Errorf("collector = %+v", got)
	}
	if resp.Components["bridge"].Status != StatusUp {
		t.Errorf("bridge = %+v", resp.Components["bridge"])
	}

	c.Register("collector", func() error { return nil })
	if resp := c.Evaluate(); resp.Status != StatusUp {
		t.Errorf("replaced check still failing: %+v", resp)
	}
}
