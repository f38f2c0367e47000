package process

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/szibis/pagewatch/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stats.Address = "127.0.0.1:0"
	cfg.Memory.LimitRatio = 0
	return cfg
}

var client = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServeAndDrain(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := Start(context.Background(), "pagewatch", testConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Add("ingest", "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}), nil)
	var order []string
	p.OnShutdown(func() { order = append(order, "bridge") })
	p.OnShutdown(func() { order = append(order, "reporter") })

	if err := p.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	stats, ingest := p.Addr("stats"), p.Addr("ingest")
	if stats == "" || ingest == "" {
		t.Fatalf("addresses %q %q", stats, ingest)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		code, _ := get(t, "http://"+stats+"/ready")
		if code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("/ready = %d", code)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, body := get(t, "http://"+ingest+"/"); body != "ok" {
		t.Errorf("ingest body = %q", body)
	}
	if code, body := get(t, "http://"+stats+"/metrics"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics = %d", code)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if strings.Join(order, ",") != "bridge,reporter" {
		t.Errorf("hooks ran as %v", order)
	}
	if resp := p.Health().Evaluate(); resp.Status == "up" {
		t.Errorf("stopped listener still ready: %+v", resp)
	}
}

func TestListenConflict(t *testing.T) {
	p, err := Start(context.Background(), "pagewatch-collector", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Listen(); err != nil {
		t.Fatal(err)
	}
	stats := p.Addr("stats")
	defer func() {
		for _, l := range p.listeners {
			_ = l.ln.Close()
		}
	}()

	q, err := Start(context.Background(), "pagewatch-collector", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	q.Add("ingest", "127.0.0.1:0", http.NotFoundHandler(), nil)
	q.listeners[0].srv.Addr = stats
	if err := q.Listen(); err == nil || !strings.Contains(err.Error(), "listen stats") {
		t.Errorf("Listen on a bound address = %v", err)
	}
}

func TestServeBeforeListen(t *testing.T) {
	p, err := Start(context.Background(), "pagewatch", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Serve(context.Background()); err == nil {
		t.Error("Serve without Listen succeeded")
	}
}

func TestStartRejectsLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "loud"
	if _, err := Start(context.Background(), "pagewatch", cfg); err == nil {
		t.Error("unknown level accepted")
	}
}
