package activity

import (
	"sync"
	"testing"
	"time"
)

func TestActivityIsSilent(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	a := newActivity(start)

	tests := []struct {
		name string
		at   time.Duration
		want bool
	}{
		{"new source within threshold", 30 * time.Second, false},
		{"new source never recorded past threshold", 2 * time.Minute, true},
	}
	for _, tt := range tests {
		if got := a.IsSilent(start.Add(tt.at), time.Minute); got != tt.want {
			t.Errorf("%s: IsSilent = %v", tt.name, got)
		}
	}

	a.Record(start.Add(5 * time.Minute))
	if a.IsSilent(start.Add(5*time.Minute+30*time.Second), time.Minute) {
		t.Error("recently recorded source is silent")
	}
	if !a.IsSilent(start.Add(7*time.Minute), time.Minute) {
		t.Error("stale source is not silent")
	}
	if !a.LastSeen().Equal(start.Add(5 * time.Minute)) {
		t.Errorf("LastSeen = %v", a.LastSeen())
	}
}

func TestTrackerTransitions(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(time.Minute, 0)
	tr.Record("shop", start)
	tr.Record("blog", start)

	if got := tr.Scan(start.Add(30 * time.Second)); len(got) != 0 {
		t.Fatalf("early scan = %+v", got)
	}

	tr.Record("shop", start.Add(90*time.Second))
	got := tr.Scan(start.Add(2 * time.Minute))
	if len(got) != 1 || got[0].Source != "blog" || !got[0].Silent {
		t.Fatalf("scan = %+v, want blog silent", got)
	}
	if tr.Silent() != 1 {
		t.Errorf("Silent = %d", tr.Silent())
	}

	// No repeated transition while still silent.
	if got := tr.Scan(start.Add(3 * time.Minute)); len(got) != 1 || got[0].Source != "shop" {
		t.Fatalf("third scan = %+v, want only shop going silent", got)
	}

	tr.Record("blog", start.Add(4*time.Minute))
	got = tr.Scan(start.Add(4 * time.Minute))
	if len(got) != 1 || got[0].Source != "blog" || got[0].Silent {
		t.Fatalf("recovery scan = %+v", got)
	}
	if tr.Silent() != 1 {
		t.Errorf("Silent = %d, want shop only", tr.Silent())
	}
}

func TestTrackerBounded(t *testing.T) {
	tr := NewTracker(time.Minute, 2)
	now := time.Now()
	for _, s := range []string{"a", "b"} {
		if !tr.Record(s, now) {
			t.Fatalf("Record(%s) rejected", s)
		}
	}
	if tr.Record("c", now) {
		t.Error("third source accepted")
	}
	if !tr.Record("a", now) {
		t.Error("known source rejected when full")
	}
	if tr.Sources() != 2 || tr.Overflow() != 1 {
		t.Errorf("sources %d overflow %d", tr.Sources(), tr.Overflow())
	}
}

func TestTrackerConcurrentRecord(t *testing.T) {
	tr := NewTracker(time.Minute, 0)
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Record("shop", now)
				if j%100 == 0 {
					tr.Scan(now)
				}
			}
		}()
	}
	wg.Wait()
	if tr.Sources() != 1 {
		t.Errorf("Sources = %d", tr.Sources())
	}
}
