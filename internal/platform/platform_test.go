package platform_test

import (
	"testing"
	"time"

	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/platform/platformtest"
)

func TestPrimitiveWrapRestore(t *testing.T) {
	var calls []string
	p := platform.NewPrimitive[func(string)](func(s string) { calls = append(calls, "base:"+s) })

	restoreA := p.Wrap(func(orig func(string)) func(string) {
		return func(s string) { calls = append(calls, "a"); orig(s) }
	})
	restoreB := p.Wrap(func(orig func(string)) func(string) {
		return func(s string) { calls = append(calls, "b"); orig(s) }
	})

	p.Get()("x")
	want := []string{"b", "a", "base:x"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}

	restoreB()
	restoreA()
	restoreA()
	calls = nil
	p.Get()("y")
	if len(calls) != 1 || calls[0] != "base:y" {
		t.Errorf("after restore calls = %v", calls)
	}
}

func TestElementPathAndSelector(t *testing.T) {
	body := &platform.Element{Tag: "BODY"}
	app := &platform.Element{Tag: "DIV", ID: "app", Parent: body}
	list := &platform.Element{Tag: "UL", Classes: []string{"menu", "top", "wide"}, Parent: app}
	item := &platform.Element{Tag: "LI", Parent: list}
	btn := &platform.Element{Tag: "BUTTON", Classes: []string{"btn", "primary"}, Parent: item}

	if got := btn.Selector(); got != "button.btn.primary" {
		t.Errorf("Selector() = %q", got)
	}
	if got := app.Selector(); got != "div#app" {
		t.Errorf("Selector() with id = %q", got)
	}
	if got := btn.Path(5, 2); got != "div#app > ul.menu.top > li > button.btn.primary" {
		t.Errorf("Path() = %q", got)
	}
	if got := btn.Path(2, 2); got != "li > button.btn.primary" {
		t.Errorf("Path(depth 2) = %q", got)
	}
	if !list.Matches(".top") || !app.Matches("#app") || !item.Matches("li") || app.Matches(".x") {
		t.Error("Matches() mismatch")
	}
	if !body.IsDocumentRoot() || app.IsDocumentRoot() {
		t.Error("IsDocumentRoot() mismatch")
	}
}

func TestRectContains(t *testing.T) {
	r := platform.Rect{Top: 10, Left: 10, Width: 100, Height: 50}
	tests := []struct {
		x, y float64
		want bool
	}{
		{10, 10, true},
		{109, 59, true},
		{110, 20, false},
		{50, 60, false},
		{5, 20, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.x, tt.y); got != tt.want {
			t.Errorf("Contains(%v,%v) = %v", tt.x, tt.y, got)
		}
	}
}

func TestDebouncerKeepsLatest(t *testing.T) {
	p := platformtest.New()
	d := platform.NewDebouncer(p, 300*time.Millisecond)

	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Call(func() { got = append(got, i) })
		p.Advance(100 * time.Millisecond)
	}
	p.Advance(300 * time.Millisecond)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("debounced calls = %v, want [3]", got)
	}

	d.Call(func() { got = append(got, 4) })
	d.Cancel()
	p.Advance(time.Second)
	if len(got) != 1 {
		t.Errorf("cancelled call ran: %v", got)
	}
}

func TestThrottler(t *testing.T) {
	p := platformtest.New()
	th := platform.NewThrottler(p, time.Second)
	if !th.Allow() {
		t.Fatal("first call must be allowed")
	}
	p.Advance(500 * time.Millisecond)
	if th.Allow() {
		t.Error("call within interval allowed")
	}
	p.Advance(600 * time.Millisecond)
	if !th.Allow() {
		t.Error("call after interval rejected")
	}
}
