package envinfo

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name, ua, wantName, wantVersion string
	}{
		{
			name:        "chrome",
			ua:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36",
			wantName:    "Chrome",
			wantVersion: "120.0.6099.71",
		},
		{
			name:        "edge wins over chrome token",
			ua:          "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Edg/120.0.2210.61",
			wantName:    "Edge",
			wantVersion: "120.0.2210.61",
		},
		{
			name:        "firefox",
			ua:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.1; rv:121.0) Gecko/20100101 Firefox/121.0",
			wantName:    "Firefox",
			wantVersion: "121.0",
		},
		{
			name:        "safari",
			ua:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			wantName:    "Safari",
			wantVersion: "17.1",
		},
		{
			name:        "ie11",
			ua:          "Mozilla/5.0 (Windows NT 10.0; Trident/7.0; rv:11.0) like Gecko",
			wantName:    "IE",
			wantVersion: "11.0",
		},
		{
			name:     "unknown",
			ua:       "curl/8.4.0",
			wantName: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ParseUserAgent(tt.ua)
			if b.Name != tt.wantName || b.Version != tt.wantVersion {
				t.Errorf("ParseUserAgent() = %s %s, want %s %s", b.Name, b.Version, tt.wantName, tt.wantVersion)
			}
			if b.UserAgent != tt.ua {
				t.Errorf("UserAgent not preserved")
			}
		})
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("NewID() = %q is not a uuid: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(1500 * time.Microsecond); got != 1.5 {
		t.Errorf("Millis() = %v, want 1.5", got)
	}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	if got := UnixMillis(ts); got != ts.Unix()*1000+6 {
		t.Errorf("UnixMillis() = %d", got)
	}
}
