// Package envinfo holds the environment facts stamped on every record and the
// small helpers shared by plugins: user-agent parsing and identifier minting.
package envinfo

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Browser identifies the user agent that produced a record.
type Browser struct {
	UserAgent string `json:"userAgent"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

// Device describes the screen and viewport at the time a record was stamped.
type Device struct {
	ScreenWidth    int     `json:"screenWidth"`
	ScreenHeight   int     `json:"screenHeight"`
	ViewportWidth  int     `json:"viewportWidth"`
	ViewportHeight int     `json:"viewportHeight"`
	PixelRatio     float64 `json:"pixelRatio"`
	Platform       string  `json:"platform,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// Environment bundles Browser and Device.
type Environment struct {
	Browser Browser
	Device  Device
}

type browserPattern struct {
	name string
	re   *regexp.Regexp
}

// Order matters: Edge and Chromium-based agents also carry "Chrome/" and
// "Safari/" tokens, so the more specific patterns come first.
var browserPatterns = []browserPattern{
	{"Edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{"Firefox", regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{"Chrome", regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{"Safari", regexp.MustCompile(`Version/([\d.]+).*Safari`)},
	{"IE", regexp.MustCompile(`(?:MSIE |Trident/.*rv:)([\d.]+)`)},
}

// ParseUserAgent extracts the browser family and version from a UA string.
// Unrecognised agents yield Name "unknown".
func ParseUserAgent(ua string) Browser {
	for _, p := range browserPatterns {
		if m := p.re.FindStringSubmatch(ua); m != nil {
			return Browser{UserAgent: ua, Name: p.name, Version: m[1]}
		}
	}
	return Browser{UserAgent: ua, Name: "unknown"}
}

// NewID mints a random identifier for records, sessions, stacks and visitors.
func NewID() string {
	return uuid.NewString()
}

// UnixMillis converts t to milliseconds since the epoch, the timestamp unit
// used on the wire.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Millis converts a duration to fractional milliseconds, the unit of
// high-resolution page timings.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
