// Package perf holds the performance plugins: navigation and resource
// timing, paint marks, largest contentful paint, first-screen time,
// white-screen detection and long-task aggregation.
package perf

import "github.com/szibis/pagewatch/internal/platform"

// Plugin names.
const (
	PageLoadName               = "pageLoad"
	ResourceLoadName           = "resourceLoad"
	FirstPaintName             = "firstPaint"
	FirstContentfulPaintName   = "firstContentfulPaint"
	LargestContentfulPaintName = "largestContentfulPaint"
	FirstScreenName            = "firstScreen"
	WhiteScreenName            = "whiteScreen"
	LongTaskName               = "longTask"
)

func removeAll(ls []platform.Listener) {
	for _, l := range ls {
		if l != nil {
			l.Remove()
		}
	}
}

func stop(t platform.Timer) {
	if t != nil {
		t.Stop()
	}
}

func disconnect(o platform.Observer) {
	if o != nil {
		o.Disconnect()
	}
}

// span is end-start, or 0 when the phase did not happen.
func span(end, start float64) float64 {
	if end <= 0 || end < start {
		return 0
	}
	return end - start
}
