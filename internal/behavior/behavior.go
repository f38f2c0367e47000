// Package behavior holds the user behavior plugins: clicks, route changes,
// page views, unique visitors and the behavior stack that ties recent
// actions to errors.
package behavior

import (
	"strings"
	"time"

	"github.com/szibis/pagewatch/internal/platform"
)

// Plugin names.
const (
	ClickName         = "click"
	PageChangeName    = "pageChange"
	PageViewName      = "pv"
	UniqueVisitorName = "uv"
	StackName         = "behaviorStack"
)

// maskToken replaces sensitive values.
const maskToken = "******"

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func removeAll(ls []platform.Listener) {
	for _, l := range ls {
		if l != nil {
			l.Remove()
		}
	}
}

// truncate cuts s to n runes and marks the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// squash trims s and collapses runs of whitespace to one space.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
