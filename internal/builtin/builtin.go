// Package builtin wires every plugin shipped with pagewatch into a registry.
package builtin

import (
	"github.com/szibis/pagewatch/internal/behavior"
	"github.com/szibis/pagewatch/internal/capture"
	"github.com/szibis/pagewatch/internal/perf"
	"github.com/szibis/pagewatch/internal/plugin"
)

var factories = []struct {
	name string
	f    plugin.Factory
}{
	{capture.JSErrorName, capture.NewJSError},
	{capture.ResourceErrorName, capture.NewResourceError},
	{capture.HTTPErrorName, capture.NewHTTPError},
	{capture.FrameworkErrorName, capture.NewFrameworkError},

	{perf.PageLoadName, perf.NewPageLoad},
	{perf.ResourceLoadName, perf.NewResourceLoad},
	{perf.FirstPaintName, perf.NewFirstPaint},
	{perf.FirstContentfulPaintName, perf.NewFirstContentfulPaint},
	{perf.LargestContentfulPaintName, perf.NewLCP},
	{perf.FirstScreenName, perf.NewFirstScreen},
	{perf.WhiteScreenName, perf.NewWhiteScreen},
	{perf.LongTaskName, perf.NewLongTask},

	{behavior.ClickName, behavior.NewClick},
	{behavior.PageChangeName, behavior.NewPageChange},
	{behavior.PageViewName, behavior.NewPageView},
	{behavior.UniqueVisitorName, behavior.NewUniqueVisitor},
	{behavior.StackName, behavior.NewStack},
}

// Registry returns a registry holding every built-in plugin.
func Registry() *plugin.Registry {
	r := plugin.NewRegistry()
	for _, e := range factories {
		r.Register(e.name, e.f)
	}
	return r
}

// Names lists the built-in plugin names in registration order.
func Names() []string {
	out := make([]string, len(factories))
	for i, e := range factories {
		out[i] = e.name
	}
	return out
}
