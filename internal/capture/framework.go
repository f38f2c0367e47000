package capture

import (
	"strings"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// FrameworkError reports errors delivered to a UI framework's error hook and
// then hands them to whatever hook the page had installed.
type FrameworkError struct {
	host    plugin.Host
	life    plugin.Lifecycle
	restore func()
}

// NewFrameworkError is the factory for the framework error plugin.
func NewFrameworkError(host plugin.Host) plugin.Plugin {
	return &FrameworkError{host: host}
}

func (f *FrameworkError) Name() string { return FrameworkErrorName }

func (f *FrameworkError) Init(plugin.RawConfig) error {
	if err := f.life.Activate(); err != nil {
		return err
	}
	f.restore = f.host.Platform().ErrorBoundary().Wrap(func(orig platform.BoundaryFunc) platform.BoundaryFunc {
		return func(e platform.BoundaryError) {
			if f.life.Active() {
				f.report(e)
			}
			if orig != nil {
				orig(e)
			}
		}
	})
	return nil
}

func (f *FrameworkError) report(e platform.BoundaryError) {
	framework := strings.ToLower(e.Framework)
	if framework == "" {
		framework = record.SubReact
	}
	f.host.Send(&record.FrameworkError{
		Framework:      framework,
		Message:        e.Message,
		Stack:          e.Stack,
		Component:      e.Component,
		Info:           e.Info,
		ComponentStack: e.ComponentStack,
		Level:          record.LevelError,
		StartTime:      envinfo.Millis(f.host.Platform().Elapsed()),
	})
}

func (f *FrameworkError) Destroy() {
	if !f.life.Deactivate() {
		return
	}
	if f.restore != nil {
		f.restore()
	}
}
