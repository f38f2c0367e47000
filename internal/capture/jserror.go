// Package capture holds the error plugins: runtime errors and unhandled
// rejections, failed resource loads, failed network requests and errors
// raised through UI framework error hooks.
package capture

import (
	"fmt"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Plugin names.
const (
	JSErrorName        = "jsError"
	ResourceErrorName  = "resourceError"
	HTTPErrorName      = "httpError"
	FrameworkErrorName = "frameworkError"
)

const noStack = "no stack available"

// JSErrorOptions configures the runtime error plugin.
type JSErrorOptions struct {
	// SuppressDefault stops the page from surfacing the error itself.
	SuppressDefault bool `yaml:"suppressDefault"`
}

// JSError reports uncaught runtime errors and unhandled promise rejections.
type JSError struct {
	host      plugin.Host
	life      plugin.Lifecycle
	opts      JSErrorOptions
	listeners []platform.Listener
}

// NewJSError is the factory for the runtime error plugin.
func NewJSError(host plugin.Host) plugin.Plugin {
	return &JSError{host: host}
}

func (j *JSError) Name() string { return JSErrorName }

func (j *JSError) Init(cfg plugin.RawConfig) error {
	if err := j.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &j.opts); err != nil {
		return err
	}
	p := j.host.Platform()
	j.listeners = append(j.listeners,
		p.Listen(platform.TargetWindow, platform.EventError, false, j.onError),
		p.Listen(platform.TargetWindow, platform.EventUnhandledRejection, false, j.onRejection),
	)
	return nil
}

func (j *JSError) onError(ev platform.Event) {
	e, ok := ev.(*platform.ErrorEvent)
	if !ok {
		return
	}
	stack := e.Stack
	if stack == "" {
		stack = noStack
	}
	j.host.Send(&record.JSError{
		Message:   e.Message,
		Filename:  e.Filename,
		Lineno:    e.Lineno,
		Colno:     e.Colno,
		Stack:     stack,
		Level:     record.LevelError,
		StartTime: envinfo.Millis(j.host.Platform().Elapsed()),
	})
	if j.opts.SuppressDefault {
		e.PreventDefault()
	}
}

func (j *JSError) onRejection(ev platform.Event) {
	e, ok := ev.(*platform.RejectionEvent)
	if !ok {
		return
	}
	msg, stack := describeReason(e.Reason)
	j.host.Send(&record.PromiseRejection{
		Message:   msg,
		Stack:     stack,
		Level:     record.LevelError,
		StartTime: envinfo.Millis(j.host.Platform().Elapsed()),
	})
}

func describeReason(reason any) (string, string) {
	switch r := reason.(type) {
	case nil:
		return "unhandled rejection", noStack
	case error:
		stack := noStack
		if s, ok := r.(interface{ Stack() string }); ok && s.Stack() != "" {
			stack = s.Stack()
		}
		return r.Error(), stack
	case string:
		return r, noStack
	default:
		return fmt.Sprint(r), noStack
	}
}

func (j *JSError) Destroy() {
	if !j.life.Deactivate() {
		return
	}
	removeAll(j.listeners)
	j.listeners = nil
}

func removeAll(ls []platform.Listener) {
	for _, l := range ls {
		l.Remove()
	}
}
