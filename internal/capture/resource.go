package capture

import (
	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// ResourceErrorOptions configures the resource failure plugin.
type ResourceErrorOptions struct {
	MaxHTMLLength int `yaml:"maxHtmlLength"`
}

// ResourceError reports elements whose src or href failed to load.
type ResourceError struct {
	host     plugin.Host
	life     plugin.Lifecycle
	opts     ResourceErrorOptions
	listener platform.Listener
}

// NewResourceError is the factory for the resource failure plugin.
func NewResourceError(host plugin.Host) plugin.Plugin {
	return &ResourceError{host: host, opts: ResourceErrorOptions{MaxHTMLLength: 1000}}
}

func (r *ResourceError) Name() string { return ResourceErrorName }

func (r *ResourceError) Init(cfg plugin.RawConfig) error {
	if err := r.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &r.opts); err != nil {
		return err
	}
	// Element load failures do not bubble, so only a capturing listener sees them.
	r.listener = r.host.Platform().Listen(platform.TargetWindow, platform.EventError, true, r.onError)
	return nil
}

func (r *ResourceError) onError(ev platform.Event) {
	e, ok := ev.(*platform.ResourceErrorEvent)
	if !ok || e.Target == nil {
		return
	}
	src := e.Target.SourceURL()
	if src == "" {
		return
	}
	var paths []string
	for _, el := range e.Target.Ancestors() {
		paths = append(paths, el.Selector())
	}
	r.host.Send(&record.ResourceError{
		URL:       src,
		TagName:   e.Target.TagName(),
		HTML:      truncate(e.Target.OuterHTML, r.opts.MaxHTMLLength),
		Paths:     paths,
		Level:     record.LevelWarning,
		StartTime: envinfo.Millis(r.host.Platform().Elapsed()),
	})
}

func (r *ResourceError) Destroy() {
	if !r.life.Deactivate() {
		return
	}
	if r.listener != nil {
		r.listener.Remove()
	}
}

// truncate cuts s to at most n runes. A non-positive n disables the cap.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
