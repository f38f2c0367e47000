package behavior

import (
	"strings"

	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

const ignoreAttr = "data-monitor-ignore"

// ClickOptions configures click capture.
type ClickOptions struct {
	IgnoreClasses []string `yaml:"ignoreClasses"`
	// MaxContentLength caps the element text attached to a click.
	MaxContentLength int  `yaml:"maxElementContentLength"`
	CollectText      bool `yaml:"collectTextContent"`
	PathDepth        int  `yaml:"pathDepth"`
	// Throttle drops clicks closer together than this many milliseconds.
	Throttle int `yaml:"throttle"`
}

// Click reports clicks and touches on page elements.
type Click struct {
	host      plugin.Host
	life      plugin.Lifecycle
	opts      ClickOptions
	throttle  *platform.Throttler
	listeners []platform.Listener
}

// NewClick is the factory for the click plugin.
func NewClick(host plugin.Host) plugin.Plugin {
	return &Click{host: host, opts: ClickOptions{
		IgnoreClasses:    []string{"monitor-ignore"},
		MaxContentLength: 50,
		CollectText:      true,
		PathDepth:        5,
	}}
}

func (c *Click) Name() string { return ClickName }

func (c *Click) Init(cfg plugin.RawConfig) error {
	if err := c.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &c.opts); err != nil {
		return err
	}
	p := c.host.Platform()
	if c.opts.Throttle > 0 {
		c.throttle = platform.NewThrottler(p, ms(c.opts.Throttle))
	}
	for _, ev := range []string{platform.EventClick, platform.EventTouchStart} {
		c.listeners = append(c.listeners, p.Listen(platform.TargetDocument, ev, true, c.handle))
	}
	return nil
}

func (c *Click) handle(ev platform.Event) {
	pe, ok := ev.(*platform.PointerEvent)
	if !ok || pe.Target == nil || !c.life.Active() {
		return
	}
	el := pe.Target
	if c.ignored(el) {
		return
	}
	if c.throttle != nil && !c.throttle.Allow() {
		return
	}
	rep := &record.Click{
		EventType: pe.Type,
		Target:    el.TagName(),
		Path:      elementPath(el, c.opts.PathDepth),
		X:         pe.ClientX,
		Y:         pe.ClientY,
		StartTime: pe.TimeStamp,
		Element: record.ElementInfo{
			ID:        el.ID,
			ClassName: strings.Join(el.Classes, " "),
			Name:      el.Name,
			Type:      el.InputType,
			Value:     maskedValue(el),
			Width:     el.Rect.Width,
			Height:    el.Rect.Height,
		},
	}
	if c.opts.CollectText {
		rep.Content = c.content(el)
	}
	c.host.Send(rep)
}

func (c *Click) ignored(el *platform.Element) bool {
	for _, cls := range c.opts.IgnoreClasses {
		if el.HasClass(cls) {
			return true
		}
	}
	return el.HasAttr(ignoreAttr)
}

func elementPath(el *platform.Element, depth int) string {
	if el.IsDocumentRoot() {
		return el.TagName()
	}
	return el.Path(depth, 2)
}

func isFormField(el *platform.Element) bool {
	switch el.TagName() {
	case "input", "textarea", "select":
		return true
	}
	return false
}

func maskedValue(el *platform.Element) string {
	if strings.EqualFold(el.InputType, "password") {
		return maskToken
	}
	return el.Value
}

func (c *Click) content(el *platform.Element) string {
	var s string
	if isFormField(el) {
		s = maskedValue(el)
	} else {
		s = el.Text
	}
	return squash(truncate(s, c.opts.MaxContentLength))
}

func (c *Click) Destroy() {
	if !c.life.Deactivate() {
		return
	}
	removeAll(c.listeners)
	c.listeners = nil
}
