package behavior

import (
	"net/url"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Change types.
const (
	ChangeHash    = "hashchange"
	ChangePop     = "popstate"
	ChangePush    = "pushState"
	ChangeReplace = "replaceState"
)

// PageChange reports route changes: hash changes, history traversal and
// programmatic history updates.
type PageChange struct {
	host      plugin.Host
	life      plugin.Lifecycle
	current   string
	listeners []platform.Listener
	restores  []func()
}

// NewPageChange is the factory for the route change plugin.
func NewPageChange(host plugin.Host) plugin.Plugin {
	return &PageChange{host: host}
}

func (c *PageChange) Name() string { return PageChangeName }

func (c *PageChange) Init(plugin.RawConfig) error {
	if err := c.life.Activate(); err != nil {
		return err
	}
	p := c.host.Platform()
	c.current = p.URL()
	c.listeners = append(c.listeners,
		p.Listen(platform.TargetWindow, platform.EventHashChange, false, c.onHashChange),
		p.Listen(platform.TargetWindow, platform.EventPopState, false, c.onPopState),
	)
	c.restores = append(c.restores,
		p.PushState().Wrap(func(orig platform.NavigateFunc) platform.NavigateFunc { return c.decorate(ChangePush, orig) }),
		p.ReplaceState().Wrap(func(orig platform.NavigateFunc) platform.NavigateFunc { return c.decorate(ChangeReplace, orig) }),
	)
	return nil
}

func (c *PageChange) onHashChange(ev platform.Event) {
	from, to := c.current, c.host.Platform().URL()
	var at float64
	if ne, ok := ev.(*platform.NavigationEvent); ok {
		if ne.OldURL != "" {
			from = ne.OldURL
		}
		if ne.NewURL != "" {
			to = ne.NewURL
		}
		at = ne.TimeStamp
	}
	c.change(ChangeHash, from, to, at)
}

func (c *PageChange) onPopState(ev platform.Event) {
	var at float64
	if ne, ok := ev.(*platform.NavigationEvent); ok {
		at = ne.TimeStamp
	}
	c.change(ChangePop, c.current, c.host.Platform().URL(), at)
}

func (c *PageChange) decorate(kind string, orig platform.NavigateFunc) platform.NavigateFunc {
	return func(state any, title, u string) {
		from := c.current
		orig(state, title, u)
		if c.life.Active() {
			p := c.host.Platform()
			c.change(kind, from, p.URL(), envinfo.Millis(p.Elapsed()))
		}
	}
}

func (c *PageChange) change(kind, from, to string, at float64) {
	if from == to || !c.life.Active() {
		return
	}
	c.current = to
	c.host.Send(&record.PageChange{
		ChangeType: kind,
		From:       from,
		To:         to,
		FromPath:   pathOf(from),
		ToPath:     pathOf(to),
		StartTime:  at,
	})
}

// pathOf is the path, query and fragment of raw, or raw itself when it does
// not parse.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	s := u.EscapedPath()
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		s += "#" + u.EscapedFragment()
	}
	return s
}

func (c *PageChange) Destroy() {
	if !c.life.Deactivate() {
		return
	}
	removeAll(c.listeners)
	for i := len(c.restores) - 1; i >= 0; i-- {
		c.restores[i]()
	}
	c.listeners, c.restores = nil, nil
}
