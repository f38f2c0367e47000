package behavior

import (
	"strconv"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/plugin"
	"github.com/szibis/pagewatch/internal/record"
)

// Storage keys of the visitor id and its expiry in unix milliseconds.
const (
	VisitorIDKey     = "monitor_user_id"
	VisitorExpiryKey = "monitor_user_expiration"
)

// UniqueVisitorOptions configures visitor identification.
type UniqueVisitorOptions struct {
	// Expiration is the lifetime of a visitor id in milliseconds.
	Expiration int `yaml:"expirationTime"`
}

// UniqueVisitor keeps a pseudonymous visitor id in page storage and reports
// each time a new one is minted.
type UniqueVisitor struct {
	host     plugin.Host
	life     plugin.Lifecycle
	opts     UniqueVisitorOptions
	listener platform.Listener
}

// NewUniqueVisitor is the factory for the unique visitor plugin.
func NewUniqueVisitor(host plugin.Host) plugin.Plugin {
	return &UniqueVisitor{host: host, opts: UniqueVisitorOptions{Expiration: 24 * 60 * 60 * 1000}}
}

func (u *UniqueVisitor) Name() string { return UniqueVisitorName }

func (u *UniqueVisitor) Init(cfg plugin.RawConfig) error {
	if err := u.life.Activate(); err != nil {
		return err
	}
	if err := plugin.Decode(cfg, &u.opts); err != nil {
		return err
	}
	p := u.host.Platform()
	if p.ReadyState() == platform.ReadyComplete {
		u.record()
		return nil
	}
	u.listener = p.Listen(platform.TargetWindow, platform.EventLoad, false, func(platform.Event) {
		u.record()
	})
	return nil
}

// visitor returns the stored id, minting and storing a new one when there
// is none or it expired.
func (u *UniqueVisitor) visitor() (id string, minted bool) {
	p := u.host.Platform()
	st := p.Storage()
	now := envinfo.UnixMillis(p.Now())

	id, haveID := st.Get(VisitorIDKey)
	raw, haveExp := st.Get(VisitorExpiryKey)
	if haveID && id != "" && haveExp {
		if exp, err := strconv.ParseInt(raw, 10, 64); err == nil && now <= exp {
			return id, false
		}
	}

	id = envinfo.NewID()
	exp := now + int64(u.opts.Expiration)
	for _, kv := range [][2]string{{VisitorIDKey, id}, {VisitorExpiryKey, strconv.FormatInt(exp, 10)}} {
		if err := st.Set(kv[0], kv[1]); err != nil {
			logging.Warn("failed to persist visitor id", logging.F(
				"component", "behavior",
				"plugin", UniqueVisitorName,
				"key", kv[0],
				"error", err,
			))
			break
		}
	}
	return id, true
}

func (u *UniqueVisitor) record() {
	if !u.life.Active() {
		return
	}
	id, minted := u.visitor()
	if !minted {
		return
	}
	p := u.host.Platform()
	u.host.Send(&record.UniqueVisitor{
		VisitorID: id,
		PageURL:   p.URL(),
		Referrer:  p.Referrer(),
		StartTime: envinfo.Millis(p.Elapsed()),
	})
}

func (u *UniqueVisitor) Destroy() {
	if !u.life.Deactivate() {
		return
	}
	if u.listener != nil {
		u.listener.Remove()
	}
}
