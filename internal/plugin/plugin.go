// Package plugin defines the contract between the monitor and detection
// plugins, and the registry that builds plugins by name.
package plugin

import (
	"errors"
	"fmt"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/szibis/pagewatch/internal/bus"
	"github.com/szibis/pagewatch/internal/platform"
	"github.com/szibis/pagewatch/internal/record"
)

// RawConfig is a plugin's untyped option map as found in pluginsConfig.
type RawConfig map[string]any

// Host is the monitor surface a plugin may use.
type Host interface {
	// Send stamps and enqueues a payload. It reports false when the record
	// was dropped by sampling.
	Send(p record.Payload) bool
	On(event string, h bus.Handler) bus.HandlerID
	Off(event string, ids ...bus.HandlerID)
	Platform() platform.Platform
	// ReportURL is the monitor's delivery endpoint.
	ReportURL() string
}

// Plugin is a detection unit. Init attaches listeners, observers and
// patches; Destroy detaches all of them and must be idempotent.
type Plugin interface {
	Name() string
	Init(cfg RawConfig) error
	Destroy()
}

// Factory builds a plugin bound to host.
type Factory func(host Host) Plugin

// ErrAlreadyInitialized is returned by Init on a plugin that is not fresh.
var ErrAlreadyInitialized = errors.New("plugin already initialized")

// Stage names where a plugin failed.
const (
	StageConstruct = "construct"
	StageInit      = "init"
	StageDestroy   = "destroy"
)

// InitError records a plugin failure at a given stage.
type InitError struct {
	Plugin string
	Stage  string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Decode fills out from raw using the yaml tags of out. A nil raw leaves out
// untouched, so callers pre-populate defaults.
func Decode(raw RawConfig, out any) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := yaml.Marshal(map[string]any(raw))
	if err != nil {
		return fmt.Errorf("encode plugin options: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode plugin options: %w", err)
	}
	return nil
}

type state int32

const (
	stateNew state = iota
	stateActive
	stateDestroyed
)

// Lifecycle tracks a plugin through new, active and destroyed. The zero
// value is a new plugin.
type Lifecycle struct {
	s atomic.Int32
}

// Activate moves a new plugin to active.
func (l *Lifecycle) Activate() error {
	if !l.s.CompareAndSwap(int32(stateNew), int32(stateActive)) {
		return ErrAlreadyInitialized
	}
	return nil
}

// Deactivate moves the plugin to destroyed and reports whether it was
// active, so teardown runs at most once.
func (l *Lifecycle) Deactivate() bool {
	return state(l.s.Swap(int32(stateDestroyed))) == stateActive
}

// Active reports whether the plugin is initialized and not destroyed.
func (l *Lifecycle) Active() bool {
	return state(l.s.Load()) == stateActive
}
