// Package config loads the dispatchd configuration file (JSONC).
package config

import (
	"fmt"
	"time"

	"github.com/dohr-michael/dispatchd/internal/dispatch"
)

// Config is the root configuration for dispatchd.
type Config struct {
	LogLevel string       `json:"log_level"`
	Worker   WorkerConfig `json:"worker"`
	Events   EventsConfig `json:"events"`
	Jobfile  string       `json:"jobfile"`
}

// WorkerConfig holds worker idle-wait and failure policy.
type WorkerConfig struct {
	WaitMode      string   `json:"wait_mode"` // "timed" | "block" | "busy"
	WaitTimeout   Duration `json:"wait_timeout,omitempty"`
	RecoverPanics bool     `json:"recover_panics"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// DispatcherConfig converts the worker section into a dispatch.Config.
// The event bus is wired separately by the caller.
func (c *Config) DispatcherConfig() (dispatch.Config, error) {
	out := dispatch.Config{
		WaitTimeout:   c.Worker.WaitTimeout.Duration(),
		RecoverPanics: c.Worker.RecoverPanics,
	}
	switch c.Worker.WaitMode {
	case "", "timed":
		out.WaitMode = dispatch.WaitTimed
	case "block":
		out.WaitMode = dispatch.WaitBlock
	case "busy":
		out.WaitMode = dispatch.WaitNone
	default:
		return dispatch.Config{}, fmt.Errorf("unknown wait_mode %q", c.Worker.WaitMode)
	}
	return out, nil
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
