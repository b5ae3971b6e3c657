package session

import (
	"time"

	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines one session's collaborators and limits.
type Config struct {
	ID       string
	Invoker  fetch.Invoker
	Observer Observer
	Limits   frame.Limits

	// IdleTimeout bounds each client read when the connection supports
	// deadlines. Zero waits forever.
	IdleTimeout time.Duration
}

// DefaultConfig returns a config with no timeouts and default frame limits.
func DefaultConfig() Config {
	return Config{
		Limits:   frame.DefaultLimits(),
		Observer: NopObserver{},
	}
}

// WithDefaults fills zero-valued fields.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	if c.Observer == nil {
		c.Observer = def.Observer
	}
	return c
}

// DefaultBackoff returns the client reconnect backoff.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}
