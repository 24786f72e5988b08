package rdt

import "time"

// Config collects every tunable constant the protocol names (spec §9): the
// five timeouts, the idle-retry budget, and the two Open Question
// resolutions that must be picked once and applied symmetrically by both
// roles. A zero Config is invalid; use DefaultConfig or NewConfig with
// Options.
type Config struct {
	// SyncTimeout is the base wait for a SYNC response; round i waits
	// SyncTimeout + time.Duration(i)*SyncTimeout (spec §4.3's "increased
	// by the round index").
	SyncTimeout time.Duration
	// RecvLoopTimeout bounds a single BULK receive poll.
	RecvLoopTimeout time.Duration
	// SendRerequestTimeout bounds the sender's wait for a REPAIR datagram.
	SendRerequestTimeout time.Duration
	// RecvRerequestTimeout bounds the receiver's wait for a single REPAIR
	// response datagram (per-datagram, not per-round; spec §9 Open
	// Question, resolved this way).
	RecvRerequestTimeout time.Duration
	// TimeoutRerequestCount is the idle-retry budget shared by the
	// sender's REPAIR loop and the receiver's REPAIR loop.
	TimeoutRerequestCount int
	// DrainTimeout bounds TEARDOWN's post-DONE socket drain.
	DrainTimeout time.Duration

	// MinPayloadLen rejects caller payloads shorter than this from Send
	// (spec §9 Open Question, resolved: reject rather than pad).
	MinPayloadLen int
}

const (
	defaultSyncTimeout           = 1 * time.Second
	defaultRecvLoopTimeout       = 5 * time.Second
	defaultSendRerequestTimeout  = 8 * time.Second
	defaultRecvRerequestTimeout  = 500 * time.Millisecond
	defaultTimeoutRerequestCount = 4
	defaultDrainTimeout          = 100 * time.Millisecond
	defaultMinPayloadLen         = 2
)

// DefaultConfig returns the spec's named constants (spec §3, §4.3, §4.4, §9).
func DefaultConfig() Config {
	return Config{
		SyncTimeout:           defaultSyncTimeout,
		RecvLoopTimeout:       defaultRecvLoopTimeout,
		SendRerequestTimeout:  defaultSendRerequestTimeout,
		RecvRerequestTimeout:  defaultRecvRerequestTimeout,
		TimeoutRerequestCount: defaultTimeoutRerequestCount,
		DrainTimeout:          defaultDrainTimeout,
		MinPayloadLen:         defaultMinPayloadLen,
	}
}

// Option customizes a Config built by NewConfig.
type Option func(*Config)

// NewConfig builds a Config starting from DefaultConfig and applying opts
// in order.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func WithSyncTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SyncTimeout = d
		}
	}
}

func WithRecvLoopTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RecvLoopTimeout = d
		}
	}
}

func WithSendRerequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SendRerequestTimeout = d
		}
	}
}

func WithRecvRerequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RecvRerequestTimeout = d
		}
	}
}

func WithTimeoutRerequestCount(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.TimeoutRerequestCount = n
		}
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DrainTimeout = d
		}
	}
}

func WithMinPayloadLen(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MinPayloadLen = n
		}
	}
}
