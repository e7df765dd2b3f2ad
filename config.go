package geyserstream

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SDK metadata sent with every stream
const (
	SDKName    = "geyserstream-go"
	SDKVersion = "0.1.0"
)

// Defaults for the session and reconnect loop
const (
	DefaultInitialInterval       = 500 * time.Millisecond
	DefaultMultiplier            = 1.5
	DefaultRandomizationFactor   = 0.5
	DefaultMaxInterval           = 97 * time.Second
	DefaultKeepaliveReplyTimeout = 10 * time.Second
	DefaultPingInterval          = 30 * time.Second
	DefaultHandoffCapacity       = 100
	DefaultOutboundCapacity      = 100
	DefaultCorrelationDepth      = 20
)

// Config holds the configuration for the client.
type Config struct {
	Endpoint       string
	XToken         string
	Insecure       bool            // plaintext instead of TLS
	ChannelOptions *ChannelOptions // nil uses defaults

	Backoff BackoffConfig

	// KeepaliveReplyTimeout bounds how long a reply to a service ping may wait
	// for room in the outbound queue before the session is declared stale.
	KeepaliveReplyTimeout time.Duration

	// PingInterval is the idle ping cadence. Negative disables idle pings.
	PingInterval time.Duration

	HandoffCapacity  int
	OutboundCapacity int

	// MaxReconnectAttempts stops the client after that many consecutive failed
	// attempts. Zero retries forever.
	MaxReconnectAttempts int

	// PriceOffset, when set, turns account updates into prices read from the
	// 16 bytes at this offset of the account data as received. When the filter
	// requests data slices the service concatenates them, so the offset is
	// relative to that concatenation and not to the on-chain account layout:
	// DataSlice(253, 16) pairs with PriceOffset 0.
	PriceOffset *uint64

	// CorrelationDepth is how many slots a transaction status waits for its
	// block time in a CorrelationBuffer built by NewCorrelationBuffer.
	CorrelationDepth uint64
}

// BackoffConfig parameterises the exponential reconnect delay.
type BackoffConfig struct {
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxInterval         time.Duration // zero means no cap
}

// DefaultBackoffConfig mirrors the standard exponential policy:
// 500ms, 750ms, 1.125s, ... capped at 97s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     DefaultInitialInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
		MaxInterval:         DefaultMaxInterval,
	}
}

// NewConfig creates a Config with default values.
func NewConfig(endpoint, xToken string) Config {
	return Config{
		Endpoint: endpoint,
		XToken:   xToken,
	}.WithDefaults()
}

// WithDefaults returns a copy of the config with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = DefaultInitialInterval
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = DefaultMultiplier
	}
	if c.KeepaliveReplyTimeout <= 0 {
		c.KeepaliveReplyTimeout = DefaultKeepaliveReplyTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.HandoffCapacity <= 0 {
		c.HandoffCapacity = DefaultHandoffCapacity
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = DefaultOutboundCapacity
	}
	if c.CorrelationDepth == 0 {
		c.CorrelationDepth = DefaultCorrelationDepth
	}
	return c
}

// NewCorrelationBuffer returns an empty buffer with the configured depth.
func (c Config) NewCorrelationBuffer() *CorrelationBuffer {
	return NewCorrelationBuffer(c.CorrelationDepth)
}

// NewBackOff builds the reconnect policy. The returned backoff never gives up.
func (b BackoffConfig) NewBackOff() *backoff.ExponentialBackOff {
	maxInterval := b.MaxInterval
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.InitialInterval,
		RandomizationFactor: b.RandomizationFactor,
		Multiplier:          b.Multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	return eb
}
