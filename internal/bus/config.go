package bus

import "time"

// BackoffConfig defines the delay between Watch reconnect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines bus transport defaults.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Backoff        BackoffConfig
}

// DefaultURL matches the conventional local NATS endpoint.
const DefaultURL = "nats://127.0.0.1:4222"

func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		ConnectTimeout: 2 * time.Second,
		PublishTimeout: time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
