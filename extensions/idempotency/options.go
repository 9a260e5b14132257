package idempotency

import "time"

// config holds the configuration shared by the stores.
type config struct {
	ttl time.Duration
	now func() time.Time
}

func newConfig(opts []Option) config {
	c := config{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	return c
}

// Option configures a Store.
type Option func(*config)

// WithTTL sets how long records live.
//
// Default: 24 hours
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithClock replaces time.Now.
//
// Only the in-memory store reads it; PostgresStore uses the database clock
// so that every instance agrees on expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
