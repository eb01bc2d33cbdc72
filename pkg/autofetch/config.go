package autofetch

import (
	"time"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultSessionCeiling       = 200
	DefaultMinResultsThreshold  = 10
	DefaultMaxAutoFetchPosts    = 50
	DefaultPerformanceThreshold = 3 * time.Second
	DefaultFetchTimeout         = 8 * time.Second
	DefaultRetryAttempts        = 2
	DefaultRetryDelay           = 1 * time.Second
)

// Config holds the decision engine configuration.
type Config struct {
	// SessionCeiling caps the cumulative number of posts auto-fetched in
	// one session. Further auto-fetches are rejected once reached.
	SessionCeiling int

	// MinResultsThreshold is the filtered-result count below which
	// background expansion is considered.
	MinResultsThreshold int

	// MaxAutoFetchPosts caps the target size of a single auto-fetch.
	MaxAutoFetchPosts int

	// PerformanceThreshold suppresses auto-fetching when the rolling
	// average response time of recent operations exceeds it.
	PerformanceThreshold time.Duration

	// FetchTimeout is the hard per-attempt timeout. Hitting it cancels
	// the in-flight call and is never retried.
	FetchTimeout time.Duration

	// RetryAttempts is the number of retries after the initial attempt.
	// Timeout and cancellation errors are never retried.
	RetryAttempts int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		SessionCeiling:       DefaultSessionCeiling,
		MinResultsThreshold:  DefaultMinResultsThreshold,
		MaxAutoFetchPosts:    DefaultMaxAutoFetchPosts,
		PerformanceThreshold: DefaultPerformanceThreshold,
		FetchTimeout:         DefaultFetchTimeout,
		RetryAttempts:        DefaultRetryAttempts,
		RetryDelay:           DefaultRetryDelay,
	}
}

// normalize fills zero-valued fields with defaults.
func (c *Config) normalize() {
	if c.SessionCeiling <= 0 {
		c.SessionCeiling = DefaultSessionCeiling
	}
	if c.MinResultsThreshold <= 0 {
		c.MinResultsThreshold = DefaultMinResultsThreshold
	}
	if c.MaxAutoFetchPosts <= 0 {
		c.MaxAutoFetchPosts = DefaultMaxAutoFetchPosts
	}
	if c.PerformanceThreshold <= 0 {
		c.PerformanceThreshold = DefaultPerformanceThreshold
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// ConfigUpdate is a partial configuration merged at runtime. Nil fields
// leave the current value unchanged.
type ConfigUpdate struct {
	SessionCeiling       *int
	MinResultsThreshold  *int
	MaxAutoFetchPosts    *int
	PerformanceThreshold *time.Duration
	FetchTimeout         *time.Duration
	RetryAttempts        *int
	RetryDelay           *time.Duration
}
