package bridgeclient

import "time"

// Option configures a Client using the functional-options pattern.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL string
	timeout time.Duration
	retry   RetryConfig
}

// WithBaseURL sets the Bridge's HTTP base URL (e.g. "http://127.0.0.1:9630",
// typically read from the project descriptor rather than hardcoded).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithTimeout sets the default per-call HTTP client timeout. This is a
// transport-level backstop only (§9 "Timeouts vs transport"); the logical
// deadline travels in the RPC body's own `timeout` field and is always
// shorter.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithRetry overrides the default retry/backoff policy.
func WithRetry(r RetryConfig) Option {
	return func(c *clientConfig) { c.retry = r }
}
