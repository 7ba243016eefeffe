package bridge

import "time"

// Timeouts holds the command -> default-deadline table from §4.4/§6.4.
// Each field is independently overridable via environment variables by
// internal/config; a request's own `timeout` field (seconds) always wins
// over these defaults.
type Timeouts struct {
	Default time.Duration // UNITYCTL_TIMEOUT_DEFAULT, default 30s
	Refresh time.Duration // UNITYCTL_TIMEOUT_REFRESH, default 120s
	Test    time.Duration // UNITYCTL_TIMEOUT_TEST, default 600s
	Build   time.Duration // UNITYCTL_TIMEOUT_BUILD, default 600s
}

// DefaultTimeouts returns the §6.4 defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default: 30 * time.Second,
		Refresh: 120 * time.Second,
		Test:    600 * time.Second,
		Build:   600 * time.Second,
	}
}

// For returns the default deadline for a top-level command name.
func (t Timeouts) For(command string) time.Duration {
	switch command {
	case "asset.refresh":
		return t.Refresh
	case "test.run":
		return t.Test
	case "build.player":
		return t.Build
	case "script.execute":
		return t.Default // raisable by client via the request's own timeout field
	default:
		return t.Default
	}
}

// ForRecord returns duration+60s for record.* commands that carry a
// `duration` arg (§4.4), falling back to the default timeout otherwise.
func (t Timeouts) ForRecord(durationSeconds float64) time.Duration {
	if durationSeconds <= 0 {
		return t.Default
	}
	return time.Duration(durationSeconds)*time.Second + 60*time.Second
}
