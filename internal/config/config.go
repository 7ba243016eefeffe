// Package config loads the Bridge's daemon configuration: an optional YAML
// file layered with environment-variable overrides, following a
// load-then-default-then-validate pipeline.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
)

// Config is the top-level Bridge daemon configuration (§6.4).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	DomainReload DomainReloadConfig `yaml:"domain_reload"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the loopback HTTP/WebSocket listen address.
type ServerConfig struct {
	// Host is always forced to loopback regardless of this value (§4.2);
	// it exists so the YAML file documents the bind address explicitly.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TimeoutsConfig mirrors the UNITYCTL_TIMEOUT_* variables of §6.4, as
// duration strings (e.g. "30s") in the YAML file.
type TimeoutsConfig struct {
	Default string `yaml:"default"`
	Refresh string `yaml:"refresh"`
	Test    string `yaml:"test"`
	Build   string `yaml:"build"`
}

// DomainReloadConfig controls the reconnect grace window (§5, §6.4).
type DomainReloadConfig struct {
	Grace string `yaml:"grace"`
}

// LoggingConfig controls the structured logger's level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const loopbackHost = "127.0.0.1"

// Load reads an optional YAML file (missing file is not an error — the
// Bridge runs entirely on defaults plus environment overrides), applies
// defaults, layers environment-variable overrides per §6.4, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Server.Host = loopbackHost
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 0 // 0 means "let the OS pick"; published via the descriptor
	}
	if cfg.Timeouts.Default == "" {
		cfg.Timeouts.Default = "30s"
	}
	if cfg.Timeouts.Refresh == "" {
		cfg.Timeouts.Refresh = "120s"
	}
	if cfg.Timeouts.Test == "" {
		cfg.Timeouts.Test = "600s"
	}
	if cfg.Timeouts.Build == "" {
		cfg.Timeouts.Build = "600s"
	}
	if cfg.DomainReload.Grace == "" {
		cfg.DomainReload.Grace = "60s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// secondsEnv reads an integer-seconds environment variable, returning
// fallback (already a duration string) unchanged if unset or unparsable.
func secondsEnv(name, fallback string) string {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return fmt.Sprintf("%ds", n)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Timeouts.Default = secondsEnv("UNITYCTL_TIMEOUT_DEFAULT", cfg.Timeouts.Default)
	cfg.Timeouts.Refresh = secondsEnv("UNITYCTL_TIMEOUT_REFRESH", cfg.Timeouts.Refresh)
	cfg.Timeouts.Test = secondsEnv("UNITYCTL_TIMEOUT_TEST", cfg.Timeouts.Test)
	cfg.Timeouts.Build = secondsEnv("UNITYCTL_TIMEOUT_BUILD", cfg.Timeouts.Build)
	cfg.DomainReload.Grace = secondsEnv("UNITYCTL_DOMAIN_RELOAD_GRACE", cfg.DomainReload.Grace)
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 {
		return fmt.Errorf("config: server.port must be >= 0")
	}
	for name, s := range map[string]string{
		"timeouts.default": cfg.Timeouts.Default,
		"timeouts.refresh": cfg.Timeouts.Refresh,
		"timeouts.test":    cfg.Timeouts.Test,
		"timeouts.build":   cfg.Timeouts.Build,
		"domain_reload.grace": cfg.DomainReload.Grace,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// BridgeTimeouts converts the parsed duration strings into a bridge.Timeouts.
func (c *Config) BridgeTimeouts() bridge.Timeouts {
	return bridge.Timeouts{
		Default: mustParse(c.Timeouts.Default, 30*time.Second),
		Refresh: mustParse(c.Timeouts.Refresh, 120*time.Second),
		Test:    mustParse(c.Timeouts.Test, 600*time.Second),
		Build:   mustParse(c.Timeouts.Build, 600*time.Second),
	}
}

// NewLogger builds a *slog.Logger from Logging.Level/Format: Format "json"
// (the default) gets slog.NewJSONHandler, anything else gets
// slog.NewTextHandler; an unparsable Level falls back to slog.LevelInfo.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format != "json" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ReloadGrace converts the parsed grace-window string into a duration.
func (c *Config) ReloadGrace() time.Duration {
	return mustParse(c.DomainReload.Grace, 60*time.Second)
}

func mustParse(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
