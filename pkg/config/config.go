// Package config loads vlab configuration from the environment, with an
// optional YAML profile layered underneath.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/observability"
)

// Config holds process configuration. The zero-dependency defaults run fully
// offline: no ledger, no cache, telemetry off.
type Config struct {
	RunsRoot      string        `env:"VLAB_RUNS_ROOT" envDefault:"data/runs"`
	LogLevel      string        `env:"VLAB_LOG_LEVEL" envDefault:"INFO"`
	StrictRuleset bool          `env:"VLAB_STRICT_RULESET" envDefault:"false"`
	Workers       int           `env:"VLAB_WORKERS" envDefault:"4"`
	DatabaseURL   string        `env:"VLAB_DATABASE_URL"`
	RedisAddr     string        `env:"VLAB_REDIS_ADDR"`
	CacheTTL      time.Duration `env:"VLAB_CACHE_TTL" envDefault:"24h"`
	CriteriaPath  string        `env:"VLAB_EQUIVALENCE_CRITERIA"`
	ProfilePath   string        `env:"VLAB_PROFILE"`
	ExportResults bool          `env:"VLAB_EXPORT_RESULTS" envDefault:"false"`

	Artifacts artifacts.Config
	Telemetry observability.Config
}

// Load parses the environment. When VLAB_PROFILE names a YAML profile, its
// values fill every setting the environment leaves unset.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		if err := p.apply(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel onto slog, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
