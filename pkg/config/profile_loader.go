package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML file of lab settings, used for repeatable batch and
// equivalence runs. Environment variables take precedence over it.
type Profile struct {
	Name          string           `yaml:"name" json:"name"`
	RunsRoot      string           `yaml:"runs_root,omitempty" json:"runs_root,omitempty"`
	StrictRuleset *bool            `yaml:"strict_ruleset,omitempty" json:"strict_ruleset,omitempty"`
	Workers       int              `yaml:"workers,omitempty" json:"workers,omitempty"`
	Ledger        LedgerProfile    `yaml:"ledger" json:"ledger"`
	Cache         CacheProfile     `yaml:"cache" json:"cache"`
	Equivalence   EquivalenceEntry `yaml:"equivalence" json:"equivalence"`
}

// LedgerProfile selects the verdict ledger database.
type LedgerProfile struct {
	DatabaseURL string `yaml:"database_url,omitempty" json:"database_url,omitempty"`
}

// CacheProfile configures the result cache.
type CacheProfile struct {
	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	TTL       string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// EquivalenceEntry points at the equivalence criteria file.
type EquivalenceEntry struct {
	CriteriaPath string `yaml:"criteria_path,omitempty" json:"criteria_path,omitempty"`
}

// LoadProfile reads and parses a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &p, nil
}

// apply fills fields of cfg that the environment did not set.
func (p *Profile) apply(cfg *Config) error {
	setIfUnset := func(envKey string, dst *string, v string) {
		if _, ok := os.LookupEnv(envKey); !ok && v != "" {
			*dst = v
		}
	}
	setIfUnset("VLAB_RUNS_ROOT", &cfg.RunsRoot, p.RunsRoot)
	setIfUnset("VLAB_DATABASE_URL", &cfg.DatabaseURL, p.Ledger.DatabaseURL)
	setIfUnset("VLAB_REDIS_ADDR", &cfg.RedisAddr, p.Cache.RedisAddr)
	setIfUnset("VLAB_EQUIVALENCE_CRITERIA", &cfg.CriteriaPath, p.Equivalence.CriteriaPath)

	if _, ok := os.LookupEnv("VLAB_STRICT_RULESET"); !ok && p.StrictRuleset != nil {
		cfg.StrictRuleset = *p.StrictRuleset
	}
	if _, ok := os.LookupEnv("VLAB_WORKERS"); !ok && p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	if _, ok := os.LookupEnv("VLAB_CACHE_TTL"); !ok && p.Cache.TTL != "" {
		ttl, err := time.ParseDuration(p.Cache.TTL)
		if err != nil {
			return fmt.Errorf("profile %q: cache ttl: %w", p.Name, err)
		}
		cfg.CacheTTL = ttl
	}
	return nil
}
