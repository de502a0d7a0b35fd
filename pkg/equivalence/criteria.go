package equivalence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultDisclaimer accompanies every report and diff.
const DefaultDisclaimer = "Equivalence is computed over normalized evidence under a versioned hash scope. " +
	"It is not a certification or endorsement of any substrate."

// Versions of the normalization rules and of the normalized hash scope.
const (
	NormalizationVersion = "1.0.0"
	HashScopeVersion     = "1.0.0"
	ReportVersion        = "1.0.0"
)

// Criteria configures normalization and pairwise comparison. It is loaded
// from equivalence-criteria.yaml or taken from DefaultCriteria.
type Criteria struct {
	Version       string `yaml:"version"`
	Admissibility struct {
		AdmissibleValues []string `yaml:"admissible_values"`
	} `yaml:"admissibility"`
	// FoldFields are event keys removed before hashing, at any depth.
	FoldFields []string `yaml:"fold_fields"`
	// VolatileFields are event keys that never participate, at top level.
	VolatileFields []string `yaml:"volatile_fields"`
	Disclaimer     struct {
		Text string `yaml:"text"`
	} `yaml:"disclaimer"`
}

var defaultVolatileFields = []string{
	"event_id", "id", "run_id", "timestamp", "ts", "time", "created_at",
	"trace_id", "span_id", "sequence", "idx",
}

// DefaultCriteria admits only ADMISSIBLE packs and folds nothing.
func DefaultCriteria() *Criteria {
	c := &Criteria{Version: "1.0.0"}
	c.Admissibility.AdmissibleValues = []string{"ADMISSIBLE"}
	c.VolatileFields = append([]string(nil), defaultVolatileFields...)
	c.Disclaimer.Text = DefaultDisclaimer
	return c
}

// ParseCriteria decodes YAML criteria, filling unset sections from the
// defaults.
func ParseCriteria(data []byte) (*Criteria, error) {
	c := &Criteria{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse equivalence criteria: %w", err)
	}
	def := DefaultCriteria()
	if c.Version == "" {
		c.Version = def.Version
	}
	if len(c.Admissibility.AdmissibleValues) == 0 {
		c.Admissibility.AdmissibleValues = def.Admissibility.AdmissibleValues
	}
	if c.VolatileFields == nil {
		c.VolatileFields = def.VolatileFields
	}
	if c.Disclaimer.Text == "" {
		c.Disclaimer.Text = def.Disclaimer.Text
	}
	return c, nil
}

// LoadCriteria reads criteria from a YAML file.
func LoadCriteria(path string) (*Criteria, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read equivalence criteria: %w", err)
	}
	return ParseCriteria(data)
}

// Admissible reports whether an admission status is in the allow-list.
func (c *Criteria) Admissible(status string) bool {
	for _, v := range c.Admissibility.AdmissibleValues {
		if v == status {
			return true
		}
	}
	return false
}

func set(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}
