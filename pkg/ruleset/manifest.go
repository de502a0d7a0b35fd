package ruleset

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed manifests/*.yaml
var manifestFS embed.FS

// ClauseSpec declares one clause of a ruleset.
type ClauseSpec struct {
	ClauseID      string   `yaml:"clause_id" json:"clause_id"`
	RequirementID string   `yaml:"requirement_id" json:"requirement_id"`
	Domain        string   `yaml:"domain,omitempty" json:"domain,omitempty"`
	Severity      Severity `yaml:"severity" json:"severity"`
	Name          string   `yaml:"name" json:"name"`
	InvariantType string   `yaml:"invariant_type,omitempty" json:"invariant_type,omitempty"`
	// AppliesWhen is an optional CEL expression over the bundle facts; an
	// empty expression always applies.
	AppliesWhen string `yaml:"applies_when,omitempty" json:"applies_when,omitempty"`
}

// Manifest is the immutable declaration of a ruleset version.
type Manifest struct {
	ID       string `yaml:"id" json:"id"`
	Version  string `yaml:"version" json:"version"`
	Name     string `yaml:"name" json:"name"`
	Status   string `yaml:"status" json:"status"`
	Protocol struct {
		Version        string `yaml:"version" json:"version"`
		UpstreamCommit string `yaml:"upstream_commit,omitempty" json:"upstream_commit,omitempty"`
	} `yaml:"protocol" json:"protocol"`
	Compatibility struct {
		EvidencePackContract string `yaml:"evidence_pack_contract,omitempty" json:"evidence_pack_contract,omitempty"`
		// PackVersions is a semver constraint over the manifest pack_version.
		PackVersions string `yaml:"pack_versions,omitempty" json:"pack_versions,omitempty"`
	} `yaml:"compatibility" json:"compatibility"`
	// Applicability is a CEL expression over the bundle facts deciding
	// whether the ruleset speaks to a pack at all.
	Applicability string       `yaml:"applicability,omitempty" json:"applicability,omitempty"`
	GoldenFlows   []string     `yaml:"golden_flows,omitempty" json:"golden_flows,omitempty"`
	Clauses       []ClauseSpec `yaml:"clauses" json:"clauses"`
	CreatedAt     string       `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}

// ParseManifest decodes and validates a ruleset manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse ruleset manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural rules: an id, unique clause ids, a parseable
// pack version constraint.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("ruleset manifest: id is required")
	}
	seen := make(map[string]bool, len(m.Clauses))
	for _, c := range m.Clauses {
		if c.ClauseID == "" || c.RequirementID == "" {
			return fmt.Errorf("ruleset %s: clause with empty clause_id or requirement_id", m.ID)
		}
		if seen[c.ClauseID] {
			return fmt.Errorf("ruleset %s: duplicate clause %s", m.ID, c.ClauseID)
		}
		seen[c.ClauseID] = true
	}
	if m.Compatibility.PackVersions != "" {
		if _, err := semver.NewConstraint(m.Compatibility.PackVersions); err != nil {
			return fmt.Errorf("ruleset %s: pack_versions %q: %w", m.ID, m.Compatibility.PackVersions, err)
		}
	}
	return nil
}

// Clause looks up a clause by id.
func (m *Manifest) Clause(id string) (ClauseSpec, bool) {
	for _, c := range m.Clauses {
		if c.ClauseID == id {
			return c, true
		}
	}
	return ClauseSpec{}, false
}

// AcceptsPackVersion reports whether a pack version satisfies the manifest
// constraint. Packs that declare no version and manifests without a
// constraint are always accepted.
func (m *Manifest) AcceptsPackVersion(v string) (bool, error) {
	if m.Compatibility.PackVersions == "" || v == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Compatibility.PackVersions)
	if err != nil {
		return false, err
	}
	ver, err := semver.NewVersion(strings.TrimPrefix(v, "v"))
	if err != nil {
		return false, fmt.Errorf("pack_version %q: %w", v, err)
	}
	return c.Check(ver), nil
}

// EmbeddedManifests returns the shipped ruleset manifests sorted by id.
func EmbeddedManifests() ([]*Manifest, error) {
	entries, err := manifestFS.ReadDir("manifests")
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, e := range entries {
		data, err := manifestFS.ReadFile("manifests/" + e.Name())
		if err != nil {
			return nil, err
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EmbeddedManifest returns one shipped manifest by id.
func EmbeddedManifest(id string) (*Manifest, error) {
	all, err := EmbeddedManifests()
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRulesetNotFound, id)
}
