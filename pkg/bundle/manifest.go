package bundle

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is implemented by exactly two variants: the plain map form
// (*ManifestV1) and the structured document form (*ManifestV2).
type Manifest interface {
	Version() int
	RunID() string
	PackID() string
	ProtocolVersion() string
	PackVersion() string
	Substrate() string
	ScenarioID() string
	ScenarioFamily() string
	RulesetRef() string

	sealed()
}

// ManifestV1 is the legacy map-shaped manifest.json. Keys are kept verbatim.
type ManifestV1 struct {
	Raw map[string]any
}

func (*ManifestV1) sealed()      {}
func (*ManifestV1) Version() int { return 1 }

func (m *ManifestV1) str(keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := m.Raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (m *ManifestV1) RunID() string           { return m.str("run_id") }
func (m *ManifestV1) PackID() string          { return m.str("pack_id") }
func (m *ManifestV1) ProtocolVersion() string { return m.str("protocol_version") }
func (m *ManifestV1) PackVersion() string     { return m.str("pack_version") }
func (m *ManifestV1) Substrate() string       { return m.str("substrate") }
func (m *ManifestV1) ScenarioID() string      { return m.str("scenario_id") }
func (m *ManifestV1) ScenarioFamily() string  { return m.str("scenario_family") }

// RulesetRef reads ruleset_ref, then the older ruleset_version key.
func (m *ManifestV1) RulesetRef() string { return m.str("ruleset_ref", "ruleset_version") }

// ScenarioMeta carries scenario hints used by the semantic rulesets.
type ScenarioMeta struct {
	PrivilegedAction bool `json:"privileged_action,omitempty" yaml:"privileged_action,omitempty"`
	TerminationCase  bool `json:"termination_case,omitempty" yaml:"termination_case,omitempty"`
}

// ManifestV2 is the structured bundle manifest (manifest.yaml or
// bundle.manifest.json).
type ManifestV2 struct {
	Run          string        `json:"run_id" yaml:"run_id"`
	Pack         string        `json:"pack_id,omitempty" yaml:"pack_id,omitempty"`
	PackRoot     string        `json:"pack_root,omitempty" yaml:"pack_root,omitempty"`
	Ruleset      string        `json:"ruleset_ref,omitempty" yaml:"ruleset_ref,omitempty"`
	Protocol     string        `json:"protocol_version,omitempty" yaml:"protocol_version,omitempty"`
	ProtocolPin  string        `json:"protocol_pin,omitempty" yaml:"protocol_pin,omitempty"`
	PackVer      string        `json:"pack_version,omitempty" yaml:"pack_version,omitempty"`
	Sub          string        `json:"substrate,omitempty" yaml:"substrate,omitempty"`
	Scenario     string        `json:"scenario_id,omitempty" yaml:"scenario_id,omitempty"`
	Family       string        `json:"scenario_family,omitempty" yaml:"scenario_family,omitempty"`
	HashScope    []string      `json:"hash_scope,omitempty" yaml:"hash_scope,omitempty"`
	ScenarioMeta *ScenarioMeta `json:"scenario_meta,omitempty" yaml:"scenario_meta,omitempty"`
}

func (*ManifestV2) sealed()                  {}
func (*ManifestV2) Version() int             { return 2 }
func (m *ManifestV2) RunID() string          { return m.Run }
func (m *ManifestV2) PackID() string         { return m.Pack }
func (m *ManifestV2) PackVersion() string    { return m.PackVer }
func (m *ManifestV2) Substrate() string      { return m.Sub }
func (m *ManifestV2) ScenarioID() string     { return m.Scenario }
func (m *ManifestV2) ScenarioFamily() string { return m.Family }
func (m *ManifestV2) RulesetRef() string     { return m.Ruleset }

// ProtocolVersion prefers protocol_version over the older protocol_pin.
func (m *ManifestV2) ProtocolVersion() string {
	if m.Protocol != "" {
		return m.Protocol
	}
	return m.ProtocolPin
}

func parseManifestV1(data []byte) (*ManifestV1, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("manifest is not an object")
	}
	return &ManifestV1{Raw: raw}, nil
}

func parseManifestV2(name string, data []byte) (*ManifestV2, error) {
	var m ManifestV2
	var err error
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
