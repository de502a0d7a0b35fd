package ruleset

import (
	"errors"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
)

// ErrRulesetNotDetermined is returned when neither the manifest nor the run
// id names a ruleset.
var ErrRulesetNotDetermined = errors.New("ruleset not determined")

// Selection sources, in priority order.
const (
	SourceManifest       = "manifest"
	SourceLegacyManifest = "legacy_manifest"
	SourceRunIDPattern   = "run_id_pattern"
)

// Selection is the ruleset chosen for a bundle and where the choice came from.
type Selection struct {
	RulesetID string `json:"ruleset_id"`
	Source    string `json:"source"`
}

// Effective picks the governing ruleset: the manifest ruleset_ref, then the
// legacy manifest, then (unless strict) the run-id pattern fallback.
func Effective(b *bundle.Bundle, strict bool) (Selection, error) {
	if b.Manifest != nil {
		if ref := strings.TrimSpace(b.Manifest.RulesetRef()); ref != "" {
			src := SourceManifest
			if b.Manifest.Version() == 1 {
				src = SourceLegacyManifest
			}
			return Selection{RulesetID: ref, Source: src}, nil
		}
	}
	if b.Legacy != nil {
		if ref := strings.TrimSpace(b.Legacy.RulesetRef()); ref != "" {
			return Selection{RulesetID: ref, Source: SourceLegacyManifest}, nil
		}
	}
	if !strict {
		if id, ok := FromRunID(b.RunID); ok {
			return Selection{RulesetID: id, Source: SourceRunIDPattern}, nil
		}
	}
	return Selection{}, ErrRulesetNotDetermined
}

// FromRunID infers a ruleset from historical run-id conventions. The
// inference is not checked against bundle content.
func FromRunID(runID string) (string, bool) {
	id := strings.ToLower(runID)
	switch {
	case strings.HasSuffix(id, "-v0.4"):
		return "ruleset-1.2", true
	case strings.HasPrefix(id, "arb-"):
		return "ruleset-1.1", true
	case strings.HasPrefix(id, "gf-"), strings.HasPrefix(id, "admission-"):
		return "ruleset-1.0", true
	}
	return "", false
}
