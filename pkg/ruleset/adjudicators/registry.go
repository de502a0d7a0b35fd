package adjudicators

import (
	"fmt"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

// Shipped returns the adjudicator for each shipped ruleset id.
func Shipped() map[string]ruleset.Adjudicator {
	return map[string]ruleset.Adjudicator{
		"ruleset-1.0": ruleset.AdjudicatorFunc(GoldenFlow),
		"ruleset-1.1": ruleset.AdjudicatorFunc(Presence),
		"ruleset-1.2": Semantic(false),
		"ruleset-1.3": Semantic(true),
	}
}

// DefaultRegistry registers every embedded ruleset manifest with its
// adjudicator and freezes the registry. A manifest without an adjudicator
// is registered as not loadable. A nil clock means time.Now.
func DefaultRegistry(clock func() time.Time) (*ruleset.Registry, error) {
	reg, err := ruleset.NewRegistry()
	if err != nil {
		return nil, err
	}
	if clock != nil {
		reg.WithClock(clock)
	}
	manifests, err := ruleset.EmbeddedManifests()
	if err != nil {
		return nil, fmt.Errorf("load ruleset manifests: %w", err)
	}
	shipped := Shipped()
	for _, m := range manifests {
		if err := reg.Register(m, shipped[m.ID]); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}
