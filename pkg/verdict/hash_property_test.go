//go:build property
// +build property

package verdict

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

var statuses = []ruleset.Status{ruleset.StatusPass, ruleset.StatusFail, ruleset.StatusNotEvaluated}

func genResult(runID string, n int, seed int64) *ruleset.Result {
	rng := rand.New(rand.NewSource(seed))
	r := &ruleset.Result{RulesetID: "ruleset-1.3", RunID: runID, ToplineVerdict: ruleset.StatusPass}
	for i := 0; i < n; i++ {
		c := ruleset.ClauseResult{
			ClauseID: fmt.Sprintf("CL-D%d-%02d", i%4+1, i),
			DomainID: fmt.Sprintf("D%d", i%4+1),
			Status:   statuses[rng.Intn(len(statuses))],
		}
		if c.Status != ruleset.StatusPass {
			c.ReasonCode = "R" + string(c.Status)
		}
		c.EvidenceRefs = []ruleset.EvidenceRef{{
			Pointer:  fmt.Sprintf("timeline/events.ndjson#event_id:%s-%d", runID, i),
			CanonPtr: fmt.Sprintf("canonptr:v1:D1:budget:%03d:%08x", i, rng.Uint32()),
		}}
		r.Clauses = append(r.Clauses, c)
	}
	return r
}

// Hashes depend on clause content, never on clause order, and the portable
// hash never depends on the run id.
func TestHashStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("order independence", prop.ForAll(
		func(n int, seed int64) bool {
			r := genResult("run-a", n, seed)
			want, err := Compute(r)
			if err != nil {
				return false
			}
			rand.New(rand.NewSource(seed)).Shuffle(len(r.Clauses), func(i, j int) {
				r.Clauses[i], r.Clauses[j] = r.Clauses[j], r.Clauses[i]
			})
			got, err := Compute(r)
			return err == nil && got == want
		},
		gen.IntRange(0, 12),
		gen.Int64(),
	))

	properties.Property("portable hash ignores run identity", prop.ForAll(
		func(n int, seed int64, a, b string) bool {
			ha, err := Compute(genResult("run-"+a, n, seed))
			if err != nil {
				return false
			}
			hb, err := Compute(genResult("run-"+b, n, seed))
			if err != nil {
				return false
			}
			return ha.PortableHash == hb.PortableHash && (a == b) == (ha.VerdictHash == hb.VerdictHash)
		},
		gen.IntRange(1, 8),
		gen.Int64(),
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
