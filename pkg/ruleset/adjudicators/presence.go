package adjudicators

import (
	"context"
	"fmt"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// presenceChecks decide whether one resolved reference is the record a
// ruleset-1.1 clause asks for.
var presenceChecks = map[semantics.Domain]func(pointer.Ref) (bool, string){
	semantics.DomainBudget: func(r pointer.Ref) (bool, string) {
		f := r.Fields
		isBudget := semantics.BudgetKinds.Has(f.DecisionKind) || f.TypeContains("budget", "quota", "resource")
		if isBudget && semantics.ValidBudgetOutcome(f.Outcome) {
			return true, "Valid budget decision found"
		}
		return false, ""
	},
	semantics.DomainLifecycle: func(r pointer.Ref) (bool, string) {
		if r.Fields.IsTerminal {
			return true, fmt.Sprintf("Terminal state found: %s", r.Fields.ToState)
		}
		return false, ""
	},
	semantics.DomainAuthz: func(r pointer.Ref) (bool, string) {
		f := r.Fields
		isAuthz := semantics.AuthzKinds.Has(f.DecisionKind) || f.TypeContains("authz", "authorization", "permission")
		if isAuthz && semantics.ValidAuthzOutcome(f.Outcome) {
			return true, fmt.Sprintf("Authorization decision found: %s", f.Outcome)
		}
		return false, ""
	},
	semantics.DomainTermination: func(r pointer.Ref) (bool, string) {
		f := r.Fields
		if semantics.TerminateKinds.Has(f.DecisionKind) || f.TypeContains("terminat", "abort", "stop") {
			return true, "Termination decision found"
		}
		return false, ""
	},
}

// Presence adjudicates ruleset-1.1: each domain clause passes when a
// pointer exists, resolves, and addresses a record of the right kind.
func Presence(ctx context.Context, in *ruleset.Input) (*ruleset.Result, error) {
	res := &ruleset.Result{}
	for _, spec := range in.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Clauses = append(res.Clauses, presenceClause(in.Bundle, spec))
	}
	res.DomainMeta = ruleset.DomainMetaOf(res.Clauses)
	res.ToplineVerdict, res.ReasonCode = ruleset.Topline(res.Clauses)
	return res, nil
}

func presenceClause(b *bundle.Bundle, spec ruleset.ClauseSpec) ruleset.ClauseResult {
	ev := collect(b, spec.RequirementID)
	if ev.empty() {
		return verdict(spec, ruleset.StatusFail, ruleset.PointerMissingReason(spec.RequirementID), ev,
			"No evidence pointers found for "+spec.RequirementID)
	}
	if ev.resolved == 0 {
		return verdict(spec, ruleset.StatusFail, ruleset.RequirementFailedReason(spec.RequirementID), ev,
			"All pointers failed to resolve")
	}

	domain, _ := semantics.ParseDomain(spec.Domain)
	check := presenceChecks[domain]
	for _, r := range ev.refs {
		if !r.OK() || check == nil {
			continue
		}
		if ok, note := check(r); ok {
			if r.Event != nil {
				note += " in " + describe(*r.Event)
			}
			return verdict(spec, ruleset.StatusPass, "", ev, note)
		}
	}
	return verdict(spec, ruleset.StatusFail, ruleset.RequirementFailedReason(spec.RequirementID), ev,
		"No resolved evidence carries the required record")
}
