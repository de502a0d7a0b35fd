package adjudicators

import (
	"context"
	"fmt"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// clauseFunc evaluates one semantic clause over the domain evidence.
type clauseFunc func(b *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult

var semanticClauses = map[string]clauseFunc{
	"CL-D1-01": existence(ruleset.ReasonD1DecisionEventMissing),
	"CL-D1-02": budgetOutcome,
	"CL-D1-03": budgetGate,
	"CL-D2-01": existence(ruleset.ReasonD2TerminalEventMissing),
	"CL-D2-02": terminalState,
	"CL-D2-03": postTerminal,
	"CL-D3-01": existence(ruleset.ReasonD3DecisionEventMissing),
	"CL-D3-02": subjectResourceAction,
	"CL-D3-03": confirmGate,
	"CL-D4-01": existence(ruleset.ReasonD4TerminationEventMissing),
	"CL-D4-02": terminationReason,
	"CL-D4-03": controlledRecovery,
}

// Fragments of event types, matched on normalized tokens.
var (
	budgetGateTypes    = []string{"gate", "block", "stop", "enforce"}
	confirmGateTypes   = []string{"confirm", "gate", "audit"}
	bookkeepingTypes   = []string{"audit", "log", "receipt", "run.end", "run_end", "shutdown", "cleanup"}
	recoveryTypes      = []string{"recover", "cleanup", "shutdown"}
	postTerminateTypes = []string{"exec", "dispatch", "invoke", "tool_call"}
	postTerminalTypes  = []string{"exec", "dispatch", "invoke", "run"}
)

// Semantic returns the ruleset-1.2 adjudicator. With portable set it is the
// ruleset-1.3 adjudicator, which also flags evidence that is not addressed
// by a canonical pointer.
func Semantic(portable bool) ruleset.AdjudicatorFunc {
	return func(ctx context.Context, in *ruleset.Input) (*ruleset.Result, error) {
		b := in.Bundle
		domainEvidence := map[string]evidence{}
		res := &ruleset.Result{}

		for _, spec := range in.Clauses {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			eval, ok := semanticClauses[spec.ClauseID]
			if !ok {
				return nil, fmt.Errorf("no evaluator for clause %s", spec.ClauseID)
			}
			ev := clauseEvidence(b, spec, domainEvidence)
			c := eval(b, spec, ev)
			if portable {
				requireCanonical(&c)
			}
			res.Clauses = append(res.Clauses, c)
		}

		res.DomainMeta = ruleset.DomainMetaOf(res.Clauses)
		res.ToplineVerdict, res.ReasonCode = ruleset.Topline(res.Clauses)
		return res, nil
	}
}

// clauseEvidence prefers pointers bound to the clause's own requirement and
// falls back to the domain's primary requirement RQ-Dn-01.
func clauseEvidence(b *bundle.Bundle, spec ruleset.ClauseSpec, cache map[string]evidence) evidence {
	if spec.RequirementID != "" && len(b.PointersFor(spec.RequirementID)) > 0 {
		return collect(b, spec.RequirementID)
	}
	primary := "RQ-" + strings.ToUpper(spec.Domain) + "-01"
	ev, ok := cache[primary]
	if !ok {
		ev = collect(b, primary)
		cache[primary] = ev
	}
	return ev
}

func requireCanonical(c *ruleset.ClauseResult) {
	flagged := false
	for i := range c.EvidenceRefs {
		loc := c.EvidenceRefs[i].Pointer
		if idx := strings.LastIndex(loc, "#"); idx >= 0 {
			loc = loc[idx+1:]
		}
		if pointer.IsCanonical(loc) {
			continue
		}
		c.EvidenceRefs[i].Notes = append(c.EvidenceRefs[i].Notes, ruleset.ReasonCanonPtrRequired)
		flagged = true
	}
	if flagged {
		c.Notes = append(c.Notes, ruleset.ReasonCanonPtrRequired)
	}
}

func existence(reason string) clauseFunc {
	return func(_ *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
		if ev.empty() {
			return verdict(spec, ruleset.StatusFail, reason, ev, "No evidence pointers for "+ev.requirementID)
		}
		if ev.resolved == 0 {
			return verdict(spec, ruleset.StatusFail, reason, ev, "All pointers failed to resolve")
		}
		return verdict(spec, ruleset.StatusPass, "", ev, fmt.Sprintf("Resolved %d evidence item(s)", ev.resolved))
	}
}

// --- D1 Budget ---

func budgetOutcome(_ *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	if ev.resolved == 0 {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1DecisionEventMissing, ev, "No resolved evidence to check outcome")
	}
	f, ok := ev.fields()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1OutcomeNotLocatable, ev, "Cannot extract semantic fields")
	}
	if f.Outcome == "" {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD1DecisionOutcomeMissing, ev, "No outcome field in evidence")
	}
	if !semantics.ValidBudgetOutcome(f.Outcome) {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD1OutcomeInvalid, ev, "Invalid budget outcome: "+f.Outcome)
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Valid budget outcome: "+f.Outcome)
}

func budgetGate(b *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	f, ok := ev.fields()
	if !ok || f.Outcome == "" {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1DecisionOutcomeMissing, ev, "No outcome to check for gate enforcement")
	}
	if !semantics.RestrictiveBudgetOutcome(f.Outcome) {
		if !semantics.ValidBudgetOutcome(f.Outcome) {
			return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1OutcomeInvalid, ev, "Outcome not recognised: "+f.Outcome)
		}
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1GateNotApplicable, ev,
			fmt.Sprintf("Outcome %s does not restrict the run; gate enforcement not exercised", f.Outcome))
	}
	at, ok := ev.position()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD1OutcomeNotLocatable, ev, "Decision is not a trace event")
	}
	gate, ok := precededBy(b.Trace, at, budgetGateTypes...)
	if !ok {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD1DenyWithoutGate, ev,
			fmt.Sprintf("Restrictive outcome (%s) without a preceding gate enforcement event", f.Outcome))
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Gate enforcement evidence found: "+describe(gate))
}

// --- D2 Lifecycle ---

func terminalState(_ *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	if ev.resolved == 0 {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD2TerminalEventMissing, ev, "No resolved evidence to check terminal state")
	}
	f, _ := ev.fields()
	if f.ToState == "" {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD2TerminalStateMissing, ev, "No to_state field in evidence")
	}
	if !semantics.AllowedTerminalStates.Has(f.ToState) {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD2TerminalStateNotAllowed, ev, "Terminal state not in allowed set: "+f.ToState)
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Valid terminal state: "+f.ToState)
}

func postTerminal(b *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	f, ok := ev.fields()
	if !ok || !(f.IsTerminal || semantics.AllowedTerminalStates.Has(f.ToState)) {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD2TerminalEventMissing, ev, "Cannot locate the terminal transition")
	}
	at, ok := ev.position()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD2TerminalEventMissing, ev, "Terminal state is not a trace event")
	}
	later := after(b.Trace, at, func(e map[string]any) bool {
		if semantics.EventTypeContains(e, bookkeepingTypes...) {
			return false
		}
		if semantics.Extract(e).IsTerminal {
			return false
		}
		return semantics.EventTypeContains(e, postTerminalTypes...)
	})
	if len(later) > 0 {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD2PostTerminalExecution, ev,
			fmt.Sprintf("Found %d execution event(s) after the terminal state, first %s", len(later), describe(later[0])))
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "No post-terminal execution events detected")
}

// --- D3 Authorization ---

func subjectResourceAction(_ *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	if ev.resolved == 0 {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD3DecisionEventMissing, ev, "No resolved evidence to check S/R/A")
	}
	f, ok := ev.fields()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD3SRAIncomplete, ev, "Cannot extract semantic fields")
	}
	var missing []string
	if f.Subject == "" {
		missing = append(missing, "subject")
	}
	if f.Resource == "" {
		missing = append(missing, "resource")
	}
	if f.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) == 0 {
		return verdict(spec, ruleset.StatusPass, "", ev, fmt.Sprintf("S/R/A complete: %s/%s/%s", f.Subject, f.Resource, f.Action))
	}

	reason := ruleset.ReasonD3SRAIncomplete
	if len(missing) < 3 {
		switch missing[0] {
		case "subject":
			reason = ruleset.ReasonD3SubjectMissing
		case "resource":
			reason = ruleset.ReasonD3ResourceMissing
		default:
			reason = ruleset.ReasonD3ActionMissing
		}
	}
	return verdict(spec, ruleset.StatusFail, reason, ev, "Missing S/R/A fields: "+strings.Join(missing, ", "))
}

func confirmGate(b *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	f, ok := ev.fields()
	if !ok || f.Outcome == "" {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD3DecisionOutcomeMissing, ev, "No outcome to check for deny confirmation")
	}
	if semantics.AllowOutcomes.Has(f.Outcome) {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD3GateNotApplicable, ev,
			"Outcome is allow; confirm gate not exercised")
	}
	if !semantics.DenyOutcomes.Has(f.Outcome) {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD3OutcomeInvalid, ev, "Invalid authorization outcome: "+f.Outcome)
	}
	at, ok := ev.position()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD3DecisionEventMissing, ev, "Decision is not a trace event")
	}
	gate, ok := precededBy(b.Trace, at, confirmGateTypes...)
	if !ok {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD3DenyWithoutConfirmGate, ev,
			fmt.Sprintf("Deny (%s) without a preceding confirm gate event", f.Outcome))
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Confirm gate evidence found: "+describe(gate))
}

// --- D4 Termination ---

func terminationReason(_ *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	if ev.resolved == 0 {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD4TerminationEventMissing, ev, "No resolved evidence to check termination reason")
	}
	f, _ := ev.fields()
	if f.TerminationReason == "" {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD4TerminationReasonMissing, ev, "No termination_reason field in evidence")
	}
	if !semantics.ValidTerminationReason(f.TerminationReason) {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD4ReasonNotAllowed, ev, "Termination reason not in allowed set: "+f.TerminationReason)
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Valid termination reason: "+f.TerminationReason)
}

func controlledRecovery(b *bundle.Bundle, spec ruleset.ClauseSpec, ev evidence) ruleset.ClauseResult {
	at, ok := ev.position()
	if !ok {
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.ReasonD4TerminationEventMissing, ev, "Cannot locate the termination event")
	}
	later := after(b.Trace, at, func(e map[string]any) bool {
		if semantics.EventTypeContains(e, recoveryTypes...) {
			return false
		}
		return semantics.EventTypeContains(e, postTerminateTypes...)
	})
	if len(later) > 0 {
		return verdict(spec, ruleset.StatusFail, ruleset.ReasonD4PostTerminationExecution, ev,
			fmt.Sprintf("Found %d non-recovery event(s) after termination, first %s", len(later), describe(later[0])))
	}
	return verdict(spec, ruleset.StatusPass, "", ev, "Only controlled recovery after termination")
}
