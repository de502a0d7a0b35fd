package adjudicators

import (
	"context"
	"fmt"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

// GoldenFlow adjudicates ruleset-1.0: one clause per golden flow, mirrored
// from the producer evaluation report and gated on admission.
func GoldenFlow(ctx context.Context, in *ruleset.Input) (*ruleset.Result, error) {
	b := in.Bundle
	res := &ruleset.Result{}

	if b.EvaluationReport == nil {
		res.ToplineVerdict, res.ReasonCode = ruleset.StatusNotEvaluated, ruleset.ReasonVerdictMissing
		if !b.VerifyReport.Admissible() {
			res.ToplineVerdict, res.ReasonCode = ruleset.StatusNotAdmissible, ruleset.ReasonAdmissionFailed
		}
		return res, nil
	}

	byGF := make(map[string]bundle.GFVerdict, len(b.EvaluationReport.GFVerdicts))
	for _, v := range b.EvaluationReport.GFVerdicts {
		byGF[strings.ToLower(v.GFID)] = v
	}

	for _, spec := range in.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, ok := byGF[strings.ToLower(spec.RequirementID)]
		if !ok {
			res.Clauses = append(res.Clauses, verdict(spec, ruleset.StatusNotEvaluated,
				ruleset.GoldenFlowReason(spec.RequirementID, "NOT-EVALUATED"), evidence{},
				"golden flow absent from evaluation report"))
			continue
		}
		res.Clauses = append(res.Clauses, goldenFlowClause(b, spec, v))
	}

	switch {
	case !b.VerifyReport.Admissible():
		res.ToplineVerdict, res.ReasonCode = ruleset.StatusNotAdmissible, ruleset.ReasonAdmissionFailed
	case anyStatus(res.Clauses, ruleset.StatusNotAdmissible):
		res.ToplineVerdict, res.ReasonCode = ruleset.StatusNotAdmissible, ruleset.ReasonAdmissionFailed
	default:
		res.ToplineVerdict, res.ReasonCode = ruleset.Topline(res.Clauses)
		if res.ToplineVerdict == ruleset.StatusNotEvaluated && res.ReasonCode == ruleset.ReasonClausesNotEvaluated {
			res.ReasonCode = ruleset.ReasonGoldenFlowNotEval
		}
	}
	return res, nil
}

func goldenFlowClause(b *bundle.Bundle, spec ruleset.ClauseSpec, v bundle.GFVerdict) ruleset.ClauseResult {
	ev := evidence{requirementID: spec.RequirementID}
	var passed, failed int
	for _, rq := range v.Requirements {
		switch rq.Status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		}
		for _, p := range rq.Pointers {
			ev.add(b, p)
		}
	}
	notes := []string{}
	if len(v.Requirements) > 0 {
		notes = append(notes, fmt.Sprintf("Requirements: %d PASS, %d FAIL of %d total", passed, failed, len(v.Requirements)))
	}

	switch strings.ToUpper(v.Status) {
	case "PASS":
		return verdict(spec, ruleset.StatusPass, "", ev, notes...)
	case "FAIL":
		return verdict(spec, ruleset.StatusFail, ruleset.GoldenFlowReason(v.GFID, "FAILED"), ev, notes...)
	case "NOT_ADMISSIBLE":
		return verdict(spec, ruleset.StatusNotAdmissible, ruleset.GoldenFlowReason(v.GFID, "NOT-ADMISSIBLE"), ev, notes...)
	default:
		return verdict(spec, ruleset.StatusNotEvaluated, ruleset.GoldenFlowReason(v.GFID, "NOT-EVALUATED"), ev, notes...)
	}
}

func anyStatus(clauses []ruleset.ClauseResult, s ruleset.Status) bool {
	for _, c := range clauses {
		if c.Status == s {
			return true
		}
	}
	return false
}
