package ruleset

import (
	"errors"
	"fmt"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// ErrClosureViolation is returned when a non-PASS result carries no reason
// code anywhere.
var ErrClosureViolation = errors.New("ruleset: closure violation")

// Topline aggregates clause outcomes. Any FAIL yields FAIL with the first
// failing reason. Without a FAIL, a result with no PASS is NOT_EVALUATED.
func Topline(clauses []ClauseResult) (Status, string) {
	if len(clauses) == 0 {
		return StatusNotEvaluated, ReasonNoClausesApplicable
	}
	var (
		passed       bool
		firstPending string
	)
	for _, c := range clauses {
		switch c.Status {
		case StatusFail:
			if c.ReasonCode != "" {
				return StatusFail, c.ReasonCode
			}
			return StatusFail, ReasonClauseFailed
		case StatusPass:
			passed = true
		case StatusNotEvaluated, StatusNotAdmissible:
			if firstPending == "" {
				firstPending = c.ReasonCode
			}
		}
	}
	if !passed {
		if firstPending == "" {
			firstPending = ReasonClausesNotEvaluated
		}
		return StatusNotEvaluated, firstPending
	}
	return StatusPass, ""
}

// DomainMetaOf reports one entry per domain that has at least one clause,
// in D1..D4 order. A domain fails if any clause fails and passes if at
// least one clause passes.
func DomainMetaOf(clauses []ClauseResult) []DomainMeta {
	type tally struct{ seen, pass, fail bool }
	byDomain := map[string]*tally{}
	for _, c := range clauses {
		if c.DomainID == "" {
			continue
		}
		t := byDomain[c.DomainID]
		if t == nil {
			t = &tally{}
			byDomain[c.DomainID] = t
		}
		t.seen = true
		switch c.Status {
		case StatusPass:
			t.pass = true
		case StatusFail:
			t.fail = true
		}
	}

	var out []DomainMeta
	for _, d := range semantics.Domains {
		t, ok := byDomain[string(d)]
		if !ok {
			continue
		}
		status := StatusNotEvaluated
		switch {
		case t.fail:
			status = StatusFail
		case t.pass:
			status = StatusPass
		}
		out = append(out, DomainMeta{DomainID: string(d), DomainName: semantics.DomainNames[d], Status: status})
	}
	return out
}

// CheckClosure enforces that every non-PASS verdict is explained: either the
// topline or some clause carries a reason code, and every failed clause
// carries one.
func CheckClosure(r *Result) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrClosureViolation)
	}
	for _, c := range r.Clauses {
		switch c.Status {
		case StatusPass, StatusFail, StatusNotEvaluated, StatusSkip, StatusNotAdmissible:
		default:
			return fmt.Errorf("%w: clause %s has unknown status %q", ErrClosureViolation, c.ClauseID, c.Status)
		}
		if c.Status == StatusFail && c.ReasonCode == "" {
			return fmt.Errorf("%w: clause %s failed without a reason code", ErrClosureViolation, c.ClauseID)
		}
	}
	if r.ToplineVerdict == StatusPass || r.ReasonCode != "" {
		return nil
	}
	for _, c := range r.Clauses {
		if c.ReasonCode != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s topline %s has no reason code", ErrClosureViolation, r.RulesetID, r.ToplineVerdict)
}
