// Package semantics maps heterogeneous trace vocabularies onto the canonical
// field names and token groups the semantic rulesets reason about.
//
// Producers disagree on naming: one emits "decision_kind": "quota", another
// "kind": "Rate-Limit". Matching is always done on normalized tokens against
// closed synonym groups; nothing here guesses beyond those groups.
package semantics

import (
	"regexp"
	"strings"
)

var separatorRun = regexp.MustCompile(`[\s_-]+`)

// NormalizeToken lowercases, trims and collapses separators to '_'.
func NormalizeToken(s string) string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
}

// Group is a closed set of normalized tokens.
type Group map[string]struct{}

func newGroup(tokens ...string) Group {
	g := make(Group, len(tokens))
	for _, t := range tokens {
		g[t] = struct{}{}
	}
	return g
}

// Has reports whether the normalized form of s belongs to g.
func (g Group) Has(s string) bool {
	if s == "" {
		return false
	}
	_, ok := g[NormalizeToken(s)]
	return ok
}

// --- Decision kinds ---
var (
	BudgetKinds    = newGroup("budget", "cost", "quota", "token_budget", "rate_limit", "resource_budget", "throttle", "suspend", "resume")
	AuthzKinds     = newGroup("authz", "authorize", "authorization", "permission", "access_control", "access")
	TerminateKinds = newGroup("terminate", "termination", "abort", "stop", "cancel", "kill")
	LifecycleKinds = newGroup("lifecycle", "state_transition", "transition")
)

// --- Terminal states ---
var (
	SuccessStates   = newGroup("success", "succeeded", "done", "completed", "finished")
	FailureStates   = newGroup("fail", "failed", "error", "failure")
	CancelledStates = newGroup("cancelled", "canceled", "aborted")
)

// --- Outcomes ---
var (
	AllowOutcomes      = newGroup("allow", "allowed", "grant", "granted", "permit", "permitted", "approve", "approved")
	DenyOutcomes       = newGroup("deny", "denied", "reject", "rejected", "refuse", "refused", "block", "blocked")
	TerminatedOutcomes = newGroup("terminated", "stopped", "aborted", "killed", "cancelled", "canceled")
	budgetOnlyOutcomes = newGroup("throttle", "throttled", "suspend", "suspended", "resume", "resumed")
)

// AllowedTerminalStates is the closed set of lifecycle end states.
var AllowedTerminalStates = newGroup(
	"success", "succeeded", "done", "completed", "finished",
	"fail", "failed", "error", "failure",
	"cancelled", "canceled", "aborted", "terminated",
)

// AllowedTerminationReasons is the closed set of recognised termination causes.
// Success-class tokens are admitted because completed runs report their
// normal end through the same field.
var AllowedTerminationReasons = newGroup(
	"ttl", "timeout", "loop", "loop_detected", "manual", "user_cancel",
	"error", "failure", "resource_exhausted", "policy_violation", "external",
	"success", "completed", "done",
)

// IsTerminalState reports whether s names a lifecycle end state.
func IsTerminalState(s string) bool {
	return SuccessStates.Has(s) || FailureStates.Has(s) || CancelledStates.Has(s)
}

// ValidBudgetOutcome reports whether s is a recognised budget decision outcome.
func ValidBudgetOutcome(s string) bool {
	return AllowOutcomes.Has(s) || DenyOutcomes.Has(s) || budgetOnlyOutcomes.Has(s)
}

// ValidAuthzOutcome reports whether s is a recognised authorization outcome.
func ValidAuthzOutcome(s string) bool {
	return AllowOutcomes.Has(s) || DenyOutcomes.Has(s)
}

// ValidTerminationReason reports whether s is in AllowedTerminationReasons.
func ValidTerminationReason(s string) bool {
	return AllowedTerminationReasons.Has(s)
}

var restrictiveBudgetOutcomes = newGroup("throttle", "throttled", "suspend", "suspended")

// RestrictiveBudgetOutcome reports whether a budget outcome limits the run:
// a deny or a throttle/suspend.
func RestrictiveBudgetOutcome(s string) bool {
	return DenyOutcomes.Has(s) || restrictiveBudgetOutcomes.Has(s)
}
