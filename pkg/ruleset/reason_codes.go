package ruleset

import "strings"

// Reason codes are stable identifiers carried by clause results and
// topline verdicts. Codes are never renamed once shipped.
const (
	// --- Topline ---
	ReasonClauseFailed          = "CLAUSE_FAILED"
	ReasonClausesNotEvaluated   = "CLAUSES_NOT_EVALUATED"
	ReasonNoClausesApplicable   = "NO_CLAUSES_APPLICABLE"
	ReasonPackVersionIncompat   = "PACK_VERSION_INCOMPATIBLE"
	ReasonVerdictMissing        = "VERDICT_MISSING"
	ReasonGoldenFlowEvalFailed  = "GOLDENFLOW_EVAL_FAILED"
	ReasonGoldenFlowNotEval     = "GOLDENFLOW_NOT_EVALUATED"
	ReasonAdmissionFailed       = "ADMISSION_FAILED"
	ReasonRulesetNotDetermined  = "RULESET_NOT_DETERMINED"
	ReasonRulesetNotLoadable    = "RULESET_NOT_LOADABLE"
	ReasonPackNotApplicablePref = "PACK_NOT_APPLICABLE_FOR_"

	// --- Presence (ruleset-1.1), suffixed with the requirement id ---
	ReasonBundlePointerMissingPref = "BUNDLE-POINTER-MISSING-"
	ReasonRequirementFailedPref    = "REQ-FAIL-"

	// --- D1 Budget ---
	ReasonD1DecisionEventMissing   = "D1_DECISION_EVENT_MISSING"
	ReasonD1OutcomeNotLocatable    = "D1_OUTCOME_NOT_LOCATABLE"
	ReasonD1DecisionOutcomeMissing = "D1_DECISION_OUTCOME_MISSING"
	ReasonD1OutcomeInvalid         = "D1_OUTCOME_INVALID"
	ReasonD1DenyWithoutGate        = "D1_BUDGET_DENY_WITHOUT_GATE"
	ReasonD1GateNotApplicable      = "D1_GATE_NOT_APPLICABLE"

	// --- D2 Lifecycle ---
	ReasonD2TerminalEventMissing    = "D2_TERMINAL_EVENT_MISSING"
	ReasonD2TerminalStateMissing    = "D2_TERMINAL_STATE_MISSING"
	ReasonD2TerminalStateNotAllowed = "D2_TERMINAL_STATE_NOT_IN_ALLOWED_SET"
	ReasonD2PostTerminalExecution   = "D2_POST_TERMINAL_EXECUTION_DETECTED"

	// --- D3 Authorization ---
	ReasonD3DecisionEventMissing   = "D3_DECISION_EVENT_MISSING"
	ReasonD3SRAIncomplete          = "D3_SUBJECT_RESOURCE_ACTION_INCOMPLETE"
	ReasonD3SubjectMissing         = "D3_SUBJECT_MISSING"
	ReasonD3ResourceMissing        = "D3_RESOURCE_MISSING"
	ReasonD3ActionMissing          = "D3_ACTION_MISSING"
	ReasonD3DecisionOutcomeMissing = "D3_DECISION_OUTCOME_MISSING"
	ReasonD3OutcomeInvalid         = "D3_OUTCOME_INVALID"
	ReasonD3DenyWithoutConfirmGate = "D3_DENY_WITHOUT_CONFIRM_GATE"
	ReasonD3GateNotApplicable      = "D3_CONFIRM_GATE_NOT_APPLICABLE"

	// --- D4 Termination ---
	ReasonD4TerminationEventMissing  = "D4_TERMINATION_EVENT_MISSING"
	ReasonD4TerminationReasonMissing = "D4_TERMINATION_REASON_MISSING"
	ReasonD4ReasonNotAllowed         = "D4_TERMINATION_REASON_NOT_IN_ALLOWED_SET"
	ReasonD4PostTerminationExecution = "D4_POST_TERMINATION_EXECUTION_DETECTED"

	// --- Portability (ruleset-1.3) ---
	ReasonCanonPtrRequired = "CANONPTR_REQUIRED"
)

// AllReasonCodes returns every fixed reason code. Parameterised codes
// (GF-xx-FAILED, REQ-FAIL-<rq>, PACK_NOT_APPLICABLE_FOR_<ruleset>) are not
// listed.
func AllReasonCodes() []string {
	return []string{
		ReasonClauseFailed, ReasonClausesNotEvaluated, ReasonNoClausesApplicable,
		ReasonPackVersionIncompat, ReasonVerdictMissing, ReasonGoldenFlowEvalFailed,
		ReasonGoldenFlowNotEval, ReasonAdmissionFailed, ReasonRulesetNotDetermined,
		ReasonRulesetNotLoadable,
		ReasonD1DecisionEventMissing, ReasonD1OutcomeNotLocatable, ReasonD1DecisionOutcomeMissing,
		ReasonD1OutcomeInvalid, ReasonD1DenyWithoutGate, ReasonD1GateNotApplicable,
		ReasonD2TerminalEventMissing, ReasonD2TerminalStateMissing, ReasonD2TerminalStateNotAllowed,
		ReasonD2PostTerminalExecution,
		ReasonD3DecisionEventMissing, ReasonD3SRAIncomplete, ReasonD3SubjectMissing,
		ReasonD3ResourceMissing, ReasonD3ActionMissing, ReasonD3DecisionOutcomeMissing,
		ReasonD3OutcomeInvalid, ReasonD3DenyWithoutConfirmGate, ReasonD3GateNotApplicable,
		ReasonD4TerminationEventMissing, ReasonD4TerminationReasonMissing, ReasonD4ReasonNotAllowed,
		ReasonD4PostTerminationExecution,
		ReasonCanonPtrRequired,
	}
}

// NotApplicableReason builds PACK_NOT_APPLICABLE_FOR_RULESET_1_2 style codes.
func NotApplicableReason(rulesetID string) string {
	out := []byte(ReasonPackNotApplicablePref)
	for _, c := range []byte(rulesetID) {
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// PointerMissingReason builds BUNDLE-POINTER-MISSING-<requirement>.
func PointerMissingReason(requirementID string) string {
	return ReasonBundlePointerMissingPref + requirementID
}

// RequirementFailedReason builds REQ-FAIL-<requirement>.
func RequirementFailedReason(requirementID string) string {
	return ReasonRequirementFailedPref + requirementID
}

// GoldenFlowReason builds GF-<ID>-<suffix> codes such as GF-01-FAILED.
func GoldenFlowReason(gfID, suffix string) string {
	id := strings.ToUpper(strings.TrimSpace(gfID))
	if !strings.HasPrefix(id, "GF-") {
		id = "GF-" + id
	}
	return id + "-" + suffix
}
