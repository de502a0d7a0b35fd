package ruleset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

func clause(id, domain string, status ruleset.Status, reason string) ruleset.ClauseResult {
	return ruleset.ClauseResult{ClauseID: id, DomainID: domain, Status: status, ReasonCode: reason}
}

func TestTopline(t *testing.T) {
	tests := []struct {
		name       string
		clauses    []ruleset.ClauseResult
		wantStatus ruleset.Status
		wantReason string
	}{
		{"empty", nil, ruleset.StatusNotEvaluated, ruleset.ReasonNoClausesApplicable},
		{"all pass", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusPass, ""),
			clause("b", "D1", ruleset.StatusPass, ""),
		}, ruleset.StatusPass, ""},
		{"first fail wins", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusNotEvaluated, "X"),
			clause("b", "D1", ruleset.StatusFail, "FIRST"),
			clause("c", "D2", ruleset.StatusFail, "SECOND"),
		}, ruleset.StatusFail, "FIRST"},
		{"fail without reason", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusFail, ""),
		}, ruleset.StatusFail, ruleset.ReasonClauseFailed},
		{"pass with pending", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusPass, ""),
			clause("b", "D1", ruleset.StatusNotEvaluated, "D1_GATE_NOT_APPLICABLE"),
		}, ruleset.StatusPass, ""},
		{"nothing passed", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusNotEvaluated, "WHY"),
			clause("b", "D1", ruleset.StatusSkip, ""),
		}, ruleset.StatusNotEvaluated, "WHY"},
		{"nothing passed, no reason", []ruleset.ClauseResult{
			clause("a", "D1", ruleset.StatusSkip, ""),
		}, ruleset.StatusNotEvaluated, ruleset.ReasonClausesNotEvaluated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := ruleset.Topline(tt.clauses)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestDomainMetaOf(t *testing.T) {
	meta := ruleset.DomainMetaOf([]ruleset.ClauseResult{
		clause("CL-D3-01", "D3", ruleset.StatusNotEvaluated, "x"),
		clause("CL-D1-01", "D1", ruleset.StatusPass, ""),
		clause("CL-D1-03", "D1", ruleset.StatusNotEvaluated, "D1_GATE_NOT_APPLICABLE"),
		clause("CL-D2-01", "D2", ruleset.StatusPass, ""),
		clause("CL-D2-03", "D2", ruleset.StatusFail, "D2_POST_TERMINAL_EXECUTION_DETECTED"),
		clause("CL-GF-01", "", ruleset.StatusPass, ""),
	})
	require.Len(t, meta, 3)
	assert.Equal(t, ruleset.DomainMeta{DomainID: "D1", DomainName: "Budget Decision Record", Status: ruleset.StatusPass}, meta[0])
	assert.Equal(t, ruleset.StatusFail, meta[1].Status)
	assert.Equal(t, "D3", meta[2].DomainID)
	assert.Equal(t, ruleset.StatusNotEvaluated, meta[2].Status)
}

func TestCheckClosure(t *testing.T) {
	require.NoError(t, ruleset.CheckClosure(&ruleset.Result{ToplineVerdict: ruleset.StatusPass}))
	require.NoError(t, ruleset.CheckClosure(&ruleset.Result{ToplineVerdict: ruleset.StatusFail, ReasonCode: "R"}))
	require.NoError(t, ruleset.CheckClosure(&ruleset.Result{
		ToplineVerdict: ruleset.StatusNotEvaluated,
		Clauses:        []ruleset.ClauseResult{clause("a", "D1", ruleset.StatusNotEvaluated, "R")},
	}))

	err := ruleset.CheckClosure(&ruleset.Result{ToplineVerdict: ruleset.StatusNotEvaluated})
	require.ErrorIs(t, err, ruleset.ErrClosureViolation)

	err = ruleset.CheckClosure(&ruleset.Result{
		ToplineVerdict: ruleset.StatusFail, ReasonCode: "R",
		Clauses: []ruleset.ClauseResult{clause("a", "D1", ruleset.StatusFail, "")},
	})
	require.ErrorIs(t, err, ruleset.ErrClosureViolation)

	err = ruleset.CheckClosure(&ruleset.Result{
		ToplineVerdict: ruleset.StatusPass,
		Clauses:        []ruleset.ClauseResult{clause("a", "D1", "MAYBE", "")},
	})
	require.ErrorIs(t, err, ruleset.ErrClosureViolation)

	require.ErrorIs(t, ruleset.CheckClosure(nil), ruleset.ErrClosureViolation)
}

func TestReasonCodes(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range ruleset.AllReasonCodes() {
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
	assert.Equal(t, "PACK_NOT_APPLICABLE_FOR_RULESET_1_2", ruleset.NotApplicableReason("ruleset-1.2"))
	assert.Equal(t, "REQ-FAIL-RQ-D1-01", ruleset.RequirementFailedReason("RQ-D1-01"))
	assert.Equal(t, "BUNDLE-POINTER-MISSING-RQ-D4-01", ruleset.PointerMissingReason("RQ-D4-01"))
	assert.Equal(t, "GF-01-FAILED", ruleset.GoldenFlowReason("gf-01", "FAILED"))
	assert.Equal(t, "GF-02-NOT-EVALUATED", ruleset.GoldenFlowReason("02", "NOT-EVALUATED"))
}

func TestEffective(t *testing.T) {
	tests := []struct {
		name       string
		runID      string
		manifest   bundle.Manifest
		legacy     *bundle.ManifestV1
		strict     bool
		wantID     string
		wantSource string
		wantErr    bool
	}{
		{name: "v2 ref", runID: "arb-d1-x", manifest: &bundle.ManifestV2{Ruleset: "ruleset-1.3"},
			wantID: "ruleset-1.3", wantSource: ruleset.SourceManifest},
		{name: "v1 ruleset_version", runID: "x",
			manifest: &bundle.ManifestV1{Raw: map[string]any{"ruleset_version": "ruleset-1.0"}},
			wantID:   "ruleset-1.0", wantSource: ruleset.SourceLegacyManifest},
		{name: "legacy behind v2", runID: "x", manifest: &bundle.ManifestV2{},
			legacy: &bundle.ManifestV1{Raw: map[string]any{"ruleset_ref": "ruleset-1.1"}},
			wantID: "ruleset-1.1", wantSource: ruleset.SourceLegacyManifest},
		{name: "v0.4 suffix", runID: "lg-d1-budget-001-v0.4", manifest: &bundle.ManifestV2{},
			wantID: "ruleset-1.2", wantSource: ruleset.SourceRunIDPattern},
		{name: "arb prefix", runID: "ARB-d2-lifecycle", manifest: &bundle.ManifestV2{},
			wantID: "ruleset-1.1", wantSource: ruleset.SourceRunIDPattern},
		{name: "gf prefix", runID: "gf-03-hitl", manifest: &bundle.ManifestV2{},
			wantID: "ruleset-1.0", wantSource: ruleset.SourceRunIDPattern},
		{name: "admission prefix", runID: "admission-ok", manifest: &bundle.ManifestV2{},
			wantID: "ruleset-1.0", wantSource: ruleset.SourceRunIDPattern},
		{name: "strict disables fallback", runID: "arb-d1-x", manifest: &bundle.ManifestV2{},
			strict: true, wantErr: true},
		{name: "unknown", runID: "mystery", manifest: &bundle.ManifestV2{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bundle.Bundle{RunID: tt.runID, Manifest: tt.manifest, Legacy: tt.legacy}
			sel, err := ruleset.Effective(b, tt.strict)
			if tt.wantErr {
				require.ErrorIs(t, err, ruleset.ErrRulesetNotDetermined)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, sel.RulesetID)
			assert.Equal(t, tt.wantSource, sel.Source)
		})
	}
}
