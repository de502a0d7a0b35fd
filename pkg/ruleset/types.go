// Package ruleset defines versioned adjudication rulesets: their manifests,
// the results they produce, the registry that holds them and the selection
// of the ruleset that governs a given bundle.
package ruleset

import (
	"context"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
)

// Status is a clause or topline verdict.
type Status string

const (
	StatusPass          Status = "PASS"
	StatusFail          Status = "FAIL"
	StatusNotEvaluated  Status = "NOT_EVALUATED"
	StatusSkip          Status = "SKIP"
	StatusNotAdmissible Status = "NOT_ADMISSIBLE"
)

// Severity grades how much a clause weighs in review.
type Severity string

const (
	SeverityRequired    Severity = "required"
	SeverityRecommended Severity = "recommended"
	SeverityOptional    Severity = "optional"
)

// EvidenceRef records one pointer a clause relied on and what it resolved to.
type EvidenceRef struct {
	Pointer       string `json:"pointer"`
	RequirementID string `json:"requirement_id,omitempty"`
	Resolved      string `json:"resolved"`
	// CanonPtr is the canonical pointer of the addressed decision event,
	// when the pointer resolved to one.
	CanonPtr string   `json:"canonptr,omitempty"`
	Content  any      `json:"content,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// ClauseResult is the outcome of one clause.
type ClauseResult struct {
	ClauseID      string        `json:"clause_id"`
	RequirementID string        `json:"requirement_id"`
	DomainID      string        `json:"domain_id,omitempty"`
	Severity      Severity      `json:"severity,omitempty"`
	Status        Status        `json:"status"`
	ReasonCode    string        `json:"reason_code,omitempty"`
	EvidenceRefs  []EvidenceRef `json:"evidence_refs"`
	Notes         []string      `json:"notes,omitempty"`
}

// DomainMeta summarises clause outcomes per domain.
type DomainMeta struct {
	DomainID   string `json:"domain_id"`
	DomainName string `json:"domain_name,omitempty"`
	Status     Status `json:"status"`
}

// Result is the full outcome of adjudicating one bundle under one ruleset.
type Result struct {
	RulesetID      string         `json:"ruleset_id"`
	RunID          string         `json:"run_id"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
	ToplineVerdict Status         `json:"topline_verdict"`
	ReasonCode     string         `json:"reason_code,omitempty"`
	DomainMeta     []DomainMeta   `json:"domain_meta,omitempty"`
	Clauses        []ClauseResult `json:"clauses"`
}

// Input is what an adjudicator sees: the bundle, the ruleset manifest and
// the subset of clauses applicable to this bundle, in manifest order.
type Input struct {
	Bundle   *bundle.Bundle
	Manifest *Manifest
	Clauses  []ClauseSpec
}

// Adjudicator evaluates a bundle. Implementations must be pure: the same
// input yields the same result. RulesetID, RunID and EvaluatedAt are stamped
// by the registry.
type Adjudicator interface {
	Adjudicate(ctx context.Context, in *Input) (*Result, error)
}

// AdjudicatorFunc adapts a function to Adjudicator.
type AdjudicatorFunc func(ctx context.Context, in *Input) (*Result, error)

// Adjudicate implements Adjudicator.
func (f AdjudicatorFunc) Adjudicate(ctx context.Context, in *Input) (*Result, error) {
	return f(ctx, in)
}
