// Package proof builds AdjudicationProofs: portable summaries of a pack's
// admission and evaluation, bound to the pack by SHA-256 hashes of its raw
// report files. A proof is not a signature; signing is left to callers.
package proof

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/canonicalize"
)

// Version is the proof format version.
const Version = "1.0"

// Disclaimer is carried verbatim by every proof.
const Disclaimer = "This is an evidence-based verdict under a versioned ruleset. Non-certification. Non-endorsement. Third parties may independently verify by re-running the evaluation."

const defaultRuleset = "ruleset-1.0"

var (
	ErrVerifyReportMissing = errors.New("verify.report.json missing or unparsable")
	ErrManifestMissing     = errors.New("manifest missing or unparsable")
)

// proofNamespace scopes the name-based UUIDs of proofs.
var proofNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("validation-lab.adjudication-proof"))

// AdjudicationProof is the portable proof document.
type AdjudicationProof struct {
	ProofVersion string      `json:"proof_version"`
	ProofID      string      `json:"proof_id"`
	RunID        string      `json:"run_id"`
	GeneratedAt  time.Time   `json:"generated_at"`
	Pack         Pack        `json:"pack"`
	Ruleset      Ruleset     `json:"ruleset"`
	Admission    Admission   `json:"admission"`
	Evaluation   *Evaluation `json:"evaluation,omitempty"`
	Integrity    Integrity   `json:"integrity"`
	Disclaimer   string      `json:"disclaimer"`
}

type Pack struct {
	PackID          string `json:"pack_id"`
	ProtocolVersion string `json:"protocol_version"`
}

type Ruleset struct {
	Version string `json:"version"`
}

type Admission struct {
	Status                string `json:"status"`
	BlockingFailuresCount int    `json:"blocking_failures_count"`
}

type Evaluation struct {
	VerdictHash string    `json:"verdict_hash"`
	GFSummary   GFSummary `json:"gf_summary"`
}

// GFSummary counts golden-flow verdicts; anything but PASS or FAIL is a skip.
type GFSummary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Skip  int `json:"skip"`
}

// Integrity holds lowercase hex SHA-256 digests of the raw files.
type Integrity struct {
	VerifyReportHash     string `json:"verify_report_hash"`
	EvaluationReportHash string `json:"evaluation_report_hash,omitempty"`
	ManifestHash         string `json:"manifest_hash"`
	ChecksumsHash        string `json:"checksums_hash,omitempty"`
}

// Builder produces proofs from loaded bundles.
type Builder struct {
	clock func() time.Time
}

// NewBuilder returns a builder stamping proofs with the current time.
func NewBuilder() *Builder {
	return &Builder{clock: time.Now}
}

// WithClock overrides the generation timestamp source.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build assembles the proof of a bundle. The verify report and a manifest
// are required; the evaluation section is present only when the pack
// carries an evaluation report with a verdict hash.
func (b *Builder) Build(bun *bundle.Bundle) (*AdjudicationProof, error) {
	if bun.VerifyReport == nil {
		return nil, fmt.Errorf("proof %s: %w", bun.RunID, ErrVerifyReportMissing)
	}
	verifyRaw, _, ok := bun.RawBytes(bundle.ArtifactVerifyReport)
	if !ok {
		return nil, fmt.Errorf("proof %s: %w", bun.RunID, ErrVerifyReportMissing)
	}
	manifestRaw, _, ok := bun.RawBytes(bundle.ArtifactManifest)
	if !ok || bun.Manifest == nil {
		return nil, fmt.Errorf("proof %s: %w", bun.RunID, ErrManifestMissing)
	}

	p := &AdjudicationProof{
		ProofVersion: Version,
		RunID:        bun.RunID,
		GeneratedAt:  b.clock().UTC(),
		Pack: Pack{
			PackID:          orUnknown(bun.Manifest.PackID()),
			ProtocolVersion: orUnknown(bun.Manifest.ProtocolVersion()),
		},
		Ruleset: Ruleset{Version: defaultRuleset},
		Admission: Admission{
			Status:                bun.VerifyReport.AdmissionStatus,
			BlockingFailuresCount: len(bun.VerifyReport.BlockingFailures),
		},
		Integrity: Integrity{
			VerifyReportHash: canonicalize.HashBytes(verifyRaw),
			ManifestHash:     canonicalize.HashBytes(manifestRaw),
		},
		Disclaimer: Disclaimer,
	}
	if ref := bun.Manifest.RulesetRef(); ref != "" {
		p.Ruleset.Version = ref
	}

	if er := bun.EvaluationReport; er != nil {
		if raw, _, ok := bun.RawBytes(bundle.ArtifactEvaluationReport); ok {
			p.Integrity.EvaluationReportHash = canonicalize.HashBytes(raw)
		}
		if er.RulesetVersion != "" {
			p.Ruleset.Version = er.RulesetVersion
		}
		if er.VerdictHash != "" && er.GFVerdicts != nil {
			p.Evaluation = &Evaluation{VerdictHash: er.VerdictHash, GFSummary: summarize(er.GFVerdicts)}
		}
	}
	if raw, _, ok := bun.RawBytes(bundle.ArtifactChecksums); ok {
		p.Integrity.ChecksumsHash = canonicalize.HashBytes(raw)
	}

	p.ProofID = ID(p.RunID, p.Integrity)
	return p, nil
}

// ID derives the deterministic proof id from the run id and the integrity
// hashes, so rebuilding a proof over unchanged files yields the same id.
func ID(runID string, in Integrity) string {
	name := strings.Join([]string{
		runID, in.VerifyReportHash, in.EvaluationReportHash, in.ManifestHash, in.ChecksumsHash,
	}, "\n")
	return uuid.NewSHA1(proofNamespace, []byte(name)).String()
}

func summarize(verdicts []bundle.GFVerdict) GFSummary {
	s := GFSummary{Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.Status {
		case "PASS":
			s.Pass++
		case "FAIL":
			s.Fail++
		default:
			s.Skip++
		}
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
