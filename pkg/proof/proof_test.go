package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle/bundletest"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func builder() *Builder {
	return NewBuilder().WithClock(func() time.Time { return fixedNow })
}

func fileHash(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestBuild_Full(t *testing.T) {
	root := t.TempDir()
	dir := bundletest.Write(t, root, bundletest.Pack{
		RunID:      "gf-01-proof",
		ManifestV1: map[string]any{"pack_id": "pack-7", "protocol_version": "1.0.0"},
		VerifyReport: map[string]any{
			"admission_status":  bundle.Admissible,
			"blocking_failures": []any{},
		},
		EvaluationReport: map[string]any{
			"ruleset_version": "ruleset-1.0",
			"verdict_hash":    "abc123",
			"gf_verdicts": []map[string]any{
				{"gf_id": "gf-01", "status": "PASS"},
				{"gf_id": "gf-02", "status": "FAIL"},
				{"gf_id": "gf-03", "status": "NOT_EVALUATED"},
			},
		},
		Events: []map[string]any{{"event_id": "e1", "event_type": "run.start"}},
	})
	b, err := bundle.NewLoader(root).Load(t.Context(), "gf-01-proof")
	require.NoError(t, err)

	p, err := builder().Build(b)
	require.NoError(t, err)

	assert.Equal(t, Version, p.ProofVersion)
	assert.Equal(t, fixedNow, p.GeneratedAt)
	assert.Equal(t, Pack{PackID: "pack-7", ProtocolVersion: "1.0.0"}, p.Pack)
	assert.Equal(t, "ruleset-1.0", p.Ruleset.Version)
	assert.Equal(t, Admission{Status: bundle.Admissible}, p.Admission)
	require.NotNil(t, p.Evaluation)
	assert.Equal(t, GFSummary{Total: 3, Pass: 1, Fail: 1, Skip: 1}, p.Evaluation.GFSummary)
	assert.Equal(t, fileHash(t, filepath.Join(dir, "verify.report.json")), p.Integrity.VerifyReportHash)
	assert.Equal(t, fileHash(t, filepath.Join(dir, "evaluation.report.json")), p.Integrity.EvaluationReportHash)
	assert.Equal(t, fileHash(t, filepath.Join(dir, "manifest.json")), p.Integrity.ManifestHash)
	assert.Empty(t, p.Integrity.ChecksumsHash)
	assert.Equal(t, Disclaimer, p.Disclaimer)

	again, err := NewBuilder().Build(b)
	require.NoError(t, err)
	assert.Equal(t, p.ProofID, again.ProofID)
}

func TestBuild_NoEvaluation(t *testing.T) {
	b := bundletest.Load(t, t.TempDir(), bundletest.Pack{
		RunID:        "arb-d1-no-eval",
		ManifestV1:   map[string]any{"ruleset_ref": "ruleset-1.2"},
		VerifyReport: map[string]any{"admission_status": bundle.NotAdmissible, "blocking_failures": []map[string]any{{"check_id": "INT-001"}}},
		Events:       []map[string]any{{"event_id": "e1"}},
	})
	p, err := builder().Build(b)
	require.NoError(t, err)
	assert.Nil(t, p.Evaluation)
	assert.Empty(t, p.Integrity.EvaluationReportHash)
	assert.Equal(t, "unknown", p.Pack.PackID)
	assert.Equal(t, "ruleset-1.2", p.Ruleset.Version)
	assert.Equal(t, 1, p.Admission.BlockingFailuresCount)
}

func TestBuild_MissingInputs(t *testing.T) {
	_, err := builder().Build(&bundle.Bundle{RunID: "bare"})
	require.ErrorIs(t, err, ErrVerifyReportMissing)

	b := bundletest.Load(t, t.TempDir(), bundletest.Pack{
		RunID:      "no-manifest",
		ManifestV1: map[string]any{"pack_id": "p"},
		Events:     []map[string]any{{"event_id": "e1"}},
	})
	b.Manifest = nil
	_, err = builder().Build(b)
	require.ErrorIs(t, err, ErrManifestMissing)
}

func TestID(t *testing.T) {
	in := Integrity{VerifyReportHash: "a", ManifestHash: "b"}
	assert.Equal(t, ID("run", in), ID("run", in))
	assert.NotEqual(t, ID("run", in), ID("run-2", in))
	in2 := in
	in2.ChecksumsHash = "c"
	assert.NotEqual(t, ID("run", in), ID("run", in2))
}
