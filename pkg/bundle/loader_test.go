package bundle_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle/bundletest"
)

func TestLoad_MinimalV1Pack(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{
		RunID:      "gf-01-minimal",
		ManifestV1: map[string]any{"pack_id": "pk-1", "protocol_version": "1.0.0"},
	})

	b, err := bundle.NewLoader(root).Load(context.Background(), "gf-01-minimal")
	require.NoError(t, err)

	assert.Equal(t, "gf-01-minimal", b.RunID)
	assert.Equal(t, 1, b.Manifest.Version())
	assert.Equal(t, "pk-1", b.Manifest.PackID())
	assert.True(t, b.VerifyReport.Admissible())
	assert.Nil(t, b.EvaluationReport)
	assert.Equal(t, bundle.StatusMissing, b.StatusOf(bundle.ArtifactEvaluationReport))
	assert.Equal(t, bundle.StatusMissing, b.StatusOf(bundle.ArtifactTrace))

	codes := make([]string, 0, len(b.LoadErrors))
	for _, e := range b.LoadErrors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "PACK-TRACE-MISSING")
	assert.Contains(t, codes, "BUNDLE-MISSING-EVIDENCE-POINTERS")
}

func TestLoad_StructuredManifestWinsOverLegacy(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{
		RunID: "run-v2",
		ManifestV2: &bundle.ManifestV2{
			Run:      "run-v2",
			Ruleset:  "ruleset-1.2",
			Sub:      "langgraph",
			Scenario: "d1-budget-deny",
		},
		ManifestV1: map[string]any{"ruleset_version": "ruleset-1.0", "pack_id": "legacy"},
	})

	b, err := bundle.NewLoader(root).Load(context.Background(), "run-v2")
	require.NoError(t, err)

	require.Equal(t, 2, b.Manifest.Version())
	assert.Equal(t, "ruleset-1.2", b.Manifest.RulesetRef())
	require.NotNil(t, b.Legacy)
	assert.Equal(t, "ruleset-1.0", b.Legacy.RulesetRef())

	_, name, ok := b.RawBytes(bundle.ArtifactManifest)
	require.True(t, ok)
	assert.Equal(t, "manifest.yaml", name)
}

func TestLoad_PackRootRelocatesArtifacts(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{
		RunID:      "nested",
		ManifestV2: &bundle.ManifestV2{Run: "nested", PackRoot: "pack"},
		Events:     []map[string]any{{"event_type": "start"}},
	})

	b, err := bundle.NewLoader(root).Load(context.Background(), "nested")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "nested", "pack"), b.PackRoot)
	assert.Len(t, b.Trace, 1)
}

func TestLoad_MissingRequiredArtifacts(t *testing.T) {
	root := t.TempDir()
	loader := bundle.NewLoader(root)

	_, err := loader.Load(context.Background(), "absent")
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound)

	bundletest.Write(t, root, bundletest.Pack{RunID: "no-manifest"})
	_, err = loader.Load(context.Background(), "no-manifest")
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound)

	bundletest.Write(t, root, bundletest.Pack{
		RunID:            "no-verify",
		ManifestV1:       map[string]any{"pack_id": "x"},
		SkipVerifyReport: true,
	})
	_, err = loader.Load(context.Background(), "no-verify")
	assert.ErrorIs(t, err, bundle.ErrBundleNotFound)
}

func TestLoad_MalformedRequiredArtifacts(t *testing.T) {
	root := t.TempDir()
	loader := bundle.NewLoader(root)

	bundletest.Write(t, root, bundletest.Pack{
		RunID:            "bad-manifest",
		SkipVerifyReport: true,
		Files:            map[string]string{"manifest.json": "{not json", "verify.report.json": `{"admission_status":"ADMISSIBLE"}`},
	})
	_, err := loader.Load(context.Background(), "bad-manifest")
	assert.ErrorIs(t, err, bundle.ErrMalformedBundle)

	bundletest.Write(t, root, bundletest.Pack{
		RunID:        "bad-report",
		ManifestV1:   map[string]any{},
		VerifyReport: map[string]any{"admission_status": "MAYBE"},
	})
	_, err = loader.Load(context.Background(), "bad-report")
	assert.ErrorIs(t, err, bundle.ErrMalformedBundle)
}

func TestLoad_OptionalArtifactsFlaggedInvalid(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{
		RunID:      "partial",
		ManifestV1: map[string]any{},
		RawTrace:   "{\"event_type\":\"a\"}\nnot-json\n\n{\"event_type\":\"b\"}\n",
		Files: map[string]string{
			"evaluation.report.json": "[",
			"evidence_pointers.json": `{"pointers":[{"locator":"L1"}]}`,
			"sha256sums.txt":         "deadbeef  file.json\n",
		},
	})

	b, err := bundle.NewLoader(root).Load(context.Background(), "partial")
	require.NoError(t, err)

	assert.Equal(t, bundle.StatusInvalid, b.StatusOf(bundle.ArtifactEvaluationReport))
	assert.Equal(t, bundle.StatusInvalid, b.StatusOf(bundle.ArtifactPointers))
	assert.Equal(t, bundle.StatusInvalid, b.StatusOf(bundle.ArtifactChecksums))
	assert.Equal(t, bundle.StatusInvalid, b.StatusOf(bundle.ArtifactTrace))

	require.Len(t, b.Trace, 2)
	assert.Equal(t, 0, b.Trace[0].Index)
	assert.Equal(t, 2, b.Trace[1].Index, "malformed line keeps its index slot")
	assert.Equal(t, 4, b.Trace[1].Line)
}

func TestLoad_PointersDefaultToPresent(t *testing.T) {
	root := t.TempDir()
	b := bundletest.Load(t, root, bundletest.Pack{
		RunID:      "ptrs",
		ManifestV1: map[string]any{},
		Pointers: []bundle.EvidencePointer{
			{RequirementID: "RQ-D1-01", ArtifactPath: "timeline/events.ndjson", Locator: "event:0"},
			{RequirementID: "RQ-D2-01", ArtifactPath: "timeline/events.ndjson", Locator: "event:1", Status: bundle.PointerAbsent},
		},
	})

	require.Len(t, b.Pointers, 2)
	assert.Equal(t, bundle.PointerPresent, b.Pointers[0].Status)
	assert.Equal(t, bundle.PointerAbsent, b.Pointers[1].Status)
	assert.Len(t, b.PointersFor("RQ-D1-01"), 1)
	assert.Equal(t, "timeline/events.ndjson#event:0", b.Pointers[0].String())
}

func TestLoad_Checksums(t *testing.T) {
	root := t.TempDir()
	sum := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	b := bundletest.Load(t, root, bundletest.Pack{
		RunID:      "sums",
		ManifestV1: map[string]any{},
		Files:      map[string]string{"integrity/sha256sums.txt": sum + "  *empty.txt\n"},
	})

	require.NotNil(t, b.Checksums)
	assert.Equal(t, "integrity/sha256sums.txt", b.Checksums.File)
	got, ok := b.Checksums.Lookup("empty.txt")
	require.True(t, ok)
	assert.Equal(t, sum, got)
}

func TestLoad_Deterministic(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{
		RunID:      "twice",
		ManifestV1: map[string]any{"pack_id": "p"},
		Events:     []map[string]any{{"event_type": "a", "n": 1}, {"event_type": "b"}},
	})
	loader := bundle.NewLoader(root)

	b1, err := loader.Load(context.Background(), "twice")
	require.NoError(t, err)
	b2, err := loader.Load(context.Background(), "twice")
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestValidateRunID(t *testing.T) {
	for _, id := range []string{"gf-01", "arb-d1.v2", "RUN_1"} {
		assert.NoError(t, bundle.ValidateRunID(id), id)
	}
	for _, id := range []string{"", "..", "a/b", `a\b`, "a..b", "run id"} {
		assert.ErrorIs(t, bundle.ValidateRunID(id), bundle.ErrInvalidRunID, id)
	}
}

func TestLoadDir_RunIDFromManifest(t *testing.T) {
	root := t.TempDir()
	dir := bundletest.Write(t, root, bundletest.Pack{
		RunID:      "dir-name",
		ManifestV2: &bundle.ManifestV2{Run: "declared-id"},
	})

	b, err := bundle.NewLoader("").LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "declared-id", b.RunID)
}

func TestLoad_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, bundletest.Pack{RunID: "c", ManifestV1: map[string]any{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bundle.NewLoader(root).Load(ctx, "c")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRawBytesReturnsCopy(t *testing.T) {
	root := t.TempDir()
	b := bundletest.Load(t, root, bundletest.Pack{RunID: "copy", ManifestV1: map[string]any{}})

	data, _, ok := b.RawBytes(bundle.ArtifactVerifyReport)
	require.True(t, ok)
	data[0] = 'X'
	again, _, _ := b.RawBytes(bundle.ArtifactVerifyReport)
	assert.NotEqual(t, byte('X'), again[0])

	_, err := os.Stat(filepath.Join(root, "copy", "verify.report.json"))
	require.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	root := t.TempDir()
	p := bundletest.Pack{
		RunID:      "fp",
		ManifestV1: map[string]any{"pack_id": "p"},
		Events:     []map[string]any{{"event_id": "e1", "event_type": "run.start"}},
	}
	a := bundletest.Load(t, root, p)
	b := bundletest.Load(t, root, p)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	p.Events = append(p.Events, map[string]any{"event_id": "e2", "event_type": "run.end"})
	c := bundletest.Load(t, root, p)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestLoadUnverified(t *testing.T) {
	root := t.TempDir()
	dir := bundletest.Write(t, root, bundletest.Pack{
		RunID:            "fresh",
		ManifestV1:       map[string]any{"pack_id": "p"},
		SkipVerifyReport: true,
		Events:           []map[string]any{{"event_id": "e1"}},
	})

	_, err := bundle.NewLoader(root).Load(context.Background(), "fresh")
	require.ErrorIs(t, err, bundle.ErrBundleNotFound)

	b, err := bundle.NewLoader(root).LoadUnverified(context.Background(), dir)
	require.NoError(t, err)
	assert.Nil(t, b.VerifyReport)
	assert.Equal(t, bundle.StatusMissing, b.StatusOf(bundle.ArtifactVerifyReport))
	assert.Len(t, b.Trace, 1)
}

func TestList(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"run-b", "run-a"} {
		bundletest.Write(t, root, bundletest.Pack{RunID: id, ManifestV1: map[string]any{}})
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "bad name"), 0o755))

	ids, err := bundle.NewLoader(root).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)

	_, err = bundle.NewLoader(filepath.Join(root, "absent")).List()
	assert.Error(t, err)
}
