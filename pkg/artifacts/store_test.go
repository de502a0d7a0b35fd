package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	for _, k := range []string{"report.json", "diffs/d1-budget/a__b.json"} {
		assert.NoError(t, ValidateKey(k), k)
	}
	for _, k := range []string{"", "/abs", "../up", "a/../b", "a//b", "a/./b", `a\b`, "a/"} {
		assert.ErrorIs(t, ValidateKey(k), ErrInvalidKey, k)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	digest, err := s.Put(ctx, "results/run-1/ruleset-1.2.json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte(`{"ok":true}`)), digest)
	assert.Contains(t, digest, "sha256:")

	ok, err := s.Exists(ctx, "results/run-1/ruleset-1.2.json")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.Get(ctx, "results/run-1/ruleset-1.2.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = s.Put(ctx, "results/run-1/ruleset-1.2.json", []byte(`{"ok":false}`))
	require.NoError(t, err)
	data, err = s.Get(ctx, "results/run-1/ruleset-1.2.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false}`, string(data))

	require.NoError(t, s.Delete(ctx, "results/run-1/ruleset-1.2.json"))
	require.NoError(t, s.Delete(ctx, "results/run-1/ruleset-1.2.json"))
	_, err = s.Get(ctx, "results/run-1/ruleset-1.2.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(t.Context(), "../escape.json", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileStore_CancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = s.Put(ctx, "a.json", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimitedStore(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := NewLimitedStore(fs, 1000, 2)

	_, err = s.Put(t.Context(), "a.json", []byte("1"))
	require.NoError(t, err)
	ok, err := s.Exists(t.Context(), "a.json")
	require.NoError(t, err)
	assert.True(t, ok)

	slow := NewLimitedStore(fs, 0.001, 1)
	_, err = slow.Get(t.Context(), "a.json")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.Get(ctx, "a.json")
	assert.Error(t, err)
}

func TestExporter(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewExporter(fs, "vlab").WithClock(func() time.Time { return now })

	ref, err := e.Export(t.Context(), TypeAdjudicationProof, ProofKey("run-1"), map[string]string{"run_id": "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "proofs/run-1.json", ref.Key)

	env, err := e.Read(t.Context(), ref.Key)
	require.NoError(t, err)
	assert.Equal(t, TypeAdjudicationProof, env.Type)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, "vlab", env.Producer)
	assert.Equal(t, now, env.Timestamp)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(env.Payload))

	_, err = e.Export(t.Context(), "", "x.json", nil)
	assert.Error(t, err)

	assert.Equal(t, "results/run-1/ruleset-1.2.json", ResultKey("run-1", "ruleset-1.2"))
	assert.Equal(t, "verify/run-1.json", VerifyReportKey("run-1"))
}
