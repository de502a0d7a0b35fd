package equivalence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle/bundletest"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func budgetPack(runID, substrate string, amount float64, ts string) bundletest.Pack {
	return bundletest.Pack{
		RunID:      runID,
		ManifestV1: map[string]any{"pack_id": runID, "substrate": substrate, "scenario_id": "d1-budget-allow"},
		Events: []map[string]any{
			{"event_id": runID + "-0", "event_type": "run.start", "timestamp": ts, "sequence": 0},
			{"event_id": runID + "-1", "event_type": "budget.decision", "timestamp": ts, "sequence": 1,
				"decision_kind": "budget", "outcome": "allow", "amount": amount, "note": "ok   \nnext  "},
		},
	}
}

var pass = &ruleset.Result{ToplineVerdict: ruleset.StatusPass}

func normalize(t *testing.T, p bundletest.Pack, c *Criteria) Entry {
	t.Helper()
	b := bundletest.Load(t, t.TempDir(), p)
	e, err := Normalize(b, pass, c)
	require.NoError(t, err)
	return e
}

func TestNormalize_RunIdentityExcluded(t *testing.T) {
	a := normalize(t, budgetPack("v05-d1-langgraph-pass-budget-allow", "langgraph", 50, "2026-01-01T00:00:00Z"), nil)
	b := normalize(t, budgetPack("v05-d1-autogen-pass-budget-allow", "autogen", 50.0000001, "2026-02-02T00:00:00Z"), nil)

	assert.Equal(t, "d1-budget", a.ScenarioFamily)
	assert.Equal(t, "langgraph", a.Substrate)
	assert.Equal(t, "autogen", b.Substrate)
	assert.Equal(t, "PASS", a.VerdictStatus)
	assert.Equal(t, bundle.Admissible, a.AdmissionStatus)
	assert.Equal(t, a.NormalizedHash, b.NormalizedHash)
}

func TestNormalize_FoldFields(t *testing.T) {
	p50 := budgetPack("v05-d1-langgraph-pass-budget-allow", "langgraph", 50, "t")
	p100 := budgetPack("v05-d1-autogen-pass-budget-allow", "autogen", 100, "t")

	a := normalize(t, p50, nil)
	b := normalize(t, p100, nil)
	assert.NotEqual(t, a.NormalizedHash, b.NormalizedHash)

	folded := DefaultCriteria()
	folded.FoldFields = []string{"amount"}
	a = normalize(t, p50, folded)
	b = normalize(t, p100, folded)
	assert.Equal(t, a.NormalizedHash, b.NormalizedHash)
}

func TestProject_Timeline(t *testing.T) {
	p := budgetPack("run-x", "s", 1.23456789, "t")
	p.Events[0]["sequence"], p.Events[1]["sequence"] = 5, 2
	b := bundletest.Load(t, t.TempDir(), p)

	doc := Project(b, nil, nil)
	require.Len(t, doc.Timeline, 2)
	assert.Equal(t, "budget.decision", doc.Timeline[0].EventType)
	assert.Equal(t, "unknown", doc.Timeline[0].Actor)
	assert.Equal(t, 1.234568, doc.Timeline[0].Payload["amount"])
	assert.Equal(t, "ok\nnext", doc.Timeline[0].Payload["note"])
	assert.NotContains(t, doc.Timeline[0].Payload, "timestamp")
	assert.NotContains(t, doc.Timeline[0].Payload, "event_id")
	assert.Equal(t, "unknown", doc.Verdict.Status)
}

func TestScenarioFamily(t *testing.T) {
	tests := []struct{ scenario, run, want string }{
		{"d2-lifecycle-terminal", "x", "d2-lifecycle"},
		{"", "v05-d3-crewai-fail-authz-deny", "d3-authz"},
		{"unknown", "arb-d4-termination", "d4"},
		{"", "gf-01-single", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScenarioFamily(tt.scenario, tt.run), tt.run)
	}
}

func entry(run, family, hash, admission string) Entry {
	return Entry{RunID: run, ScenarioFamily: family, NormalizedHash: hash, AdmissionStatus: admission, VerdictStatus: "PASS"}
}

func TestEngine_Compute(t *testing.T) {
	e := NewEngine(nil).WithClock(func() time.Time { return fixedNow })
	entries := []Entry{
		entry("a", "d1-budget", "h1", "ADMISSIBLE"),
		entry("b", "d1-budget", "h1", "ADMISSIBLE"),
		entry("c", "d1-budget", "h2aaaaaaaaaaaaaaaaaaaa", "ADMISSIBLE"),
		entry("d", "d2-lifecycle", "h3", "NOT_ADMISSIBLE"),
		entry("e", "d2-lifecycle", "h3", "ADMISSIBLE"),
	}
	rep, err := e.Compute(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, []string{"d1-budget", "d2-lifecycle"}, rep.ScenarioFamilies)
	assert.Equal(t, fixedNow, rep.GeneratedAt)
	require.Len(t, rep.EquivalenceMatrix, 4)
	assert.Equal(t, Pair{LeftRunID: "a", RightRunID: "b", Equivalent: true}, rep.EquivalenceMatrix[0])
	assert.Equal(t, "diffs/d1-budget/a__c.json", rep.EquivalenceMatrix[1].DiffRef)

	hashDiff := rep.Diffs["diffs/d1-budget/a__c.json"]
	require.NotNil(t, hashDiff)
	assert.Equal(t, [2]string{"a", "c"}, hashDiff.Pair)
	assert.Equal(t, []Difference{{NoteCode: NoteValueHashMismatch, Params: map[string]string{
		"pointer": "/normalized_hash", "left_hash": "h1", "right_hash": "h2aaaaaaaaaaaaaa",
	}}}, hashDiff.Differences)

	adm := rep.Diffs["diffs/d2-lifecycle/d__e.json"]
	require.NotNil(t, adm)
	assert.Equal(t, NoteMissingAdmissibility, adm.Differences[0].NoteCode)
	assert.Equal(t, map[string]string{"run_id": "d", "side": "left"}, adm.Differences[0].Params)
}

func TestEngine_CompareOrderAndSymmetry(t *testing.T) {
	e := NewEngine(nil)
	l := entry("l", "d1-budget", "x", "PARTIALLY_ADMISSIBLE")
	r := entry("r", "d2-lifecycle", "y", "ADMISSIBLE")

	diffs := e.Compare(l, r)
	require.Len(t, diffs, 3)
	assert.Equal(t, NoteScenarioFamilyMismatch, diffs[0].NoteCode)
	assert.Equal(t, NoteMissingAdmissibility, diffs[1].NoteCode)
	assert.Equal(t, NoteValueHashMismatch, diffs[2].NoteCode)
	assert.Equal(t, e.Equivalent(l, r), e.Equivalent(r, l))
}

func TestEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(nil).Compute(ctx, []Entry{entry("a", "f", "h", "ADMISSIBLE"), entry("b", "f", "h", "ADMISSIBLE")})
	require.ErrorIs(t, err, context.Canceled)
}

type memPutter struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memPutter) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[key] = data
	return "sha256:test", nil
}

func TestReport_Write(t *testing.T) {
	rep, err := NewEngine(nil).Compute(context.Background(), []Entry{
		entry("a", "d1-budget", "h1", "ADMISSIBLE"),
		entry("b", "d1-budget", "h2", "ADMISSIBLE"),
	})
	require.NoError(t, err)

	store := &memPutter{}
	require.NoError(t, rep.Write(context.Background(), store, "cross-verified"))
	require.Contains(t, store.objs, "cross-verified/report.json")
	require.Contains(t, store.objs, "cross-verified/diffs/d1-budget/a__b.json")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(store.objs["cross-verified/report.json"], &decoded))
	assert.NotContains(t, decoded, "Diffs")
	assert.Equal(t, DefaultDisclaimer, decoded["disclaimer"])
}

func TestLoadCriteria(t *testing.T) {
	p := filepath.Join(t.TempDir(), "equivalence-criteria.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
version: "2.1.0"
admissibility:
  admissible_values: [ADMISSIBLE, PARTIALLY_ADMISSIBLE]
fold_fields: [amount]
`), 0o600))

	c, err := LoadCriteria(p)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", c.Version)
	assert.True(t, c.Admissible("PARTIALLY_ADMISSIBLE"))
	assert.False(t, c.Admissible("NOT_ADMISSIBLE"))
	assert.Equal(t, []string{"amount"}, c.FoldFields)
	assert.Contains(t, c.VolatileFields, "timestamp")
	assert.Equal(t, DefaultDisclaimer, c.Disclaimer.Text)

	_, err = ParseCriteria([]byte("admissibility: ["))
	require.Error(t, err)
	_, err = LoadCriteria(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
