package semantics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"  Rate-Limit ":  "rate_limit",
		"ACCESS CONTROL": "access_control",
		"loop--detected": "loop_detected",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeToken(in), "input %q", in)
	}
}

func TestGroups(t *testing.T) {
	assert.True(t, BudgetKinds.Has("Token Budget"))
	assert.True(t, AuthzKinds.Has("access-control"))
	assert.False(t, AuthzKinds.Has(""))
	assert.True(t, IsTerminalState("Canceled"))
	assert.False(t, IsTerminalState("running"))
	assert.True(t, ValidBudgetOutcome("throttled"))
	assert.False(t, ValidAuthzOutcome("throttled"))
	assert.True(t, ValidTerminationReason("loop-detected"))
	assert.False(t, ValidTerminationReason("bored"))
	assert.True(t, RestrictiveBudgetOutcome("Throttled"))
	assert.True(t, RestrictiveBudgetOutcome("deny"))
	assert.False(t, RestrictiveBudgetOutcome("resumed"))
	assert.False(t, RestrictiveBudgetOutcome("allow"))
}

func TestExtract_FallbackKeys(t *testing.T) {
	f := Extract(map[string]any{
		"event_type": "authz.decision",
		"kind":       "Authorization",
		"result":     "DENIED",
		"principal":  "agent-7",
		"target":     "db/customers",
		"operation":  "read",
	})

	assert.Equal(t, "authorization", f.DecisionKind)
	assert.Equal(t, "denied", f.Outcome)
	assert.Equal(t, "agent-7", f.Subject)
	assert.Equal(t, "db/customers", f.Resource)
	assert.Equal(t, "read", f.Action)
	assert.True(t, f.CompleteSRA())
	assert.Equal(t, DomainAuthz, f.PrimaryDomain)
}

func TestExtract_FirstPresentKeyWins(t *testing.T) {
	f := Extract(map[string]any{"outcome": "allow", "result": "deny"})
	assert.Equal(t, "allow", f.Outcome)
}

func TestExtract_PayloadFallback(t *testing.T) {
	f := Extract(map[string]any{
		"event_type": "run.state",
		"payload":    map[string]any{"to_state": "Completed"},
	})
	assert.Equal(t, "completed", f.ToState)
	assert.True(t, f.IsTerminal)
	assert.Equal(t, DomainLifecycle, f.PrimaryDomain)
}

func TestExtract_DomainInferenceFromEventType(t *testing.T) {
	assert.Equal(t, DomainBudget, Extract(map[string]any{"event_type": "quota_check"}).PrimaryDomain)
	assert.Equal(t, DomainTermination, Extract(map[string]any{"event_type": "run_aborted"}).PrimaryDomain)
	assert.Equal(t, Domain(""), Extract(map[string]any{"event_type": "tool_call"}).PrimaryDomain)
}

func TestExtract_EmptyAndNil(t *testing.T) {
	assert.True(t, Extract(nil).Empty())
	assert.True(t, Extract(map[string]any{"event_type": "log"}).Empty())
}

func TestDomainForDecisionKind(t *testing.T) {
	d, ok := DomainForDecisionKind("termination")
	assert.True(t, ok)
	assert.Equal(t, DomainTermination, d)

	_, ok = DomainForDecisionKind("quota")
	assert.False(t, ok, "synonyms do not address canonical pointers")
}

func TestParseDomain(t *testing.T) {
	d, ok := ParseDomain("d3")
	assert.True(t, ok)
	assert.Equal(t, DomainAuthz, d)
	_, ok = ParseDomain("D5")
	assert.False(t, ok)
}
