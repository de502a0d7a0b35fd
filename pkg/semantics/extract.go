package semantics

import (
	"fmt"
	"strconv"
	"strings"
)

// Domain identifies one of the four semantic evidence domains.
type Domain string

const (
	DomainBudget      Domain = "D1"
	DomainLifecycle   Domain = "D2"
	DomainAuthz       Domain = "D3"
	DomainTermination Domain = "D4"
)

// Domains lists the domains in canonical order.
var Domains = []Domain{DomainBudget, DomainLifecycle, DomainAuthz, DomainTermination}

// DomainNames are the human-readable domain titles reported in domain meta.
var DomainNames = map[Domain]string{
	DomainBudget:      "Budget Decision Record",
	DomainLifecycle:   "Terminal Lifecycle State",
	DomainAuthz:       "Authorization Decision",
	DomainTermination: "Termination & Recovery",
}

// ParseDomain accepts "D1".."D4" in any case.
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := DomainNames[d]
	return d, ok
}

var kindDomains = map[string]Domain{
	"budget":      DomainBudget,
	"lifecycle":   DomainLifecycle,
	"authz":       DomainAuthz,
	"terminate":   DomainTermination,
	"termination": DomainTermination,
}

// DomainForDecisionKind maps a literal decision_kind to its domain. Only the
// exact canonical kind names participate; synonyms do not address canonical
// pointers.
func DomainForDecisionKind(kind string) (Domain, bool) {
	d, ok := kindDomains[kind]
	return d, ok
}

// Fields is the canonical projection of one trace event.
type Fields struct {
	EventType         string
	DecisionKind      string
	Outcome           string
	BudgetScope       string
	ToState           string
	IsTerminal        bool
	Subject           string
	Resource          string
	Action            string
	TerminationReason string
	HasRecoveryGuard  bool
	PrimaryDomain     Domain
}

// Empty reports whether no semantic field was found.
func (f Fields) Empty() bool {
	return f.DecisionKind == "" && f.Outcome == "" && f.ToState == "" &&
		f.Subject == "" && f.Resource == "" && f.Action == "" &&
		f.TerminationReason == "" && f.BudgetScope == ""
}

// CompleteSRA reports whether subject, resource and action are all present.
func (f Fields) CompleteSRA() bool {
	return f.Subject != "" && f.Resource != "" && f.Action != ""
}

// Extract projects a decoded trace event onto Fields. For every canonical
// field the first present key in its fallback list wins. Fields nested under
// "payload" are consulted after top-level keys.
func Extract(event map[string]any) Fields {
	if event == nil {
		return Fields{}
	}
	look := func(keys ...string) string {
		if s := first(event, keys); s != "" {
			return s
		}
		if payload, ok := event["payload"].(map[string]any); ok {
			return first(payload, keys)
		}
		return ""
	}

	f := Fields{
		EventType:         NormalizeToken(look("event_type")),
		DecisionKind:      NormalizeToken(look("decision_kind", "kind", "type")),
		Outcome:           NormalizeToken(look("outcome", "decision_outcome", "result")),
		BudgetScope:       look("budget_scope", "scope", "quota_id"),
		ToState:           NormalizeToken(look("to_state", "state", "status")),
		Subject:           look("subject", "actor", "principal", "user"),
		Resource:          look("resource", "target", "object"),
		Action:            look("action", "operation", "method"),
		TerminationReason: NormalizeToken(look("termination_reason", "reason", "cause")),
		HasRecoveryGuard:  look("recovery_guard", "recovery_path", "controlled_recovery") != "",
	}
	f.IsTerminal = IsTerminalState(f.ToState)
	f.PrimaryDomain = inferDomain(f)
	return f
}

func inferDomain(f Fields) Domain {
	switch {
	case BudgetKinds.Has(f.DecisionKind) || containsAny(f.EventType, "budget", "quota", "throttle"):
		return DomainBudget
	case AuthzKinds.Has(f.DecisionKind) || containsAny(f.EventType, "authz", "authorization", "permission"):
		return DomainAuthz
	case TerminateKinds.Has(f.DecisionKind) || containsAny(f.EventType, "terminat", "abort", "stop"):
		return DomainTermination
	case f.IsTerminal:
		return DomainLifecycle
	}
	return ""
}

// TypeContains reports whether the normalized event type contains any of
// the given fragments.
func (f Fields) TypeContains(fragments ...string) bool {
	return containsAny(f.EventType, fragments...)
}

// EventTypeContains reports whether the normalized event type contains any
// of the given fragments.
func EventTypeContains(event map[string]any, fragments ...string) bool {
	s, _ := event["event_type"].(string)
	return containsAny(NormalizeToken(s), fragments...)
}

func containsAny(s string, fragments ...string) bool {
	if s == "" {
		return false
	}
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func first(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s := scalar(v); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	case int, int64, int32:
		return fmt.Sprint(t)
	}
	return ""
}
