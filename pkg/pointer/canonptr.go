package pointer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// CanonPtr is a content-addressed locator:
//
//	canonptr:v1:<domain>:<decision_kind>:<seq>:<digest>
//
// seq counts domain-bearing decision events from zero; digest is the first
// eight hex characters of a SHA-256 over the event's domain projection. The
// pointer therefore stays valid across runs that record the same decision,
// and stops resolving if the decision content changes.
type CanonPtr struct {
	Domain       semantics.Domain
	DecisionKind string
	Seq          int
	Digest       string
}

var canonPtrRe = regexp.MustCompile(`^canonptr:v1:(D[1-4]):([a-z_]+):(\d{3}):([a-f0-9]{8})$`)

// ErrNotCanonPtr is returned by ParseCanonPtr for any other locator form.
var ErrNotCanonPtr = errors.New("not a canonical pointer")

// ParseCanonPtr parses the canonptr:v1 form.
func ParseCanonPtr(s string) (CanonPtr, error) {
	m := canonPtrRe.FindStringSubmatch(s)
	if m == nil {
		return CanonPtr{}, fmt.Errorf("%w: %q", ErrNotCanonPtr, s)
	}
	seq, _ := strconv.Atoi(m[3])
	return CanonPtr{
		Domain:       semantics.Domain(m[1]),
		DecisionKind: m[2],
		Seq:          seq,
		Digest:       m[4],
	}, nil
}

func (c CanonPtr) String() string {
	return fmt.Sprintf("canonptr:v1:%s:%s:%03d:%s", c.Domain, c.DecisionKind, c.Seq, c.Digest)
}

// domainProjection lists the event keys digested per domain, besides
// decision_kind.
var domainProjection = map[semantics.Domain][]string{
	semantics.DomainBudget:      {"outcome", "resource", "amount"},
	semantics.DomainLifecycle:   {"to_state"},
	semantics.DomainAuthz:       {"outcome", "subject", "resource", "action"},
	semantics.DomainTermination: {"termination_reason"},
}

// SemanticDigest hashes "k:v" pairs sorted by key and joined by '|'.
func SemanticDigest(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+fields[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:8]
}

// projection extracts the digested fields of a decision event. Falsy string
// values are skipped, matching how producers omit unset fields.
func projection(domain semantics.Domain, kind string, event map[string]any) map[string]string {
	out := map[string]string{"decision_kind": kind}
	for _, k := range domainProjection[domain] {
		v, ok := event[k]
		if !ok || v == nil {
			continue
		}
		s := scalarString(v)
		if s == "" && k != "amount" {
			continue
		}
		out[k] = s
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// EventCanonPtr builds the canonical pointer of a decision event at the
// given sequence. ok is false for events without a domain-bearing
// decision_kind.
func EventCanonPtr(event map[string]any, seq int) (CanonPtr, bool) {
	kind, _ := event["decision_kind"].(string)
	if kind == "" {
		return CanonPtr{}, false
	}
	domain, ok := semantics.DomainForDecisionKind(kind)
	if !ok {
		return CanonPtr{}, false
	}
	return CanonPtr{
		Domain:       domain,
		DecisionKind: kind,
		Seq:          seq,
		Digest:       SemanticDigest(projection(domain, kind, event)),
	}, true
}

// Decision pairs a canonical pointer with the trace event it addresses.
type Decision struct {
	Ptr   CanonPtr
	Event bundle.Event
}

// Decisions enumerates canonical pointers for every decision event of a
// trace, in trace order.
func Decisions(trace []bundle.Event) []Decision {
	var out []Decision
	seq := 0
	for _, e := range trace {
		c, ok := EventCanonPtr(e.Fields, seq)
		if !ok {
			continue
		}
		out = append(out, Decision{Ptr: c, Event: e})
		seq++
	}
	return out
}

// ResolveCanonPtr finds the event a canonical pointer addresses. The event
// at the pointer's sequence must match domain, kind and digest.
func ResolveCanonPtr(trace []bundle.Event, c CanonPtr) (bundle.Event, bool) {
	for _, d := range Decisions(trace) {
		if d.Ptr.Seq != c.Seq {
			continue
		}
		if d.Ptr.Domain == c.Domain && d.Ptr.DecisionKind == c.DecisionKind && d.Ptr.Digest == c.Digest {
			return d.Event, true
		}
		return bundle.Event{}, false
	}
	return bundle.Event{}, false
}
