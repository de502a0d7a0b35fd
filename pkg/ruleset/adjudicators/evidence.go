// Package adjudicators implements the shipped rulesets. Each clause is a
// pure function of the bundle; DefaultRegistry wires them to the embedded
// ruleset manifests.
package adjudicators

import (
	"fmt"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// evidence is the resolved pointer set of one requirement.
type evidence struct {
	requirementID string
	refs          []pointer.Ref
	resolved      int
	// canon maps trace indexes of decision events to their canonical pointer.
	canon map[int]string
}

func collect(b *bundle.Bundle, requirementID string) evidence {
	ev := evidence{requirementID: requirementID}
	for _, p := range b.PointersFor(requirementID) {
		ev.add(b, p)
	}
	return ev
}

func (e *evidence) add(b *bundle.Bundle, p bundle.EvidencePointer) {
	ref := pointer.ResolveInBundle(b, p)
	if ref.OK() {
		e.resolved++
	}
	if ref.Event != nil && e.canon == nil {
		e.canon = canonIndex(b.Trace)
	}
	e.refs = append(e.refs, ref)
}

func canonIndex(trace []bundle.Event) map[int]string {
	out := map[int]string{}
	for _, d := range pointer.Decisions(trace) {
		out[d.Event.Index] = d.Ptr.String()
	}
	return out
}

func (e evidence) empty() bool { return len(e.refs) == 0 }

// record returns the first resolved reference that carries a structured
// record (event, snapshot or JSON object).
func (e evidence) record() (pointer.Ref, bool) {
	for _, r := range e.refs {
		if !r.OK() {
			continue
		}
		if r.Event != nil || r.Resolved == pointer.ResolvedSnapshot {
			return r, true
		}
		if _, ok := r.Content.(map[string]any); ok {
			return r, true
		}
	}
	return pointer.Ref{}, false
}

// fields returns the semantic projection of the first structured record.
func (e evidence) fields() (semantics.Fields, bool) {
	r, ok := e.record()
	if !ok {
		return semantics.Fields{}, false
	}
	return r.Fields, true
}

// position returns the trace index of the first resolved event.
func (e evidence) position() (int, bool) {
	for _, r := range e.refs {
		if r.OK() && r.Event != nil {
			return r.Event.Index, true
		}
	}
	return 0, false
}

func (e evidence) evidenceRefs() []ruleset.EvidenceRef {
	out := make([]ruleset.EvidenceRef, 0, len(e.refs))
	for _, r := range e.refs {
		ref := ruleset.EvidenceRef{
			Pointer:       r.Pointer.String(),
			RequirementID: r.Pointer.RequirementID,
			Resolved:      string(r.Resolved),
			Content:       r.Content,
			Notes:         r.Notes,
		}
		if r.Event != nil {
			ref.CanonPtr = e.canon[r.Event.Index]
		}
		out = append(out, ref)
	}
	return out
}

// verdict builds a clause result for the clause described by spec.
func verdict(spec ruleset.ClauseSpec, status ruleset.Status, reason string, ev evidence, notes ...string) ruleset.ClauseResult {
	return ruleset.ClauseResult{
		ClauseID:      spec.ClauseID,
		RequirementID: spec.RequirementID,
		DomainID:      spec.Domain,
		Severity:      spec.Severity,
		Status:        status,
		ReasonCode:    reason,
		EvidenceRefs:  ev.evidenceRefs(),
		Notes:         notes,
	}
}

// precededBy reports whether any trace event before index has an event type
// containing one of fragments. Order is the trace order, not timestamps.
func precededBy(trace []bundle.Event, index int, fragments ...string) (bundle.Event, bool) {
	for _, e := range trace {
		if e.Index >= index {
			break
		}
		if semantics.EventTypeContains(e.Fields, fragments...) {
			return e, true
		}
	}
	return bundle.Event{}, false
}

// after returns the trace events after index whose type matches keep.
func after(trace []bundle.Event, index int, keep func(map[string]any) bool) []bundle.Event {
	var out []bundle.Event
	for _, e := range trace {
		if e.Index > index && keep(e.Fields) {
			out = append(out, e)
		}
	}
	return out
}

func describe(e bundle.Event) string {
	if id := e.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("event:%d", e.Index)
}
