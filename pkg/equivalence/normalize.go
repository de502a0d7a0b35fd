// Package equivalence decides whether evidence packs recorded on different
// substrates describe the same behaviour. Packs are first reduced to a
// normalized document with run identity and volatile fields removed; pairs
// within a scenario family are then compared by admissibility and by the
// hash of that document.
package equivalence

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/canonicalize"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

const unknown = "unknown"

// Entry is the normalized summary of one pack that the engine compares.
type Entry struct {
	RunID           string `json:"run_id"`
	Substrate       string `json:"substrate"`
	ScenarioFamily  string `json:"scenario_family"`
	NormalizedHash  string `json:"normalized_hash"`
	VerdictStatus   string `json:"verdict_status"`
	AdmissionStatus string `json:"admission_status"`
}

// Document is the normalized projection of a pack. Its JCS encoding is what
// NormalizedHash digests.
type Document struct {
	Meta     DocumentMeta     `json:"_meta"`
	Manifest DocumentManifest `json:"manifest"`
	Timeline []DocumentEvent  `json:"timeline"`
	Verdict  DocumentVerdict  `json:"verdict"`
}

// DocumentMeta names the rule versions the document was produced under.
type DocumentMeta struct {
	NormalizationVersion string `json:"normalization_version"`
	HashScopeVersion     string `json:"hash_scope_version"`
}

// DocumentManifest keeps the manifest fields that do not identify the run.
type DocumentManifest struct {
	ScenarioFamily  string `json:"scenario_family"`
	ScenarioID      string `json:"scenario_id,omitempty"`
	RulesetRef      string `json:"ruleset_ref,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// DocumentEvent is one trace event with identity and timestamps removed.
type DocumentEvent struct {
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// DocumentVerdict is the adjudicated outcome.
type DocumentVerdict struct {
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Admission  string `json:"admission"`
}

// Normalize builds the Entry of a pack. res may be nil when the pack has
// not been adjudicated.
func Normalize(b *bundle.Bundle, res *ruleset.Result, c *Criteria) (Entry, error) {
	doc := Project(b, res, c)
	hash, err := canonicalize.CanonicalHash(doc)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RunID:           b.RunID,
		Substrate:       substrateOf(b),
		ScenarioFamily:  doc.Manifest.ScenarioFamily,
		NormalizedHash:  hash,
		VerdictStatus:   doc.Verdict.Status,
		AdmissionStatus: doc.Verdict.Admission,
	}, nil
}

// Project returns the normalized document of a pack.
func Project(b *bundle.Bundle, res *ruleset.Result, c *Criteria) Document {
	if c == nil {
		c = DefaultCriteria()
	}
	doc := Document{
		Meta: DocumentMeta{NormalizationVersion: NormalizationVersion, HashScopeVersion: HashScopeVersion},
		Verdict: DocumentVerdict{
			Status:    unknown,
			Admission: unknown,
		},
	}

	var scenarioID string
	if m := b.Manifest; m != nil {
		scenarioID = m.ScenarioID()
		doc.Manifest.ScenarioID = scenarioID
		doc.Manifest.RulesetRef = m.RulesetRef()
		doc.Manifest.ProtocolVersion = m.ProtocolVersion()
		doc.Manifest.ScenarioFamily = m.ScenarioFamily()
	}
	if doc.Manifest.ScenarioFamily == "" {
		doc.Manifest.ScenarioFamily = ScenarioFamily(scenarioID, b.RunID)
	}

	doc.Timeline = normalizeTimeline(b.Trace, set(c.VolatileFields), set(c.FoldFields))

	if res != nil {
		doc.Verdict.Status = string(res.ToplineVerdict)
		doc.Verdict.ReasonCode = res.ReasonCode
	}
	if b.VerifyReport != nil && b.VerifyReport.AdmissionStatus != "" {
		doc.Verdict.Admission = b.VerifyReport.AdmissionStatus
	}
	return doc
}

var (
	scenarioFamilyRe = regexp.MustCompile(`(?i)^(d[1-4])-([a-z]+)`)
	runFamilyRe      = regexp.MustCompile(`(?i)v0\d+-(d[1-4])-[a-z]+-(?:pass|fail)-([a-z]+)`)
	runDomainRe      = regexp.MustCompile(`(?i)d([1-4])`)
)

// ScenarioFamily derives a family such as "d1-budget" from a scenario id,
// falling back to run id patterns like "v05-d1-langgraph-pass-budget-allow".
func ScenarioFamily(scenarioID, runID string) string {
	if scenarioID != "" && scenarioID != unknown {
		if m := scenarioFamilyRe.FindStringSubmatch(scenarioID); m != nil {
			return strings.ToLower(m[1] + "-" + m[2])
		}
	}
	if m := runFamilyRe.FindStringSubmatch(runID); m != nil {
		return strings.ToLower(m[1] + "-" + m[2])
	}
	if m := runDomainRe.FindStringSubmatch(runID); m != nil {
		return "d" + m[1]
	}
	return unknown
}

func substrateOf(b *bundle.Bundle) string {
	if b.Manifest != nil {
		if s := b.Manifest.Substrate(); s != "" {
			return s
		}
	}
	if parts := strings.Split(b.RunID, "-"); len(parts) >= 3 {
		return parts[2]
	}
	return unknown
}

type keyedEvent struct {
	seq int64
	id  string
	ev  DocumentEvent
}

// normalizeTimeline sorts events by sequence then event id, and then drops
// both along with the other volatile keys.
func normalizeTimeline(trace []bundle.Event, volatile, fold map[string]struct{}) []DocumentEvent {
	keyed := make([]keyedEvent, 0, len(trace))
	for _, e := range trace {
		payload := map[string]any{}
		for k, v := range e.Fields {
			if _, skip := volatile[k]; skip {
				continue
			}
			if k == "event_type" || k == "type" || k == "actor" || k == "agent" {
				continue
			}
			if _, skip := fold[k]; skip {
				continue
			}
			if nv := normalizeValue(v, fold); nv != nil {
				payload[k] = nv
			}
		}
		if len(payload) == 0 {
			payload = nil
		}
		keyed = append(keyed, keyedEvent{
			seq: e.Sequence(),
			id:  e.ID(),
			ev: DocumentEvent{
				EventType: firstString(e.Fields, "event_type", "type"),
				Actor:     orUnknown(firstString(e.Fields, "actor", "agent")),
				Payload:   payload,
			},
		})
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		if keyed[i].seq != keyed[j].seq {
			return keyed[i].seq < keyed[j].seq
		}
		return keyed[i].id < keyed[j].id
	})
	out := make([]DocumentEvent, len(keyed))
	for i, k := range keyed {
		out[i] = k.ev
	}
	return out
}

// normalizeValue rounds numbers to six decimals, right-trims every line of
// a string and drops nulls and folded keys.
func normalizeValue(v any, fold map[string]struct{}) any {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return math.Round(t*1e6) / 1e6
	case string:
		lines := strings.Split(strings.ReplaceAll(t, "\r\n", "\n"), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t\r\f\v")
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, skip := fold[k]; skip {
				continue
			}
			if nv := normalizeValue(val, fold); nv != nil {
				out[k] = nv
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			out = append(out, normalizeValue(val, fold))
		}
		return out
	default:
		return v
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
