package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/canonicalize"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

// ErrNilResult is returned when hashing a nil result.
var ErrNilResult = errors.New("verdict: nil result")

// runPlaceholder replaces the run id inside portable pointers.
const runPlaceholder = "{run}"

// Hashes is the pair of verdict hashes of one result.
type Hashes struct {
	VerdictHash   string `json:"verdict_hash"`
	PortableHash  string `json:"portable_hash"`
	VerdictScope  string `json:"verdict_scope"`
	PortableScope string `json:"portable_scope"`
}

// Compute hashes r under FullV1 and PortableV1.
func Compute(r *ruleset.Result) (Hashes, error) {
	full, err := Hash(r, FullV1)
	if err != nil {
		return Hashes{}, err
	}
	portable, err := Hash(r, PortableV1)
	if err != nil {
		return Hashes{}, err
	}
	return Hashes{
		VerdictHash:   full,
		PortableHash:  portable,
		VerdictScope:  FullV1.ID(),
		PortableScope: PortableV1.ID(),
	}, nil
}

// Hash returns the lowercase hex SHA-256 of the JCS encoding of r projected
// onto scope, with "_scope" set to the scope id.
func Hash(r *ruleset.Result, scope Scope) (string, error) {
	doc, err := Project(r, scope)
	if err != nil {
		return "", err
	}
	h, err := canonicalize.CanonicalHash(doc)
	if err != nil {
		return "", fmt.Errorf("verdict: hash under %s: %w", scope.ID(), err)
	}
	return h, nil
}

// Project returns the document that Hash canonicalizes.
func Project(r *ruleset.Result, scope Scope) (map[string]any, error) {
	if r == nil {
		return nil, ErrNilResult
	}
	if scope.name == "" {
		return nil, fmt.Errorf("%w: zero scope", ErrUnknownScope)
	}
	if scope.portable {
		r = portableCopy(r)
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("verdict: marshal result: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("verdict: decode result: %w", err)
	}

	out, _ := project(generic, scope.tree()).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	for path, key := range scope.sortBy {
		sortAt(out, strings.Split(path, "."), key)
	}
	out["_scope"] = scope.ID()
	return out, nil
}

func project(v any, n *node) any {
	if len(n.children) == 0 {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n.children))
		for key, child := range n.children {
			val, ok := t[key]
			if !ok {
				continue
			}
			if child.array {
				arr, ok := val.([]any)
				if !ok {
					continue
				}
				items := make([]any, 0, len(arr))
				for _, item := range arr {
					items = append(items, project(item, child))
				}
				out[key] = items
				continue
			}
			out[key] = project(val, child)
		}
		return out
	default:
		return nil
	}
}

// sortAt orders the array of objects reached by path by the string value of
// key. Ties keep their relative order.
func sortAt(v any, path []string, key string) {
	if len(path) == 0 {
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	seg, isArray := strings.CutSuffix(path[0], "[]")
	val, ok := m[seg]
	if !ok {
		return
	}
	arr, ok := val.([]any)
	if !ok {
		return
	}
	if len(path) == 1 {
		sort.SliceStable(arr, func(i, j int) bool {
			return sortKey(arr[i], key) < sortKey(arr[j], key)
		})
		return
	}
	if isArray {
		for _, item := range arr {
			sortAt(item, path[1:], key)
		}
	}
}

func sortKey(v any, key string) string {
	m, _ := v.(map[string]any)
	s, _ := m[key].(string)
	return s
}

// portableCopy returns a copy of r whose pointers carry no run identity.
func portableCopy(r *ruleset.Result) *ruleset.Result {
	cp := *r
	cp.Clauses = make([]ruleset.ClauseResult, len(r.Clauses))
	for i, c := range r.Clauses {
		refs := make([]ruleset.EvidenceRef, len(c.EvidenceRefs))
		for j, ref := range c.EvidenceRefs {
			ref.Pointer = PortablePointer(ref, r.RunID)
			refs[j] = ref
		}
		c.EvidenceRefs = refs
		cp.Clauses[i] = c
	}
	return &cp
}

// PortablePointer returns the run-independent form of an evidence pointer:
// its canonical pointer when one is known, the canonical locator when the
// pointer already uses one, and otherwise the artifact-relative pointer with
// every path segment named after the run id (exactly, or as the stem before
// an extension) replaced by a placeholder.
func PortablePointer(ref ruleset.EvidenceRef, runID string) string {
	if ref.CanonPtr != "" {
		return ref.CanonPtr
	}
	p := ref.Pointer
	loc := p
	if i := strings.LastIndex(p, "#"); i >= 0 {
		loc = p[i+1:]
	}
	if pointer.IsCanonical(loc) {
		return loc
	}
	p = strings.TrimPrefix(p, "./")
	if runID == "" {
		return p
	}
	path, frag, hasFrag := strings.Cut(p, "#")
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		switch {
		case seg == runID:
			segs[i] = runPlaceholder
		case strings.HasPrefix(seg, runID+"."):
			segs[i] = runPlaceholder + seg[len(runID):]
		}
	}
	path = strings.Join(segs, "/")
	if hasFrag {
		return path + "#" + frag
	}
	return path
}
