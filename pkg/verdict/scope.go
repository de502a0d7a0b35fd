// Package verdict computes the content hashes that identify an adjudication
// result. A hash is always taken under a named, versioned Scope that lists
// exactly which result fields participate; everything else (timestamps,
// notes, resolved content) is outside the hash.
package verdict

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownScope is returned by Lookup for an unregistered scope id.
var ErrUnknownScope = errors.New("unknown hash scope")

// Scope is an immutable allow-list of result fields.
//
// Field paths are dot-separated JSON keys; a "[]" suffix descends into every
// element of an array, e.g. "clauses[].evidence_refs[].pointer".
type Scope struct {
	name     string
	version  string
	fields   []string
	sortBy   map[string]string
	portable bool
}

func newScope(name, version string, portable bool, sortBy map[string]string, fields ...string) Scope {
	fs := append([]string(nil), fields...)
	sort.Strings(fs)
	return Scope{name: name, version: version, fields: fs, sortBy: sortBy, portable: portable}
}

// Name returns the scope name, e.g. "verdict-full".
func (s Scope) Name() string { return s.name }

// Version returns the semantic version of the allow-list.
func (s Scope) Version() string { return s.version }

// ID returns "<name>@<version>", the value embedded as "_scope".
func (s Scope) ID() string { return s.name + "@" + s.version }

// Fields returns a copy of the allow-listed paths, sorted.
func (s Scope) Fields() []string { return append([]string(nil), s.fields...) }

// Portable reports whether pointers are projected to their run-independent
// form before hashing.
func (s Scope) Portable() bool { return s.portable }

var resultSortKeys = map[string]string{
	"clauses":                 "clause_id",
	"domain_meta":             "domain_id",
	"clauses[].evidence_refs": "pointer",
}

// FullV1 binds a verdict to its run.
var FullV1 = newScope("verdict-full", "1.0.0", false, resultSortKeys,
	"ruleset_id",
	"run_id",
	"topline_verdict",
	"reason_code",
	"clauses[].clause_id",
	"clauses[].requirement_id",
	"clauses[].status",
	"clauses[].reason_code",
	"clauses[].domain_id",
	"clauses[].evidence_refs[].pointer",
	"domain_meta[].domain_id",
	"domain_meta[].status",
)

// PortableV1 is FullV1 without run identity. Two runs that reach the same
// verdict over the same decisions share a portable hash.
var PortableV1 = newScope("verdict-portable", "1.0.0", true, resultSortKeys,
	"ruleset_id",
	"topline_verdict",
	"reason_code",
	"clauses[].clause_id",
	"clauses[].requirement_id",
	"clauses[].status",
	"clauses[].reason_code",
	"clauses[].domain_id",
	"clauses[].evidence_refs[].pointer",
	"domain_meta[].domain_id",
	"domain_meta[].status",
)

var scopes = map[string]Scope{
	FullV1.ID():     FullV1,
	PortableV1.ID(): PortableV1,
}

// Lookup returns the scope registered under "<name>@<version>".
func Lookup(id string) (Scope, error) {
	s, ok := scopes[strings.TrimSpace(id)]
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrUnknownScope, id)
	}
	return s, nil
}

// Scopes returns every shipped scope id, sorted.
func Scopes() []string {
	out := make([]string, 0, len(scopes))
	for id := range scopes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// node is the allow-list compiled into a tree.
type node struct {
	children map[string]*node
	array    bool
}

func (s Scope) tree() *node {
	root := &node{children: map[string]*node{}}
	for _, path := range s.fields {
		cur := root
		for _, seg := range strings.Split(path, ".") {
			key, isArray := strings.CutSuffix(seg, "[]")
			next, ok := cur.children[key]
			if !ok {
				next = &node{children: map[string]*node{}}
				cur.children[key] = next
			}
			next.array = next.array || isArray
			cur = next
		}
	}
	return root
}
