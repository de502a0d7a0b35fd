// Package pointer parses evidence locators and resolves evidence pointers
// to the exact content they address, either inside a loaded bundle or
// against the files of a pack on disk.
package pointer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// Kind enumerates the locator variants.
type Kind string

const (
	KindLineRange   Kind = "line_range"
	KindJSONPointer Kind = "json_pointer"
	KindEventIndex  Kind = "event_index"
	KindEventID     Kind = "event_id"
	KindEventLine   Kind = "event_line"
	KindSnapshot    Kind = "snapshot"
	KindCanonPtr    Kind = "canonptr"
	KindUnknown     Kind = "unknown"
)

// Locator is a parsed locator string. The set of implementations is closed.
type Locator interface {
	Kind() Kind
	String() string
	locator()
}

// LineRange addresses 1-based inclusive physical lines: "L5" or "L5-L9".
type LineRange struct{ Start, End int }

// JSONPointer addresses a value via RFC 6901: "/a/0/b" or "jsonptr:/a".
type JSONPointer struct{ Path string }

// EventIndex addresses the n-th (0-based) non-blank NDJSON line: "event:3".
type EventIndex struct{ N int }

// EventID addresses the first event with a matching event_id: "event_id:e-7".
type EventID struct{ ID string }

// EventLine addresses the n-th (1-based) event: "line:4".
type EventLine struct{ N int }

// Snapshot addresses a state snapshot by id: "snapshot:s1".
type Snapshot struct{ ID string }

// Unknown is any locator no other variant accepts.
type Unknown struct{ Raw string }

func (LineRange) Kind() Kind   { return KindLineRange }
func (JSONPointer) Kind() Kind { return KindJSONPointer }
func (EventIndex) Kind() Kind  { return KindEventIndex }
func (EventID) Kind() Kind     { return KindEventID }
func (EventLine) Kind() Kind   { return KindEventLine }
func (Snapshot) Kind() Kind    { return KindSnapshot }
func (CanonPtr) Kind() Kind    { return KindCanonPtr }
func (Unknown) Kind() Kind     { return KindUnknown }

func (LineRange) locator()   {}
func (JSONPointer) locator() {}
func (EventIndex) locator()  {}
func (EventID) locator()     {}
func (EventLine) locator()   {}
func (Snapshot) locator()    {}
func (CanonPtr) locator()    {}
func (Unknown) locator()     {}

func (l LineRange) String() string {
	if l.End == l.Start {
		return fmt.Sprintf("L%d", l.Start)
	}
	return fmt.Sprintf("L%d-L%d", l.Start, l.End)
}
func (j JSONPointer) String() string { return j.Path }
func (e EventIndex) String() string  { return "event:" + strconv.Itoa(e.N) }
func (e EventID) String() string     { return "event_id:" + e.ID }
func (e EventLine) String() string   { return "line:" + strconv.Itoa(e.N) }
func (s Snapshot) String() string    { return "snapshot:" + s.ID }
func (u Unknown) String() string     { return u.Raw }

var (
	lineRangeRe  = regexp.MustCompile(`(?i)^L(\d+)(?:-L(\d+))?$`)
	eventIndexRe = regexp.MustCompile(`^event:(\d+)$`)
	eventIDRe    = regexp.MustCompile(`^event_id:(.+)$`)
	eventLineRe  = regexp.MustCompile(`^line:(\d+)$`)
	snapshotRe   = regexp.MustCompile(`^snapshot:(.+)$`)
)

// Parse classifies a locator string. It never fails; unrecognised input
// yields Unknown.
func Parse(raw string) Locator {
	s := strings.TrimSpace(raw)
	if m := lineRangeRe.FindStringSubmatch(s); m != nil {
		start, err1 := strconv.Atoi(m[1])
		end := start
		var err2 error
		if m[2] != "" {
			end, err2 = strconv.Atoi(m[2])
		}
		if err1 != nil || err2 != nil {
			return Unknown{Raw: raw}
		}
		return LineRange{Start: start, End: end}
	}
	if strings.HasPrefix(s, "jsonptr:") {
		return JSONPointer{Path: strings.TrimPrefix(s, "jsonptr:")}
	}
	if strings.HasPrefix(s, "/") {
		return JSONPointer{Path: s}
	}
	if m := eventIndexRe.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return EventIndex{N: n}
		}
		return Unknown{Raw: raw}
	}
	if m := eventIDRe.FindStringSubmatch(s); m != nil {
		return EventID{ID: m[1]}
	}
	if m := eventLineRe.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return EventLine{N: n}
		}
		return Unknown{Raw: raw}
	}
	if m := snapshotRe.FindStringSubmatch(s); m != nil {
		return Snapshot{ID: m[1]}
	}
	if c, err := ParseCanonPtr(s); err == nil {
		return c
	}
	return Unknown{Raw: raw}
}

// IsCanonical reports whether the locator is a canonical pointer, the only
// form whose identity survives across runs.
func IsCanonical(raw string) bool {
	_, ok := Parse(raw).(CanonPtr)
	return ok
}

// DomainOf returns the domain a canonical locator addresses.
func DomainOf(raw string) (semantics.Domain, bool) {
	c, ok := Parse(raw).(CanonPtr)
	if !ok {
		return "", false
	}
	return c.Domain, true
}
