package pointer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// Resolution notes attached to pointers that do not resolve.
const (
	NoteEventNotFound    = "EVENT_NOT_FOUND"
	NoteLineOutOfRange   = "LINE_OUT_OF_RANGE"
	NoteSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	NoteJSONPtrNotFound  = "JSONPTR_NOT_FOUND"
	NoteCanonPtrNotFound = "CANONPTR_NOT_FOUND"
	NoteUnsupported      = "UNSUPPORTED_LOCATOR"
	NoteArtifactMissing  = "ARTIFACT_MISSING"
	NoteArtifactInvalid  = "ARTIFACT_INVALID"
	NotePathEscapes      = "ARTIFACT_PATH_ESCAPES_PACK"
	NoteNotTrace         = "LOCATOR_REQUIRES_TRACE"
)

// ErrNotFound is wrapped by every resolution failure.
var ErrNotFound = errors.New("evidence pointer not found")

// NotFoundError carries the typed note explaining a failed resolution.
type NotFoundError struct {
	Pointer bundle.EvidencePointer
	Note    string
	Detail  string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Pointer, e.Note)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pointer, e.Note, e.Detail)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NoteOf extracts the resolution note from an error, if any.
func NoteOf(err error) string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Note
	}
	return ""
}

// ContextLine is one line of surrounding context around a resolved span.
type ContextLine struct {
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Highlight bool   `json:"highlight,omitempty"`
}

// Span is the content a pointer addresses plus its surroundings.
type Span struct {
	Pointer  bundle.EvidencePointer `json:"pointer"`
	Kind     Kind                   `json:"kind"`
	Artifact string                 `json:"artifact"`
	Content  any                    `json:"content"`
	Context  []ContextLine          `json:"context,omitempty"`
	// Total is the number of lines (line ranges) or events (event
	// locators) in the artifact.
	Total int `json:"total,omitempty"`
}

// Resolver resolves pointers against the files of a pack on disk.
type Resolver struct {
	// ContextLines is the number of lines shown before and after a line range.
	ContextLines int
	// EventWindow is the number of events shown before and after an event.
	EventWindow int
}

// NewResolver returns a Resolver with the default context sizes.
func NewResolver() *Resolver {
	return &Resolver{ContextLines: 3, EventWindow: 2}
}

const defaultTracePath = "timeline/events.ndjson"

// Resolve returns the span p addresses under packRoot or an error wrapping
// ErrNotFound. Artifact paths may not leave packRoot.
func (r *Resolver) Resolve(packRoot string, p bundle.EvidencePointer) (*Span, error) {
	loc := Parse(p.Locator)
	if _, ok := loc.(Unknown); ok {
		return nil, notFound(p, NoteUnsupported, "")
	}

	if s, ok := loc.(Snapshot); ok {
		return r.resolveSnapshotFile(packRoot, p, s)
	}

	artifact := p.ArtifactPath
	if artifact == "" && isEventLocator(loc) {
		artifact = defaultTracePath
	}
	path, err := confine(packRoot, artifact)
	if err != nil {
		return nil, notFound(p, NotePathEscapes, err.Error())
	}
	data, err := readLimited(path)
	if err != nil {
		return nil, notFound(p, readNote(err, NoteArtifactMissing), artifact)
	}

	span := &Span{Pointer: p, Kind: loc.Kind(), Artifact: filepath.ToSlash(artifact)}
	switch l := loc.(type) {
	case LineRange:
		lines := splitLines(string(data))
		if l.Start < 1 || l.End < l.Start || l.End > len(lines) {
			return nil, notFound(p, NoteLineOutOfRange, fmt.Sprintf("%s of %d lines", l, len(lines)))
		}
		span.Content = strings.Join(lines[l.Start-1:l.End], "\n")
		span.Total = len(lines)
		lo, hi := max(1, l.Start-r.ContextLines), min(len(lines), l.End+r.ContextLines)
		for n := lo; n <= hi; n++ {
			span.Context = append(span.Context, ContextLine{
				Number:    n,
				Text:      lines[n-1],
				Highlight: n >= l.Start && n <= l.End,
			})
		}
	case JSONPointer:
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, notFound(p, NoteArtifactInvalid, err.Error())
		}
		v, err := EvalJSONPointer(doc, l.Path)
		if err != nil {
			return nil, notFound(p, NoteJSONPtrNotFound, err.Error())
		}
		span.Content = v
	default:
		events, _ := bundle.ParseTrace(data)
		ev, note, ok := FindEvent(events, loc)
		if !ok {
			return nil, notFound(p, note, "")
		}
		span.Content = ev.Fields
		span.Total = len(events)
		for i, e := range events {
			if e.Index < ev.Index-r.EventWindow || e.Index > ev.Index+r.EventWindow {
				continue
			}
			span.Context = append(span.Context, ContextLine{
				Number:    events[i].Index,
				Text:      string(e.Raw),
				Highlight: e.Index == ev.Index,
			})
		}
	}
	return span, nil
}

func (r *Resolver) resolveSnapshotFile(packRoot string, p bundle.EvidencePointer, s Snapshot) (*Span, error) {
	artifact := "snapshots/" + s.ID + ".json"
	path, err := confine(packRoot, artifact)
	if err != nil {
		return nil, notFound(p, NotePathEscapes, err.Error())
	}
	data, err := readLimited(path)
	if err != nil {
		return nil, notFound(p, readNote(err, NoteSnapshotNotFound), s.ID)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, notFound(p, NoteArtifactInvalid, err.Error())
	}
	return &Span{Pointer: p, Kind: KindSnapshot, Artifact: artifact, Content: doc}, nil
}

// FindEvent locates the event an event-addressing locator names. The
// returned note explains a miss.
func FindEvent(events []bundle.Event, loc Locator) (bundle.Event, string, bool) {
	switch l := loc.(type) {
	case EventIndex:
		for _, e := range events {
			if e.Index == l.N {
				return e, "", true
			}
		}
		return bundle.Event{}, NoteEventNotFound, false
	case EventLine:
		for _, e := range events {
			if e.Index == l.N-1 {
				return e, "", true
			}
		}
		return bundle.Event{}, NoteLineOutOfRange, false
	case EventID:
		for _, e := range events {
			if e.ID() == l.ID {
				return e, "", true
			}
		}
		return bundle.Event{}, NoteEventNotFound, false
	case CanonPtr:
		if e, ok := ResolveCanonPtr(events, l); ok {
			return e, "", true
		}
		return bundle.Event{}, NoteCanonPtrNotFound, false
	}
	return bundle.Event{}, NoteUnsupported, false
}

func isEventLocator(loc Locator) bool {
	switch loc.(type) {
	case EventIndex, EventLine, EventID, CanonPtr:
		return true
	}
	return false
}

// Resolution classifies what an in-bundle reference resolved to.
type Resolution string

const (
	ResolvedEvent    Resolution = "event"
	ResolvedSnapshot Resolution = "snapshot"
	ResolvedValue    Resolution = "value"
	ResolvedLines    Resolution = "lines"
	ResolvedNone     Resolution = "none"
)

// Ref is the in-memory resolution of a pointer against a loaded bundle.
type Ref struct {
	Pointer  bundle.EvidencePointer
	Resolved Resolution
	// Event is set when the pointer addresses a trace event.
	Event   *bundle.Event
	Fields  semantics.Fields
	Content any
	Notes   []string
}

// OK reports whether the pointer resolved.
func (r Ref) OK() bool { return r.Resolved != ResolvedNone }

// ResolveInBundle resolves p against the already-loaded bundle. Event
// locators address the bundle trace and only resolve when p names no
// artifact or names the trace; other locators read the named artifact under
// the pack root.
func ResolveInBundle(b *bundle.Bundle, p bundle.EvidencePointer) Ref {
	ref := Ref{Pointer: p, Resolved: ResolvedNone}
	loc := Parse(p.Locator)

	switch l := loc.(type) {
	case EventIndex, EventLine, EventID, CanonPtr:
		if !namesTrace(b, p.ArtifactPath) {
			ref.Notes = []string{NoteNotTrace}
			return ref
		}
		ev, note, ok := FindEvent(b.Trace, loc)
		if !ok {
			ref.Notes = []string{note}
			return ref
		}
		ref.Resolved = ResolvedEvent
		ref.Event = &ev
		ref.Fields = semantics.Extract(ev.Fields)
		ref.Content = ev.Fields
	case Snapshot:
		raw, ok := b.Snapshots[l.ID]
		if !ok {
			ref.Notes = []string{NoteSnapshotNotFound}
			return ref
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			ref.Notes = []string{NoteArtifactInvalid}
			return ref
		}
		ref.Resolved = ResolvedSnapshot
		ref.Fields = semantics.Extract(doc)
		ref.Content = doc
	case LineRange:
		ev, lines, note := resolveLinesInBundle(b, p.ArtifactPath, l)
		if note != "" {
			ref.Notes = []string{note}
			return ref
		}
		ref.Resolved = ResolvedLines
		ref.Content = lines
		if ev != nil {
			ref.Event = ev
			ref.Fields = semantics.Extract(ev.Fields)
		}
	case JSONPointer:
		doc, note := artifactDocument(b, p.ArtifactPath)
		if note != "" {
			ref.Notes = []string{note}
			return ref
		}
		v, err := EvalJSONPointer(doc, l.Path)
		if err != nil {
			ref.Notes = []string{NoteJSONPtrNotFound}
			return ref
		}
		ref.Resolved = ResolvedValue
		ref.Content = v
		if m, ok := v.(map[string]any); ok {
			ref.Fields = semantics.Extract(m)
		}
	default:
		ref.Notes = []string{NoteUnsupported}
	}
	return ref
}

// namesTrace reports whether artifact is empty or one of the trace paths,
// including the one the bundle was loaded from.
func namesTrace(b *bundle.Bundle, artifact string) bool {
	artifact = strings.TrimPrefix(artifact, "./")
	if artifact == "" || bundle.IsTracePath(artifact) {
		return true
	}
	name, ok := b.ArtifactName(bundle.ArtifactTrace)
	return ok && name == artifact
}

// resolveLinesInBundle returns the addressed lines and, for the trace, the
// first event whose physical line falls within the range.
func resolveLinesInBundle(b *bundle.Bundle, artifact string, l LineRange) (*bundle.Event, string, string) {
	data, isTrace, note := artifactBytes(b, artifact)
	if note != "" {
		return nil, "", note
	}
	lines := splitLines(string(data))
	if l.Start < 1 || l.End < l.Start || l.End > len(lines) {
		return nil, "", NoteLineOutOfRange
	}
	text := strings.Join(lines[l.Start-1:l.End], "\n")
	if isTrace {
		for i := range b.Trace {
			if ln := b.Trace[i].Line; ln >= l.Start && ln <= l.End {
				ev := b.Trace[i]
				return &ev, text, ""
			}
		}
	}
	return nil, text, ""
}

func artifactDocument(b *bundle.Bundle, artifact string) (any, string) {
	data, isTrace, note := artifactBytes(b, artifact)
	if note != "" {
		return nil, note
	}
	if isTrace {
		return nil, NoteUnsupported
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NoteArtifactInvalid
	}
	return doc, ""
}

// artifactBytes prefers bytes captured at load time and falls back to the
// pack on disk.
func artifactBytes(b *bundle.Bundle, artifact string) ([]byte, bool, string) {
	for _, a := range []bundle.Artifact{
		bundle.ArtifactTrace, bundle.ArtifactVerifyReport, bundle.ArtifactEvaluationReport,
		bundle.ArtifactManifest, bundle.ArtifactPointers, bundle.ArtifactChecksums,
	} {
		data, name, ok := b.RawBytes(a)
		if ok && (name == artifact || (artifact == "" && a == bundle.ArtifactTrace)) {
			return data, a == bundle.ArtifactTrace, ""
		}
	}
	if artifact == "" {
		return nil, false, NoteArtifactMissing
	}
	path, err := confine(b.PackRoot, artifact)
	if err != nil {
		return nil, false, NotePathEscapes
	}
	data, err := readLimited(path)
	if err != nil {
		return nil, false, readNote(err, NoteArtifactMissing)
	}
	return data, false, ""
}

func notFound(p bundle.EvidencePointer, note, detail string) error {
	return &NotFoundError{Pointer: p, Note: note, Detail: detail}
}

// confine joins rel onto root and rejects results outside root.
func confine(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty artifact path")
	}
	if filepath.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", fmt.Errorf("artifact path %q must be pack-relative", rel)
	}
	joined := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the pack", rel)
	}
	return joined, nil
}

// maxResolveBytes caps any artifact read while resolving; the loader
// applies the same limit.
var maxResolveBytes int64 = 50 * 1024 * 1024

var errArtifactTooLarge = errors.New("artifact too large")

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // confined to the pack root
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxResolveBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxResolveBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", errArtifactTooLarge, maxResolveBytes)
	}
	return data, nil
}

// readNote maps a read failure to its resolution note. Oversized artifacts
// are invalid rather than missing.
func readNote(err error, missing string) string {
	if errors.Is(err, errArtifactTooLarge) {
		return NoteArtifactInvalid
	}
	return missing
}

// splitLines splits on '\n', dropping '\r' and the empty tail after a final
// newline.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}
