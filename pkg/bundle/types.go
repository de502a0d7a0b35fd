// Package bundle loads evidence packs from disk into immutable, in-memory
// Bundles that the resolver, the adjudicators and the proof builder read.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Artifact names one file class inside an evidence pack.
type Artifact string

const (
	ArtifactManifest         Artifact = "manifest"
	ArtifactLegacyManifest   Artifact = "legacy_manifest"
	ArtifactVerifyReport     Artifact = "verify_report"
	ArtifactEvaluationReport Artifact = "evaluation_report"
	ArtifactPointers         Artifact = "evidence_pointers"
	ArtifactChecksums        Artifact = "checksums"
	ArtifactTrace            Artifact = "trace"
	ArtifactSnapshots        Artifact = "snapshots"
)

// LoadStatus records how an artifact fared during loading.
type LoadStatus string

const (
	StatusOK      LoadStatus = "ok"
	StatusMissing LoadStatus = "missing"
	StatusInvalid LoadStatus = "invalid"
)

// LoadError describes a non-fatal problem with an optional artifact.
type LoadError struct {
	Artifact Artifact `json:"artifact"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
}

// PointerStatus is the producer-declared state of an evidence pointer.
type PointerStatus string

const (
	PointerPresent      PointerStatus = "PRESENT"
	PointerMissing      PointerStatus = "MISSING"
	PointerAbsent       PointerStatus = "ABSENT"
	PointerNotEvaluated PointerStatus = "NOT_EVALUATED"
)

// EvidencePointer links a requirement to a location inside a pack artifact.
type EvidencePointer struct {
	RequirementID string        `json:"requirement_id"`
	ArtifactPath  string        `json:"artifact_path"`
	Locator       string        `json:"locator"`
	Status        PointerStatus `json:"status,omitempty"`
}

// String renders the pointer as "<artifact>#<locator>", the form hashed
// into verdicts.
func (p EvidencePointer) String() string {
	if p.ArtifactPath == "" {
		return p.Locator
	}
	return p.ArtifactPath + "#" + p.Locator
}

// Event is one decoded line of the NDJSON trace.
type Event struct {
	// Index is the 0-based position among non-blank trace lines.
	Index int
	// Line is the 1-based physical line number in the trace file.
	Line   int
	Raw    json.RawMessage
	Fields map[string]any
}

// ID returns the event_id field, if any.
func (e Event) ID() string {
	s, _ := e.Fields["event_id"].(string)
	return s
}

// Type returns the event_type field, if any.
func (e Event) Type() string {
	s, _ := e.Fields["event_type"].(string)
	return s
}

// Sequence returns the producer-assigned sequence number, falling back to
// the trace index when absent.
func (e Event) Sequence() int64 {
	switch v := e.Fields["sequence"].(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return int64(e.Index)
}

// CheckResult is one entry of a verify report.
type CheckResult struct {
	CheckID  string `json:"check_id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Taxonomy string `json:"taxonomy,omitempty"`
}

// BlockingFailure is a check failure that prevents admission.
type BlockingFailure struct {
	CheckID  string `json:"check_id"`
	Taxonomy string `json:"taxonomy,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Admission statuses reported by pack verification.
const (
	Admissible          = "ADMISSIBLE"
	NotAdmissible       = "NOT_ADMISSIBLE"
	PartiallyAdmissible = "PARTIALLY_ADMISSIBLE"
)

// VerifyReport is the admission report produced when a pack is verified.
type VerifyReport struct {
	ReportVersion    string            `json:"report_version,omitempty"`
	PackID           string            `json:"pack_id,omitempty"`
	AdmissionStatus  string            `json:"admission_status"`
	Checks           []CheckResult     `json:"checks,omitempty"`
	BlockingFailures []BlockingFailure `json:"blocking_failures,omitempty"`
	RulesetVersion   string            `json:"ruleset_version,omitempty"`
	ProtocolVersion  string            `json:"protocol_version,omitempty"`
	VerifierVersion  string            `json:"verifier_version,omitempty"`
}

// Admissible reports whether the pack passed admission.
func (r *VerifyReport) Admissible() bool {
	return r != nil && r.AdmissionStatus == Admissible
}

// RequirementVerdict is a per-requirement outcome inside a golden flow.
type RequirementVerdict struct {
	RequirementID string            `json:"requirement_id"`
	Status        string            `json:"status"`
	Pointers      []EvidencePointer `json:"pointers,omitempty"`
	Message       string            `json:"message,omitempty"`
	Taxonomy      string            `json:"taxonomy,omitempty"`
}

// GFVerdict is a golden-flow verdict from a producer evaluation report.
type GFVerdict struct {
	GFID         string               `json:"gf_id"`
	Status       string               `json:"status"`
	Requirements []RequirementVerdict `json:"requirements,omitempty"`
}

// EvaluationReport is the producer's own evaluation of the pack.
type EvaluationReport struct {
	ReportVersion   string      `json:"report_version,omitempty"`
	RulesetVersion  string      `json:"ruleset_version,omitempty"`
	PackID          string      `json:"pack_id,omitempty"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	GFVerdicts      []GFVerdict `json:"gf_verdicts,omitempty"`
	VerdictHash     string      `json:"verdict_hash,omitempty"`
}

// ChecksumEntry is one "<sha256>  <path>" line.
type ChecksumEntry struct {
	SHA256 string `json:"sha256"`
	Path   string `json:"path"`
}

// Checksums is the parsed integrity listing of a pack.
type Checksums struct {
	Entries []ChecksumEntry
	// File is the pack-relative path the listing was read from.
	File string
}

// Lookup returns the declared digest for a pack-relative path.
func (c *Checksums) Lookup(path string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, e := range c.Entries {
		if e.Path == path {
			return e.SHA256, true
		}
	}
	return "", false
}

// Bundle is an immutable in-memory evidence pack.
type Bundle struct {
	RunID string
	// Dir is the run directory; PackRoot is where artifact paths resolve.
	Dir      string
	PackRoot string

	Manifest Manifest
	// Legacy is the plain map manifest when a structured one took precedence.
	Legacy *ManifestV1

	VerifyReport     *VerifyReport
	EvaluationReport *EvaluationReport
	Checksums        *Checksums
	Pointers         []EvidencePointer
	Trace            []Event
	Snapshots        map[string]json.RawMessage

	Status     map[Artifact]LoadStatus
	LoadErrors []LoadError

	raw map[Artifact]rawFile
}

type rawFile struct {
	path string
	data []byte
}

// StatusOf returns the load status of an artifact; unknown artifacts are missing.
func (b *Bundle) StatusOf(a Artifact) LoadStatus {
	if s, ok := b.Status[a]; ok {
		return s
	}
	return StatusMissing
}

// RawBytes returns a copy of the bytes an artifact was decoded from and the
// pack-relative path it was read from.
func (b *Bundle) RawBytes(a Artifact) ([]byte, string, bool) {
	f, ok := b.raw[a]
	if !ok {
		return nil, "", false
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, f.path, true
}

// ArtifactName returns the pack-relative path artifact a was loaded from.
func (b *Bundle) ArtifactName(a Artifact) (string, bool) {
	f, ok := b.raw[a]
	return f.path, ok
}

// PointersFor returns the pointers declared for a requirement, in file order.
func (b *Bundle) PointersFor(requirementID string) []EvidencePointer {
	var out []EvidencePointer
	for _, p := range b.Pointers {
		if p.RequirementID == requirementID {
			out = append(out, p)
		}
	}
	return out
}

// EventByID returns the first trace event carrying the given event_id.
func (b *Bundle) EventByID(id string) (Event, bool) {
	for _, e := range b.Trace {
		if e.ID() == id {
			return e, true
		}
	}
	return Event{}, false
}

// Fingerprint digests every artifact the bundle was decoded from, so any
// change to the pack on disk changes it.
func (b *Bundle) Fingerprint() string {
	names := make([]string, 0, len(b.raw))
	for a := range b.raw {
		names = append(names, string(a))
	}
	sort.Strings(names)

	h := sha256.New()
	for _, n := range names {
		f := b.raw[Artifact(n)]
		sum := sha256.Sum256(f.data)
		h.Write([]byte(n + "\x00" + f.path + "\x00" + hex.EncodeToString(sum[:]) + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
