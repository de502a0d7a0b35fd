// Package verifier performs offline admission checks on an evidence pack
// directory and produces a report in the verify.report.json format.
//
// The verifier reads only the filesystem. It trusts SHA-256 and the pack
// layout; it does not trust the producer's own verify report.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
)

const (
	VerifierVersion = "1.0.0"
	ReportVersion   = "1.0"
)

// Check statuses.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

// Failure taxonomy carried by blocking failures.
const (
	TaxPackTooLarge            = "PACK_TOO_LARGE"
	TaxDisallowedFileType      = "DISALLOWED_FILE_TYPE"
	TaxPathTraversal           = "PATH_TRAVERSAL_DETECTED"
	TaxRequiredArtifactMissing = "REQUIRED_ARTIFACT_MISSING"
	TaxManifestParseFailed     = "MANIFEST_PARSE_FAILED"
	TaxIntegrityHashMismatch   = "INTEGRITY_HASH_MISMATCH"
	TaxVersionBindingFailed    = "VERSION_BINDING_FAILED"
	TaxTimelineParseFailed     = "TIMELINE_PARSE_FAILED"
	TaxTimelineNotOrdered      = "TIMELINE_NOT_TOTALLY_ORDERED"
	TaxPointerUnresolved       = "POINTER_UNRESOLVED"
)

// Admission limits.
const (
	MaxFiles      = 1000
	MaxTotalBytes = 50 * 1024 * 1024
)

var allowedExtensions = map[string]bool{
	".json": true, ".ndjson": true, ".yaml": true, ".yml": true, ".txt": true, ".sha256": true,
}

var (
	sumsCandidates     = []string{"integrity/sha256sums.txt", "sha256sums.txt"}
	packSumCandidates  = []string{"integrity/pack.sha256", "pack.sha256"}
	traceCandidates    = []string{"timeline/events.ndjson", "trace/events.ndjson", "events.ndjson"}
	manifestCandidates = []string{"manifest.yaml", "manifest.yml", "bundle.manifest.json", "manifest.json"}
	canonicalDirs      = []string{"artifacts", "timeline", "integrity"}
	// Files the coverage check never expects in the checksum list.
	coverageExempt = map[string]bool{
		"integrity/sha256sums.txt": true, "sha256sums.txt": true,
		"integrity/pack.sha256": true, "pack.sha256": true,
		"verify.report.json": true, "evaluation.report.json": true,
	}
)

// CheckResult is one verification check.
type CheckResult struct {
	CheckID  string `json:"check_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Taxonomy string `json:"taxonomy,omitempty"`
}

// Hashes bind the report to the pack content.
type Hashes struct {
	PackRootHash string `json:"pack_root_hash,omitempty"`
	ManifestHash string `json:"manifest_hash,omitempty"`
}

// Report is the structured verification output.
type Report struct {
	ReportVersion    string                   `json:"report_version"`
	VerifiedAt       time.Time                `json:"verified_at"`
	PackPath         string                   `json:"pack_path"`
	PackID           string                   `json:"pack_id,omitempty"`
	AdmissionStatus  string                   `json:"admission_status"`
	Checks           []CheckResult            `json:"checks"`
	BlockingFailures []bundle.BlockingFailure `json:"blocking_failures"`
	Hashes           Hashes                   `json:"hashes"`
	RulesetVersion   string                   `json:"ruleset_version,omitempty"`
	ProtocolVersion  string                   `json:"protocol_version,omitempty"`
	Summary          string                   `json:"summary"`
	VerifierVersion  string                   `json:"verifier_version"`
}

// Admissible reports whether the pack was admitted.
func (r *Report) Admissible() bool { return r.AdmissionStatus == bundle.Admissible }

// Check returns the check with the given id.
func (r *Report) Check(id string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.CheckID == id {
			return c, true
		}
	}
	return CheckResult{}, false
}

func (r *Report) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
}

// Option configures a verification run.
type Option func(*options)

type options struct {
	strict bool
	clock  func() time.Time
	logger *slog.Logger
}

// WithStrict makes warnings block admission and disables run-id ruleset
// inference.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithClock overrides the report timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger used for the summary line.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// pack carries state shared between checks.
type pack struct {
	dir       string
	files     []fileInfo
	bundle    *bundle.Bundle
	sums      []bundle.ChecksumEntry
	sumsFound bool
}

type fileInfo struct {
	rel  string
	size int64
}

// VerifyPack runs every admission check against dir. An error is returned
// only when dir itself cannot be inspected or ctx is cancelled; pack
// defects are reported as failed checks.
func VerifyPack(ctx context.Context, dir string, opts ...Option) (*Report, error) {
	o := options{clock: time.Now, logger: slog.Default().With("component", "verifier")}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("verify %s: pack must be a directory", dir)
	}

	report := &Report{
		ReportVersion:    ReportVersion,
		VerifiedAt:       o.clock().UTC(),
		PackPath:         dir,
		Checks:           make([]CheckResult, 0, 20),
		BlockingFailures: []bundle.BlockingFailure{},
		VerifierVersion:  VerifierVersion,
	}
	p := &pack{dir: dir}

	files, escapes := inventory(ctx, dir)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.files = files
	b, manifestCheck := loadManifest(ctx, dir)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.bundle = b

	// 1. Admission security
	report.add(checkFileCount(files))
	report.add(checkTotalSize(files))
	report.add(checkExtensions(files))
	report.add(checkTraversal(escapes))

	// 2. Structure
	report.add(checkRequiredFiles(p))
	report.add(checkLayout(p))

	// 3. Manifest
	report.add(manifestCheck)
	report.add(checkManifestFields(p))
	if b != nil {
		report.PackID = b.Manifest.PackID()
		report.ProtocolVersion = b.Manifest.ProtocolVersion()
		if raw, _, ok := b.RawBytes(bundle.ArtifactManifest); ok {
			report.Hashes.ManifestHash = sha256Hex(raw)
		}
	}

	// 4. Integrity
	report.add(checkFileHashes(p))
	packSum, rootHash := checkPackHash(p)
	report.add(packSum)
	report.Hashes.PackRootHash = rootHash
	report.add(checkCoverage(p))

	// 5. Version binding
	binding := bindVersions(p, o.strict)
	report.RulesetVersion = binding.rulesetID
	report.add(binding.resolution)
	report.add(binding.protocol)
	report.add(binding.packVersion)

	// 6. Timeline
	report.add(checkTimeline(p))
	report.add(checkTimelineOrder(p))

	// 7. Evidence pointers
	report.add(checkPointers(p))

	finalize(report, o.strict)
	o.logger.DebugContext(ctx, "pack verified",
		"pack", dir,
		"admission_status", report.AdmissionStatus,
		"blocking_failures", len(report.BlockingFailures),
	)
	return report, nil
}

// finalize derives the admission status: any FAIL blocks, a WARN blocks
// only in strict mode.
func finalize(r *Report, strict bool) {
	var failed, warned int
	for _, c := range r.Checks {
		switch c.Status {
		case StatusFail:
			failed++
			r.BlockingFailures = append(r.BlockingFailures, bundle.BlockingFailure{
				CheckID: c.CheckID, Taxonomy: c.Taxonomy, Message: c.Message,
			})
		case StatusWarn:
			warned++
		}
	}
	switch {
	case failed > 0:
		r.AdmissionStatus = bundle.NotAdmissible
		r.Summary = fmt.Sprintf("NOT_ADMISSIBLE: %d/%d checks failed", failed, len(r.Checks))
	case warned > 0 && strict:
		r.AdmissionStatus = bundle.NotAdmissible
		r.Summary = fmt.Sprintf("NOT_ADMISSIBLE: %d warnings in strict mode", warned)
	default:
		r.AdmissionStatus = bundle.Admissible
		r.Summary = fmt.Sprintf("ADMISSIBLE: %d checks, %d warnings", len(r.Checks), warned)
	}
}

// --- Helpers ---

func firstExisting(dir string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if fileExists(filepath.Join(dir, filepath.FromSlash(c))) {
			return c, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func pass(id, name, category, msg string) CheckResult {
	return CheckResult{CheckID: id, Name: name, Category: category, Status: StatusPass, Message: msg}
}

func fail(id, name, category, taxonomy, msg string) CheckResult {
	return CheckResult{CheckID: id, Name: name, Category: category, Status: StatusFail, Taxonomy: taxonomy, Message: msg}
}

func warn(id, name, category, msg string) CheckResult {
	return CheckResult{CheckID: id, Name: name, Category: category, Status: StatusWarn, Message: msg}
}

func skip(id, name, category, msg string) CheckResult {
	return CheckResult{CheckID: id, Name: name, Category: category, Status: StatusSkip, Message: msg}
}

// listSample renders at most five items followed by the remaining count.
func listSample(items []string) string {
	sort.Strings(items)
	if len(items) <= 5 {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(items[:5], ", "), len(items)-5)
}
