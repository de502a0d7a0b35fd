package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrBundleNotFound means the run directory, its manifest or its verify
	// report does not exist.
	ErrBundleNotFound = errors.New("bundle not found")
	// ErrMalformedBundle means a required artifact exists but cannot be parsed.
	ErrMalformedBundle = errors.New("malformed bundle")
	// ErrInvalidRunID means the run id is not a safe directory name.
	ErrInvalidRunID = errors.New("invalid run id")

	errTooLarge = errors.New("artifact exceeds size limit")
)

// maxArtifactBytes caps any single artifact read into memory.
const maxArtifactBytes = 50 * 1024 * 1024

var runIDPattern = regexp.MustCompile(`(?i)^[a-z0-9._-]+$`)

// ValidateRunID rejects ids that could address anything but a direct child
// of the runs root.
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) || strings.Contains(runID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

var (
	structuredManifests = []string{"manifest.yaml", "manifest.yml", "bundle.manifest.json"}
	traceCandidates     = []string{"timeline/events.ndjson", "trace/events.ndjson"}
	legacyTracePath     = "events.ndjson"
	checksumCandidates  = []string{"sha256sums.txt", "integrity/sha256sums.txt", "pack.sha256", "integrity/pack.sha256"}
)

// IsTracePath reports whether rel is one of the pack-relative paths a trace
// is loaded from.
func IsTracePath(rel string) bool {
	if rel == legacyTracePath {
		return true
	}
	for _, c := range traceCandidates {
		if rel == c {
			return true
		}
	}
	return false
}

// Loader reads bundles from a runs root directory.
type Loader struct {
	root   string
	logger *slog.Logger
}

// NewLoader creates a Loader rooted at runsRoot.
func NewLoader(runsRoot string) *Loader {
	return &Loader{
		root:   runsRoot,
		logger: slog.Default().With("component", "bundle"),
	}
}

// Root returns the runs root directory.
func (l *Loader) Root() string { return l.root }

// List returns the run ids under the runs root in ascending order. Entries
// that are not directories or not valid run ids are skipped.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list runs in %s: %w", l.root, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidateRunID(e.Name()) == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads <root>/<runID> into a Bundle.
func (l *Loader) Load(ctx context.Context, runID string) (*Bundle, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.root, runID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: run directory %s", ErrBundleNotFound, dir)
	}
	return l.load(ctx, runID, dir, true)
}

// LoadDir reads an arbitrary pack directory. The run id is taken from the
// manifest, falling back to the directory name.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %s", ErrBundleNotFound, dir)
	}
	return l.load(ctx, "", dir, true)
}

// LoadUnverified reads a pack directory that may not carry a verify report
// yet. Everything else loads as in LoadDir.
func (l *Loader) LoadUnverified(ctx context.Context, dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %s", ErrBundleNotFound, dir)
	}
	return l.load(ctx, "", dir, false)
}

func (l *Loader) load(ctx context.Context, runID, dir string, requireVerify bool) (*Bundle, error) {
	b := &Bundle{
		RunID:    runID,
		Dir:      dir,
		PackRoot: dir,
		Status:   make(map[Artifact]LoadStatus),
		raw:      make(map[Artifact]rawFile),
	}

	if err := l.loadManifest(b); err != nil {
		return nil, err
	}
	if b.RunID == "" {
		b.RunID = b.Manifest.RunID()
		if b.RunID == "" {
			b.RunID = filepath.Base(dir)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.loadVerifyReport(b); err != nil {
		if requireVerify || !errors.Is(err, ErrBundleNotFound) {
			return nil, err
		}
		b.Status[ArtifactVerifyReport] = StatusMissing
	}

	l.loadEvaluationReport(b)
	l.loadPointers(b)
	l.loadChecksums(b)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.loadTrace(b)
	l.loadSnapshots(b)

	l.logger.DebugContext(ctx, "bundle loaded",
		"run_id", b.RunID,
		"manifest_version", b.Manifest.Version(),
		"events", len(b.Trace),
		"pointers", len(b.Pointers),
		"load_errors", len(b.LoadErrors),
	)
	return b, nil
}

func (l *Loader) loadManifest(b *Bundle) error {
	var v2 *ManifestV2
	for _, name := range structuredManifests {
		p := filepath.Join(b.Dir, name)
		data, err := readArtifact(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrMalformedBundle, name, err)
		}
		m, err := parseManifestV2(name, data)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrMalformedBundle, name, err)
		}
		v2 = m
		b.raw[ArtifactManifest] = rawFile{path: name, data: data}
		break
	}

	var v1 *ManifestV1
	data, err := readArtifact(filepath.Join(b.Dir, "manifest.json"))
	switch {
	case err == nil:
		m, perr := parseManifestV1(data)
		if perr != nil {
			if v2 == nil {
				return fmt.Errorf("%w: parse manifest.json: %v", ErrMalformedBundle, perr)
			}
			b.addError(ArtifactLegacyManifest, "BUNDLE-INVALID-LEGACY-MANIFEST", perr.Error(), "manifest.json")
			break
		}
		v1 = m
		if v2 == nil {
			b.raw[ArtifactManifest] = rawFile{path: "manifest.json", data: data}
		} else {
			b.raw[ArtifactLegacyManifest] = rawFile{path: "manifest.json", data: data}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: read manifest.json: %v", ErrMalformedBundle, err)
	}

	switch {
	case v2 != nil:
		b.Manifest = v2
		b.Legacy = v1
		if v2.PackRoot != "" && v2.PackRoot != "." {
			if !safeRelPath(filepath.ToSlash(v2.PackRoot)) {
				return fmt.Errorf("%w: pack_root %q escapes the run directory", ErrMalformedBundle, v2.PackRoot)
			}
			b.PackRoot = filepath.Join(b.Dir, filepath.FromSlash(v2.PackRoot))
		}
	case v1 != nil:
		b.Manifest = v1
	default:
		return fmt.Errorf("%w: no manifest in %s", ErrBundleNotFound, b.Dir)
	}
	b.Status[ArtifactManifest] = StatusOK
	return nil
}

func (l *Loader) loadVerifyReport(b *Bundle) error {
	name, data, err := b.readFirst("verify.report.json")
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: verify.report.json missing in %s", ErrBundleNotFound, b.Dir)
	}
	if err != nil {
		return fmt.Errorf("%w: read verify.report.json: %v", ErrMalformedBundle, err)
	}
	if err := validateJSON(verifyReportSchemaURL, data); err != nil {
		return fmt.Errorf("%w: verify.report.json: %v", ErrMalformedBundle, err)
	}
	var r VerifyReport
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: verify.report.json: %v", ErrMalformedBundle, err)
	}
	b.VerifyReport = &r
	b.Status[ArtifactVerifyReport] = StatusOK
	b.raw[ArtifactVerifyReport] = rawFile{path: name, data: data}
	return nil
}

func (l *Loader) loadEvaluationReport(b *Bundle) {
	name, data, err := b.readFirst("evaluation.report.json")
	if !b.noteReadErr(ArtifactEvaluationReport, "EVALUATION-REPORT", "evaluation.report.json", err) {
		return
	}
	var r EvaluationReport
	if err := json.Unmarshal(data, &r); err != nil {
		b.markInvalid(ArtifactEvaluationReport, "BUNDLE-INVALID-EVALUATION-REPORT", err.Error(), name)
		return
	}
	b.EvaluationReport = &r
	b.Status[ArtifactEvaluationReport] = StatusOK
	b.raw[ArtifactEvaluationReport] = rawFile{path: name, data: data}
}

func (l *Loader) loadPointers(b *Bundle) {
	name, data, err := b.readFirst("evidence_pointers.json")
	if !b.noteReadErr(ArtifactPointers, "EVIDENCE-POINTERS", "evidence_pointers.json", err) {
		return
	}
	if err := validateJSON(pointersSchemaURL, data); err != nil {
		b.markInvalid(ArtifactPointers, "BUNDLE-INVALID-EVIDENCE-POINTERS", err.Error(), name)
		return
	}
	var doc struct {
		Pointers []EvidencePointer `json:"pointers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		b.markInvalid(ArtifactPointers, "BUNDLE-INVALID-EVIDENCE-POINTERS", err.Error(), name)
		return
	}
	for i := range doc.Pointers {
		if doc.Pointers[i].Status == "" {
			doc.Pointers[i].Status = PointerPresent
		}
	}
	b.Pointers = doc.Pointers
	b.Status[ArtifactPointers] = StatusOK
	b.raw[ArtifactPointers] = rawFile{path: name, data: data}
}

func (l *Loader) loadChecksums(b *Bundle) {
	name, data, err := b.readFirst(checksumCandidates...)
	if !b.noteReadErr(ArtifactChecksums, "CHECKSUMS", "sha256sums.txt", err) {
		return
	}
	entries, err := ParseChecksums(data)
	if err != nil {
		b.markInvalid(ArtifactChecksums, "BUNDLE-INVALID-CHECKSUMS", err.Error(), name)
		return
	}
	b.Checksums = &Checksums{Entries: entries, File: name}
	b.Status[ArtifactChecksums] = StatusOK
	b.raw[ArtifactChecksums] = rawFile{path: name, data: data}
}

func (l *Loader) loadTrace(b *Bundle) {
	name, data, err := b.readFirst(append(traceCandidates, legacyTracePath)...)
	if errors.Is(err, fs.ErrNotExist) {
		b.Status[ArtifactTrace] = StatusMissing
		b.addError(ArtifactTrace, "PACK-TRACE-MISSING", "no trace file found", "")
		return
	}
	if err != nil {
		b.markInvalid(ArtifactTrace, "PACK-TRACE-UNREADABLE", err.Error(), "")
		return
	}
	events, bad := ParseTrace(data)
	b.Trace = events
	b.raw[ArtifactTrace] = rawFile{path: name, data: data}
	if len(bad) > 0 {
		b.markInvalid(ArtifactTrace, "PACK-TRACE-INVALID", fmt.Sprintf("unparsable lines: %v", bad), name)
		return
	}
	b.Status[ArtifactTrace] = StatusOK
}

func (l *Loader) loadSnapshots(b *Bundle) {
	dir := filepath.Join(b.PackRoot, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.Status[ArtifactSnapshots] = StatusMissing
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	b.Snapshots = make(map[string]json.RawMessage, len(names))
	b.Status[ArtifactSnapshots] = StatusOK
	for _, n := range names {
		data, err := readArtifact(filepath.Join(dir, n))
		if err != nil || !json.Valid(data) {
			b.markInvalid(ArtifactSnapshots, "BUNDLE-INVALID-SNAPSHOT", "unreadable or not JSON", "snapshots/"+n)
			continue
		}
		id := strings.TrimSuffix(n, ".json")
		var head struct {
			SnapshotID string `json:"snapshot_id"`
		}
		if json.Unmarshal(data, &head) == nil && head.SnapshotID != "" {
			id = head.SnapshotID
		}
		b.Snapshots[id] = data
	}
}

// readFirst returns the first candidate found under the pack root, then under
// the run directory.
func (b *Bundle) readFirst(candidates ...string) (string, []byte, error) {
	bases := []string{b.PackRoot}
	if b.Dir != b.PackRoot {
		bases = append(bases, b.Dir)
	}
	for _, base := range bases {
		for _, c := range candidates {
			p := filepath.Join(base, filepath.FromSlash(c))
			data, err := readArtifact(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			rel, relErr := filepath.Rel(b.PackRoot, p)
			if relErr != nil {
				rel = c
			}
			return filepath.ToSlash(rel), data, err
		}
	}
	return "", nil, fs.ErrNotExist
}

// noteReadErr records missing/unreadable optional artifacts and reports
// whether decoding should proceed.
func (b *Bundle) noteReadErr(a Artifact, code, name string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, fs.ErrNotExist):
		b.Status[a] = StatusMissing
		b.addError(a, "BUNDLE-MISSING-"+code, name+" not found", "")
	default:
		b.markInvalid(a, "BUNDLE-INVALID-"+code, err.Error(), name)
	}
	return false
}

func (b *Bundle) markInvalid(a Artifact, code, msg, path string) {
	b.Status[a] = StatusInvalid
	b.addError(a, code, msg, path)
}

func (b *Bundle) addError(a Artifact, code, msg, path string) {
	b.LoadErrors = append(b.LoadErrors, LoadError{Artifact: a, Code: code, Message: msg, Path: path})
}

func readArtifact(p string) ([]byte, error) {
	f, err := os.Open(p) //nolint:gosec // path is built from the validated run directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	data, err := io.ReadAll(io.LimitReader(f, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactBytes {
		return nil, errTooLarge
	}
	return data, nil
}
