package verifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

const (
	catAdmission = "admission"
	catStructure = "structure"
	catIntegrity = "integrity"
	catManifest  = "manifest"
	catVersion   = "version"
	catTimeline  = "timeline"
	catPointers  = "pointers"
)

// root is where pack-relative paths resolve.
func (p *pack) root() string {
	if p.bundle != nil {
		return p.bundle.PackRoot
	}
	return p.dir
}

// inventory lists regular files under dir as slash paths. Symlinks that
// resolve outside dir and names with backslashes are returned separately.
func inventory(ctx context.Context, dir string) ([]fileInfo, []string) {
	var (
		files     []fileInfo
		traversal []string
	)
	base, err := filepath.EvalSymlinks(dir)
	if err != nil {
		base = dir
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.Contains(rel, `\`) {
			traversal = append(traversal, rel)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil || !within(base, target) {
				traversal = append(traversal, rel)
				return nil
			}
			info, err := os.Stat(target)
			if err == nil && info.Mode().IsRegular() {
				files = append(files, fileInfo{rel: rel, size: info.Size()})
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, fileInfo{rel: rel, size: info.Size()})
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, traversal
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// --- Admission security ---

func checkFileCount(files []fileInfo) CheckResult {
	const id, name = "ADM-SEC-001", "File Count Limit"
	if len(files) > MaxFiles {
		return fail(id, name, catAdmission, TaxPackTooLarge,
			fmt.Sprintf("pack has %d files, limit is %d", len(files), MaxFiles))
	}
	return pass(id, name, catAdmission, fmt.Sprintf("%d files", len(files)))
}

func checkTotalSize(files []fileInfo) CheckResult {
	const id, name = "ADM-SEC-002", "Total Size Limit"
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total > MaxTotalBytes {
		return fail(id, name, catAdmission, TaxPackTooLarge,
			fmt.Sprintf("pack is %d bytes, limit is %d", total, MaxTotalBytes))
	}
	return pass(id, name, catAdmission, fmt.Sprintf("%d bytes", total))
}

func checkExtensions(files []fileInfo) CheckResult {
	const id, name = "ADM-SEC-003", "File Type Allowlist"
	var bad []string
	for _, f := range files {
		if !allowedExtensions[strings.ToLower(filepath.Ext(f.rel))] {
			bad = append(bad, f.rel)
		}
	}
	if len(bad) > 0 {
		return fail(id, name, catAdmission, TaxDisallowedFileType,
			fmt.Sprintf("disallowed file types: %s", listSample(bad)))
	}
	return pass(id, name, catAdmission, "all files have allowed extensions")
}

func checkTraversal(escapes []string) CheckResult {
	const id, name = "ADM-SEC-004", "Path Traversal"
	if len(escapes) > 0 {
		return fail(id, name, catAdmission, TaxPathTraversal,
			fmt.Sprintf("entries escape the pack: %s", listSample(escapes)))
	}
	return pass(id, name, catAdmission, "no path escapes")
}

// --- Structure ---

func checkRequiredFiles(p *pack) CheckResult {
	const id, name = "ADM-STR-001", "Required Artifacts"
	var missing []string
	if _, ok := firstExisting(p.dir, manifestCandidates); !ok {
		missing = append(missing, "manifest")
	}
	if _, ok := firstExisting(p.root(), traceCandidates); !ok {
		missing = append(missing, "timeline/events.ndjson")
	}
	if len(missing) > 0 {
		return fail(id, name, catStructure, TaxRequiredArtifactMissing,
			fmt.Sprintf("missing: %s", strings.Join(missing, ", ")))
	}
	return pass(id, name, catStructure, "manifest and timeline present")
}

// checkLayout accepts the canonical directory layout and warns on the flat
// legacy one.
func checkLayout(p *pack) CheckResult {
	const id, name = "ADM-STR-002", "Pack Layout"
	var missing []string
	for _, d := range canonicalDirs {
		if !dirExists(filepath.Join(p.root(), d)) {
			missing = append(missing, d+"/")
		}
	}
	if len(missing) > 0 {
		return warn(id, name, catStructure,
			fmt.Sprintf("legacy layout, missing directories: %s", strings.Join(missing, ", ")))
	}
	return pass(id, name, catStructure, "canonical layout")
}

// --- Manifest ---

func loadManifest(ctx context.Context, dir string) (*bundle.Bundle, CheckResult) {
	const id, name = "MAN-001", "Manifest Parse"
	b, err := bundle.NewLoader(filepath.Dir(dir)).LoadUnverified(ctx, dir)
	if err != nil {
		return nil, fail(id, name, catManifest, TaxManifestParseFailed, err.Error())
	}
	var missing []string
	if b.Manifest.PackID() == "" {
		missing = append(missing, "pack_id")
	}
	if b.Manifest.ProtocolVersion() == "" {
		missing = append(missing, "protocol_version")
	}
	if len(missing) > 0 {
		return b, fail(id, name, catManifest, TaxManifestParseFailed,
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}
	return b, pass(id, name, catManifest, fmt.Sprintf("manifest v%d parsed", b.Manifest.Version()))
}

// checkManifestFields warns on missing recommended fields and on an
// artifacts_included list that disagrees with artifacts/.
func checkManifestFields(p *pack) CheckResult {
	const id, name = "MAN-002", "Manifest Completeness"
	if p.bundle == nil {
		return skip(id, name, catManifest, "manifest not loaded")
	}
	m := p.bundle.Manifest
	var notes []string
	if m.PackVersion() == "" {
		notes = append(notes, "pack_version missing")
	}
	if m.ScenarioID() == "" {
		notes = append(notes, "scenario_id missing")
	}

	if v1, ok := m.(*bundle.ManifestV1); ok {
		if listed, ok := v1.Raw["artifacts_included"].([]any); ok {
			declared := make(map[string]bool, len(listed))
			for _, v := range listed {
				if s, ok := v.(string); ok {
					declared[filepath.Base(s)] = true
				}
			}
			present := make(map[string]bool)
			for _, f := range p.files {
				if strings.HasPrefix(f.rel, "artifacts/") {
					present[filepath.Base(f.rel)] = true
				}
			}
			var drift []string
			for n := range declared {
				if !present[n] {
					drift = append(drift, "missing "+n)
				}
			}
			for n := range present {
				if !declared[n] {
					drift = append(drift, "undeclared "+n)
				}
			}
			if len(drift) > 0 {
				notes = append(notes, "artifacts_included mismatch: "+listSample(drift))
			}
		}
	}
	if len(notes) > 0 {
		return warn(id, name, catManifest, strings.Join(notes, "; "))
	}
	return pass(id, name, catManifest, "recommended fields present")
}

// --- Integrity ---

func checkFileHashes(p *pack) CheckResult {
	const id, name = "INT-001", "File Checksums"
	sumsPath, ok := firstExisting(p.root(), sumsCandidates)
	if !ok {
		return warn(id, name, catIntegrity, "no sha256sums.txt, content is unverified")
	}
	data, err := os.ReadFile(filepath.Join(p.root(), filepath.FromSlash(sumsPath)))
	if err != nil {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch, fmt.Sprintf("cannot read %s: %v", sumsPath, err))
	}
	entries, err := bundle.ParseChecksums(data)
	if err != nil {
		if errors.Is(err, bundle.ErrUnsafePath) {
			return fail(id, name, catIntegrity, TaxPathTraversal, fmt.Sprintf("%s: %v", sumsPath, err))
		}
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch, fmt.Sprintf("%s: %v", sumsPath, err))
	}
	p.sums = entries
	p.sumsFound = true

	var bad []string
	for _, e := range entries {
		content, err := os.ReadFile(filepath.Join(p.root(), filepath.FromSlash(e.Path)))
		if err != nil {
			bad = append(bad, e.Path+" (missing)")
			continue
		}
		if sha256Hex(content) != e.SHA256 {
			bad = append(bad, e.Path)
		}
	}
	if len(bad) > 0 {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch,
			fmt.Sprintf("%d/%d entries do not match: %s", len(bad), len(entries), listSample(bad)))
	}
	return pass(id, name, catIntegrity, fmt.Sprintf("%d entries verified", len(entries)))
}

// NormalizedSums renders checksum entries sorted by path as "<hash>  <path>"
// lines joined by newlines, without a trailing newline. Its SHA-256 is the
// pack root hash.
func NormalizedSums(entries []bundle.ChecksumEntry) string {
	sorted := append([]bundle.ChecksumEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	lines := make([]string, len(sorted))
	for i, e := range sorted {
		lines[i] = e.SHA256 + "  " + e.Path
	}
	return strings.Join(lines, "\n")
}

func checkPackHash(p *pack) (CheckResult, string) {
	const id, name = "INT-002", "Pack Root Hash"
	if !p.sumsFound {
		return skip(id, name, catIntegrity, "no checksum entries"), ""
	}
	rootHash := sha256Hex([]byte(NormalizedSums(p.sums)))
	packPath, ok := firstExisting(p.root(), packSumCandidates)
	if !ok {
		return skip(id, name, catIntegrity, "no pack.sha256"), rootHash
	}
	data, err := os.ReadFile(filepath.Join(p.root(), filepath.FromSlash(packPath)))
	if err != nil {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch, fmt.Sprintf("cannot read %s: %v", packPath, err)), rootHash
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch, packPath+" is empty"), rootHash
	}
	if strings.ToLower(fields[0]) != rootHash {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch,
			fmt.Sprintf("declared %s, computed %s", fields[0], rootHash)), rootHash
	}
	return pass(id, name, catIntegrity, "pack root hash matches"), rootHash
}

func checkCoverage(p *pack) CheckResult {
	const id, name = "INT-003", "Checksum Coverage"
	if !p.sumsFound {
		return skip(id, name, catIntegrity, "no checksum entries")
	}
	declared := make(map[string]bool, len(p.sums))
	for _, e := range p.sums {
		declared[e.Path] = true
	}
	var undeclared []string
	for _, f := range p.files {
		rel, ok := relToRoot(p, f.rel)
		if !ok || coverageExempt[rel] {
			continue
		}
		if !declared[rel] {
			undeclared = append(undeclared, rel)
		}
	}
	if len(undeclared) > 0 {
		return fail(id, name, catIntegrity, TaxIntegrityHashMismatch,
			fmt.Sprintf("files not covered by checksums: %s", listSample(undeclared)))
	}
	return pass(id, name, catIntegrity, "every file is covered")
}

// relToRoot maps an inventory path (relative to the run directory) to a
// pack-root path; files outside the pack root are not pack content.
func relToRoot(p *pack, rel string) (string, bool) {
	if p.root() == p.dir {
		return rel, true
	}
	r, err := filepath.Rel(p.root(), filepath.Join(p.dir, filepath.FromSlash(rel)))
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

// --- Version binding ---

type binding struct {
	rulesetID   string
	resolution  CheckResult
	protocol    CheckResult
	packVersion CheckResult
}

func bindVersions(p *pack, strict bool) binding {
	const (
		resID, resName   = "VER-001", "Ruleset Resolution"
		protoID, protoNm = "VER-002", "Protocol Binding"
		packID, packNm   = "VER-003", "Pack Version Compatibility"
	)
	out := binding{
		resolution:  skip(resID, resName, catVersion, "manifest not loaded"),
		protocol:    skip(protoID, protoNm, catVersion, "ruleset not resolved"),
		packVersion: skip(packID, packNm, catVersion, "ruleset not resolved"),
	}
	if p.bundle == nil {
		return out
	}
	sel, err := ruleset.Effective(p.bundle, strict)
	if err != nil {
		out.resolution = warn(resID, resName, catVersion, "no ruleset named by the manifest or run id")
		return out
	}
	out.rulesetID = sel.RulesetID
	m, err := ruleset.EmbeddedManifest(sel.RulesetID)
	if err != nil {
		out.resolution = fail(resID, resName, catVersion, TaxVersionBindingFailed,
			fmt.Sprintf("ruleset %s is not registered", sel.RulesetID))
		return out
	}
	out.resolution = pass(resID, resName, catVersion, fmt.Sprintf("%s (from %s)", sel.RulesetID, sel.Source))
	out.protocol = checkProtocol(protoID, protoNm, m, p.bundle.Manifest.ProtocolVersion())
	out.packVersion = checkPackVersion(packID, packNm, m, p.bundle.Manifest.PackVersion())
	return out
}

// checkProtocol requires the pack protocol to share the ruleset protocol's
// major version.
func checkProtocol(id, name string, m *ruleset.Manifest, declared string) CheckResult {
	if declared == "" || m.Protocol.Version == "" {
		return skip(id, name, catVersion, "protocol version not declared")
	}
	want, err := semver.NewVersion(m.Protocol.Version)
	if err != nil {
		return warn(id, name, catVersion, fmt.Sprintf("ruleset protocol %q is not semver", m.Protocol.Version))
	}
	got, err := semver.NewVersion(strings.TrimPrefix(declared, "v"))
	if err != nil {
		return warn(id, name, catVersion, fmt.Sprintf("pack protocol %q is not semver", declared))
	}
	if got.Major() != want.Major() {
		return fail(id, name, catVersion, TaxVersionBindingFailed,
			fmt.Sprintf("pack protocol %s, ruleset %s expects %s", got, m.ID, want))
	}
	return pass(id, name, catVersion, fmt.Sprintf("protocol %s bound to %s", got, m.ID))
}

func checkPackVersion(id, name string, m *ruleset.Manifest, declared string) CheckResult {
	if declared == "" {
		return skip(id, name, catVersion, "pack_version not declared")
	}
	ok, err := m.AcceptsPackVersion(declared)
	if err != nil {
		return warn(id, name, catVersion, err.Error())
	}
	if !ok {
		return fail(id, name, catVersion, TaxVersionBindingFailed,
			fmt.Sprintf("pack_version %s outside %s", declared, m.Compatibility.PackVersions))
	}
	return pass(id, name, catVersion, fmt.Sprintf("pack_version %s accepted by %s", declared, m.ID))
}

// --- Timeline ---

func checkTimeline(p *pack) CheckResult {
	const id, name = "TL-001", "Timeline Parse"
	if p.bundle == nil {
		return skip(id, name, catTimeline, "manifest not loaded")
	}
	switch p.bundle.StatusOf(bundle.ArtifactTrace) {
	case bundle.StatusMissing:
		return skip(id, name, catTimeline, "no timeline")
	case bundle.StatusInvalid:
		msg := "timeline is not valid NDJSON"
		for _, le := range p.bundle.LoadErrors {
			if le.Artifact == bundle.ArtifactTrace {
				msg = le.Message
			}
		}
		return fail(id, name, catTimeline, TaxTimelineParseFailed, msg)
	}
	if len(p.bundle.Trace) == 0 {
		return warn(id, name, catTimeline, "timeline is empty")
	}
	return pass(id, name, catTimeline, fmt.Sprintf("%d events", len(p.bundle.Trace)))
}

// checkTimelineOrder requires strictly increasing sequence numbers when
// every event carries one, otherwise non-decreasing timestamps with ties
// broken by event_id.
func checkTimelineOrder(p *pack) CheckResult {
	const id, name = "TL-002", "Timeline Total Order"
	if p.bundle == nil || len(p.bundle.Trace) < 2 {
		return skip(id, name, catTimeline, "fewer than two events")
	}
	events := p.bundle.Trace
	if allSequenced(events) {
		for i := 1; i < len(events); i++ {
			if events[i].Sequence() <= events[i-1].Sequence() {
				return fail(id, name, catTimeline, TaxTimelineNotOrdered,
					fmt.Sprintf("sequence %d at line %d does not follow %d", events[i].Sequence(), events[i].Line, events[i-1].Sequence()))
			}
		}
		return pass(id, name, catTimeline, "ordered by sequence")
	}
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) > 0 {
			return fail(id, name, catTimeline, TaxTimelineNotOrdered,
				fmt.Sprintf("event at line %d precedes its predecessor", events[i].Line))
		}
	}
	return pass(id, name, catTimeline, "ordered by timestamp")
}

func allSequenced(events []bundle.Event) bool {
	for _, e := range events {
		if _, ok := e.Fields["sequence"]; !ok {
			return false
		}
	}
	return true
}

func compareEvents(a, b bundle.Event) int {
	ta, tb := timestampOf(a), timestampOf(b)
	switch {
	case !ta.IsZero() && !tb.IsZero():
		if c := ta.Compare(tb); c != 0 {
			return c
		}
	default:
		sa, _ := a.Fields["timestamp"].(string)
		sb, _ := b.Fields["timestamp"].(string)
		if c := strings.Compare(sa, sb); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID(), b.ID())
}

func timestampOf(e bundle.Event) time.Time {
	s, _ := e.Fields["timestamp"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- Evidence pointers ---

func checkPointers(p *pack) CheckResult {
	const id, name = "PTR-001", "Evidence Pointer Resolution"
	if p.bundle == nil {
		return skip(id, name, catPointers, "manifest not loaded")
	}
	switch p.bundle.StatusOf(bundle.ArtifactPointers) {
	case bundle.StatusMissing:
		return skip(id, name, catPointers, "no evidence_pointers.json")
	case bundle.StatusInvalid:
		return fail(id, name, catPointers, TaxPointerUnresolved, "evidence_pointers.json is invalid")
	}
	var (
		checked    int
		unresolved []string
	)
	for _, ptr := range p.bundle.Pointers {
		if ptr.Status != "" && ptr.Status != bundle.PointerPresent {
			continue
		}
		checked++
		ref := pointer.ResolveInBundle(p.bundle, ptr)
		if !ref.OK() {
			unresolved = append(unresolved, fmt.Sprintf("%s %s (%s)", ptr.RequirementID, ptr, strings.Join(ref.Notes, ",")))
		}
	}
	if len(unresolved) > 0 {
		return fail(id, name, catPointers, TaxPointerUnresolved,
			fmt.Sprintf("%d/%d pointers do not resolve: %s", len(unresolved), checked, listSample(unresolved)))
	}
	return pass(id, name, catPointers, fmt.Sprintf("%d pointers resolved", checked))
}
