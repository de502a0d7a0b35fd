// Package bundletest writes evidence pack fixtures for tests.
package bundletest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
)

// Pack describes a fixture. Zero fields are not written, except the verify
// report which defaults to an admissible one unless SkipVerifyReport is set.
type Pack struct {
	RunID            string
	ManifestV1       map[string]any
	ManifestV2       *bundle.ManifestV2
	VerifyReport     any
	SkipVerifyReport bool
	EvaluationReport any
	Pointers         []bundle.EvidencePointer
	Events           []map[string]any
	// RawTrace overrides Events when non-empty.
	RawTrace string
	// TracePath defaults to timeline/events.ndjson.
	TracePath string
	Files     map[string]string
}

// Write materialises p under root/<RunID> and returns the run directory.
func Write(t testing.TB, root string, p Pack) string {
	t.Helper()
	dir := filepath.Join(root, p.RunID)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	packRoot := dir
	if p.ManifestV2 != nil {
		data, err := yaml.Marshal(p.ManifestV2)
		require.NoError(t, err)
		writeFile(t, dir, "manifest.yaml", string(data))
		if p.ManifestV2.PackRoot != "" {
			packRoot = filepath.Join(dir, p.ManifestV2.PackRoot)
		}
	}
	if p.ManifestV1 != nil {
		writeJSON(t, dir, "manifest.json", p.ManifestV1)
	}
	if !p.SkipVerifyReport {
		report := p.VerifyReport
		if report == nil {
			report = map[string]any{"admission_status": bundle.Admissible}
		}
		writeJSON(t, packRoot, "verify.report.json", report)
	}
	if p.EvaluationReport != nil {
		writeJSON(t, packRoot, "evaluation.report.json", p.EvaluationReport)
	}
	if p.Pointers != nil {
		writeJSON(t, packRoot, "evidence_pointers.json", map[string]any{"pointers": p.Pointers})
	}

	tracePath := p.TracePath
	if tracePath == "" {
		tracePath = "timeline/events.ndjson"
	}
	switch {
	case p.RawTrace != "":
		writeFile(t, packRoot, tracePath, p.RawTrace)
	case p.Events != nil:
		writeFile(t, packRoot, tracePath, NDJSON(t, p.Events...))
	}
	for name, content := range p.Files {
		writeFile(t, packRoot, name, content)
	}
	return dir
}

// Load writes p under root and loads it.
func Load(t testing.TB, root string, p Pack) *bundle.Bundle {
	t.Helper()
	Write(t, root, p)
	b, err := bundle.NewLoader(root).Load(context.Background(), p.RunID)
	require.NoError(t, err)
	return b
}

// NDJSON encodes events one per line.
func NDJSON(t testing.TB, events ...map[string]any) string {
	t.Helper()
	var sb strings.Builder
	for _, e := range events {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func writeJSON(t testing.TB, dir, name string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	writeFile(t, dir, name, string(data))
}

func writeFile(t testing.TB, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}
