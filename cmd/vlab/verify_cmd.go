package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/verifier"
)

// runVerifyCmd implements `vlab verify <pack_dir>`: the admission checks of
// a pack directory.
//
// Exit codes:
//
//	0 = ADMISSIBLE
//	1 = NOT_ADMISSIBLE
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		jsonOutput bool
		strict     bool
		export     bool
		outFile    string
	)
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON to stdout")
	cmd.BoolVar(&strict, "strict", false, "Treat warnings as blocking")
	cmd.BoolVar(&export, "export", false, "Also write the report to the artifact store")
	cmd.StringVar(&outFile, "out", "", "Write the JSON report to this file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab verify [--json] [--strict] [--export] [--out file] <pack_dir>")
		return 2
	}
	packDir := cmd.Arg(0)

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	report, err := verifier.VerifyPack(ctx, packDir,
		verifier.WithStrict(strict),
		verifier.WithLogger(a.logger.With("component", "verifier")),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if outFile != "" {
		if err := writeFile(outFile, report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write report: %v\n", err)
			return 2
		}
	}
	if export {
		e, err := a.artifactExporter(ctx)
		if err != nil {
			return setupFailed(stderr, err)
		}
		id := report.PackID
		if id == "" {
			id = filepath.Base(filepath.Clean(packDir))
		}
		if _, err := e.Export(ctx, artifacts.TypeVerifyReport, artifacts.VerifyReportKey(id), report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: export report: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		_ = writeJSON(stdout, report)
	} else {
		printVerifyReport(stdout, packDir, report)
	}

	if !report.Admissible() {
		return 1
	}
	return 0
}

func printVerifyReport(w io.Writer, packDir string, r *verifier.Report) {
	_, _ = fmt.Fprintf(w, "%s: %s\n", r.AdmissionStatus, packDir)
	if r.PackID != "" {
		_, _ = fmt.Fprintf(w, "Pack: %s (protocol %s, ruleset %s)\n", r.PackID, r.ProtocolVersion, r.RulesetVersion)
	}
	for _, c := range r.Checks {
		if c.Status == verifier.StatusPass {
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-4s %-12s %s\n", c.Status, c.CheckID, c.Message)
	}
	_, _ = fmt.Fprintf(w, "Checks: %s\n", r.Summary)
}
