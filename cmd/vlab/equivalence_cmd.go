package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/adjudication"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/equivalence"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

// equivalenceOutput is what `vlab equivalence` prints.
type equivalenceOutput struct {
	Report  *equivalence.Report `json:"report"`
	Written string              `json:"written,omitempty"`
	Skipped []failure           `json:"skipped,omitempty"`
}

// runEquivalenceCmd implements `vlab equivalence`: adjudicate the selected
// runs, normalize each pack and compare them pairwise within scenario
// families. The report and its diffs go to --out when given, otherwise to
// the configured artifact store under --prefix.
//
// A run whose pack cannot be loaded is skipped and listed; a run that loads
// but cannot be adjudicated is compared with an unknown verdict.
//
// Exit codes:
//
//	0 = report computed and written
//	1 = the report could not be written
//	2 = usage or setup error
func runEquivalenceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("equivalence", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		runs     string
		all      bool
		outDir   string
		prefix   string
		criteria string
	)
	cmd.StringVar(&runs, "runs", "", "Comma-separated run ids")
	cmd.BoolVar(&all, "all", false, "Use every run under the runs root")
	cmd.StringVar(&outDir, "out", "", "Write the report and diffs under this directory")
	cmd.StringVar(&prefix, "prefix", "equivalence", "Key prefix in the artifact store")
	cmd.StringVar(&criteria, "criteria", "", "Equivalence criteria YAML (default: VLAB_EQUIVALENCE_CRITERIA)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (runs == "") == !all || cmd.NArg() != 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab equivalence (--runs a,b,c | --all) [--out DIR] [--criteria file]")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	if criteria == "" {
		criteria = a.cfg.CriteriaPath
	}
	crit := equivalence.DefaultCriteria()
	if criteria != "" {
		if crit, err = equivalence.LoadCriteria(criteria); err != nil {
			return setupFailed(stderr, err)
		}
	}

	var ids []string
	if all {
		if ids, err = a.service.Loader().List(); err != nil {
			return setupFailed(stderr, err)
		}
	} else {
		ids = splitRuns(runs)
	}

	items, err := a.service.Batch(ctx, ids, a.cfg.Workers)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out := equivalenceOutput{}
	entries := make([]equivalence.Entry, 0, len(items))
	for _, it := range items {
		var (
			b   *bundle.Bundle
			res *ruleset.Result
		)
		if it.Outcome != nil {
			b, res = it.Outcome.Bundle, it.Outcome.Result
		} else if b, err = a.service.Loader().Load(ctx, it.RunID); err != nil {
			out.Skipped = append(out.Skipped, failureOf(it.RunID, adjudication.Classify(it.RunID, err)))
			continue
		}
		e, err := equivalence.Normalize(b, res, crit)
		if err != nil {
			out.Skipped = append(out.Skipped, failureOf(it.RunID, err))
			continue
		}
		entries = append(entries, e)
	}

	report, err := equivalence.NewEngine(crit).Compute(ctx, entries)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out.Report = report

	var store equivalence.Putter
	if outDir != "" {
		fs, err := artifacts.NewFileStore(outDir)
		if err != nil {
			return setupFailed(stderr, err)
		}
		store, prefix, out.Written = fs, "", outDir
	} else {
		e, err := a.artifactExporter(ctx)
		if err != nil {
			return setupFailed(stderr, err)
		}
		store, out.Written = e.Store(), prefix
	}
	if err := report.Write(ctx, store, prefix); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	_ = writeJSON(stdout, out)
	return 0
}

func splitRuns(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
