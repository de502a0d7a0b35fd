package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// runAdjudicateCmd implements `vlab adjudicate <run_id>`.
//
// Exit codes:
//
//	0 = run adjudicated, whatever the verdict
//	1 = adjudication failed; the failure document is on stdout
//	2 = usage or setup error
func runAdjudicateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("adjudicate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var full bool
	cmd.BoolVar(&full, "full", false, "Output the whole outcome: selection, fingerprint, cache and ledger state")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab adjudicate [--full] <run_id>")
		return 2
	}
	runID := cmd.Arg(0)

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	out, err := a.service.Adjudicate(ctx, runID)
	if err != nil {
		return writeFailure(stdout, runID, err)
	}
	if full {
		_ = writeJSON(stdout, out)
	} else {
		_ = writeJSON(stdout, out.Summary())
	}
	return 0
}
