package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/adjudication"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/proof"
)

// runProofCmd implements `vlab proof <run_id>`: the adjudication proof of a
// run, assembled from the reports in its pack.
//
// Exit codes:
//
//	0 = proof written
//	1 = the pack could not be loaded or lacks the inputs of a proof
//	2 = usage or setup error
func runProofCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("proof", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var export bool
	cmd.BoolVar(&export, "export", false, "Also write the proof to the artifact store")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab proof [--export] <run_id>")
		return 2
	}
	runID := cmd.Arg(0)

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	b, err := a.service.Loader().Load(ctx, runID)
	if err != nil {
		return writeFailure(stdout, runID, adjudication.Classify(runID, err))
	}
	p, err := proof.NewBuilder().Build(b)
	if err != nil {
		return writeFailure(stdout, runID, adjudication.Classify(runID, err))
	}

	if export {
		e, err := a.artifactExporter(ctx)
		if err != nil {
			return setupFailed(stderr, err)
		}
		ref, err := e.Export(ctx, artifacts.TypeAdjudicationProof, artifacts.ProofKey(runID), p)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: export proof: %v\n", err)
			return 1
		}
		a.logger.InfoContext(ctx, "proof exported", "run_id", runID, "key", ref.Key, "digest", ref.Digest)
	}

	_ = writeJSON(stdout, p)
	return 0
}
