package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/adjudication"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/pointer"
)

// runResolveCmd implements `vlab resolve <run_id> <locator>`: the span a
// locator addresses in a run's pack, with surrounding context.
//
// Exit codes:
//
//	0 = resolved
//	1 = the pack or the span could not be found
//	2 = usage or setup error
func runResolveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		artifact string
		lines    int
		events   int
	)
	r := pointer.NewResolver()
	cmd.StringVar(&artifact, "artifact", "", "Artifact path inside the pack (default: the trace for event locators)")
	cmd.IntVar(&lines, "context", r.ContextLines, "Lines shown around a line range")
	cmd.IntVar(&events, "window", r.EventWindow, "Events shown around an event")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab resolve [--artifact path] [--context N] [--window N] <run_id> <locator>")
		return 2
	}
	runID, locator := cmd.Arg(0), cmd.Arg(1)
	r.ContextLines, r.EventWindow = lines, events

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
	span, err := r.Resolve(b.PackRoot, bundle.EvidencePointer{ArtifactPath: artifact, Locator: locator})
	if err != nil {
		_ = writeJSON(stdout, failure{
			RunID:        runID,
			Error:        true,
			ErrorCode:    pointer.NoteOf(err),
			ErrorMessage: err.Error(),
		})
		return 1
	}
	_ = writeJSON(stdout, span)
	return 0
}
