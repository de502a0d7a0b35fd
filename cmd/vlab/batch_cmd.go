package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

// runBatchCmd implements `vlab batch [--workers N] run...`: one JSON line
// per run, in argument order.
//
// Exit codes:
//
//	0 = every run adjudicated
//	1 = at least one run failed
//	2 = usage or setup error
func runBatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("batch", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		workers int
		all     bool
	)
	cmd.IntVar(&workers, "workers", 0, "Concurrent adjudications (default: VLAB_WORKERS)")
	cmd.BoolVar(&all, "all", false, "Adjudicate every run under the runs root")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if all == (cmd.NArg() > 0) {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab batch [--workers N] (--all | <run_id>...)")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	ids := cmd.Args()
	if all {
		if ids, err = a.service.Loader().List(); err != nil {
			return setupFailed(stderr, err)
		}
	}
	if workers < 1 {
		workers = a.cfg.Workers
	}

	items, err := a.service.Batch(ctx, ids, workers)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	code := 0
	for _, it := range items {
		if it.Err != nil {
			_ = enc.Encode(failureOf(it.RunID, it.Err))
			code = 1
			continue
		}
		_ = enc.Encode(it.Outcome.Summary())
	}
	return code
}
