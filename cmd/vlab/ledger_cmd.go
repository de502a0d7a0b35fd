package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/store/ledger"
)

type ledgerOutput struct {
	Entries    []ledger.Entry `json:"entries"`
	ChainValid *bool          `json:"chain_valid,omitempty"`
	ChainError string         `json:"chain_error,omitempty"`
}

// runLedgerCmd implements `vlab ledger [run_id]`: recorded verdicts, all of
// them or one run's history. --portable-hash selects every run recorded
// with that portable hash. --verify recomputes the hash chain.
//
// Exit codes:
//
//	0 = entries listed (and the chain verified)
//	1 = the chain is broken
//	2 = usage or setup error, or no ledger configured
func runLedgerCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		verify   bool
		portable string
	)
	cmd.BoolVar(&verify, "verify", false, "Verify the hash chain of the whole ledger")
	cmd.StringVar(&portable, "portable-hash", "", "List entries recorded with this portable hash")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() > 1 || (cmd.NArg() == 1 && portable != "") {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab ledger [--verify] [--portable-hash H | <run_id>]")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)
	if a.ledger == nil {
		_, _ = fmt.Fprintln(stderr, "Error: no ledger configured (set VLAB_DATABASE_URL)")
		return 2
	}

	var out ledgerOutput
	switch {
	case portable != "":
		out.Entries, err = a.ledger.ByPortableHash(ctx, portable)
	case cmd.NArg() == 1:
		out.Entries, err = a.ledger.History(ctx, cmd.Arg(0))
	default:
		out.Entries, err = a.ledger.All(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	code := 0
	if verify {
		all, err := a.ledger.All(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		valid := true
		if err := ledger.VerifyChain(all); err != nil {
			valid, out.ChainError, code = false, err.Error(), 1
		}
		out.ChainValid = &valid
	}

	_ = writeJSON(stdout, out)
	return code
}
