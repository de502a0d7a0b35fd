package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

type rulesetInfo struct {
	*ruleset.Manifest
	Loadable bool `json:"loadable"`
}

// runRulesetsCmd implements `vlab rulesets`: every registered manifest and
// whether an adjudicator backs it.
func runRulesetsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rulesets", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: vlab rulesets")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		return setupFailed(stderr, err)
	}
	defer a.Close(ctx)

	reg := a.service.Registry()
	var infos []rulesetInfo
	for _, m := range reg.Manifests() {
		_, err := reg.Get(m.ID)
		infos = append(infos, rulesetInfo{Manifest: m, Loadable: err == nil})
	}
	_ = writeJSON(stdout, infos)
	return 0
}
