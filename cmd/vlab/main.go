package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/verifier"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint. A bare run id is shorthand for
// `vlab adjudicate <run_id>`.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "adjudicate":
		return runAdjudicateCmd(args[2:], stdout, stderr)
	case "proof":
		return runProofCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "equivalence":
		return runEquivalenceCmd(args[2:], stdout, stderr)
	case "batch":
		return runBatchCmd(args[2:], stdout, stderr)
	case "rulesets":
		return runRulesetsCmd(args[2:], stdout, stderr)
	case "resolve":
		return runResolveCmd(args[2:], stdout, stderr)
	case "ledger":
		return runLedgerCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "vlab (verifier %s)\n", verifier.VerifierVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			_, _ = fmt.Fprintf(stderr, "Unknown flag: %s\n", args[1])
			printUsage(stderr)
			return 2
		}
		return runAdjudicateCmd(args[1:], stdout, stderr)
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
	ColorGray  = "\033[90m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sValidation Lab adjudicator%s\n", ColorBold+ColorBlue, ColorReset)
	_, _ = fmt.Fprintf(w, "%sSame evidence, same ruleset, same verdict.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  vlab <run_id>")
	_, _ = fmt.Fprintln(w, "  vlab <command> [flags] [args]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "ADJUDICATION")
	printCommand(w, "adjudicate", "Adjudicate one run (--full) <run_id>")
	printCommand(w, "batch", "Adjudicate many runs as JSON lines (--workers, --all)")
	printCommand(w, "proof", "Build the adjudication proof of a run (--export)")
	printCommand(w, "rulesets", "List registered ruleset manifests")

	printSection(w, "EVIDENCE")
	printCommand(w, "verify", "Admission checks on a pack directory (--json, --strict)")
	printCommand(w, "resolve", "Resolve a locator in a run (--artifact) <run_id> <locator>")
	printCommand(w, "equivalence", "Cross-substrate equivalence (--runs a,b | --all, --out)")

	printSection(w, "OPERATIONS")
	printCommand(w, "ledger", "Show or verify the verdict ledger (--verify) [run_id]")
	printCommand(w, "doctor", "Check configuration and backends")
	printCommand(w, "version", "Print the version")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
