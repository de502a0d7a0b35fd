package ruleset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/semantics"
)

// Facts is the bundle summary applicability expressions are evaluated over.
type Facts struct {
	RunID           string
	RulesetRef      string
	ScenarioID      string
	ScenarioFamily  string
	Substrate       string
	PackVersion     string
	ManifestVersion int
	// Domains lists the domains observed in the trace, sorted.
	Domains []string
	// Requirements lists the requirement ids that carry pointers, sorted.
	Requirements []string
}

// FactsOf summarises a bundle.
func FactsOf(b *bundle.Bundle) Facts {
	f := Facts{RunID: b.RunID}
	if m := b.Manifest; m != nil {
		f.RulesetRef = m.RulesetRef()
		f.ScenarioID = m.ScenarioID()
		f.ScenarioFamily = m.ScenarioFamily()
		f.Substrate = m.Substrate()
		f.PackVersion = m.PackVersion()
		f.ManifestVersion = m.Version()
	}
	if f.RulesetRef == "" && b.Legacy != nil {
		f.RulesetRef = b.Legacy.RulesetRef()
	}

	domains := map[string]bool{}
	for _, ev := range b.Trace {
		if d := semantics.Extract(ev.Fields).PrimaryDomain; d != "" {
			domains[string(d)] = true
		}
	}
	f.Domains = sortedKeys(domains)

	reqs := map[string]bool{}
	for _, p := range b.Pointers {
		reqs[p.RequirementID] = true
	}
	f.Requirements = sortedKeys(reqs)
	return f
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"run_id":           f.RunID,
		"ruleset_ref":      f.RulesetRef,
		"scenario_id":      f.ScenarioID,
		"scenario_family":  f.ScenarioFamily,
		"substrate":        f.Substrate,
		"pack_version":     f.PackVersion,
		"manifest_version": int64(f.ManifestVersion),
		"domains":          nonNil(f.Domains),
		"requirements":     nonNil(f.Requirements),
	}
}

// Applicability compiles and evaluates CEL applicability expressions.
// Compiled programs are cached by expression text.
type Applicability struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewApplicability builds the CEL environment over the Facts variables.
func NewApplicability() (*Applicability, error) {
	env, err := cel.NewEnv(
		cel.Variable("run_id", cel.StringType),
		cel.Variable("ruleset_ref", cel.StringType),
		cel.Variable("scenario_id", cel.StringType),
		cel.Variable("scenario_family", cel.StringType),
		cel.Variable("substrate", cel.StringType),
		cel.Variable("pack_version", cel.StringType),
		cel.Variable("manifest_version", cel.IntType),
		cel.Variable("domains", cel.ListType(cel.StringType)),
		cel.Variable("requirements", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Applicability{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile checks an expression and caches its program. Empty expressions
// are accepted and always evaluate to true.
func (a *Applicability) Compile(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := a.program(expr)
	return err
}

// Eval evaluates expr over facts.
func (a *Applicability) Eval(expr string, facts Facts) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := a.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %T, not bool", expr, out.Value())
	}
	return val, nil
}

func (a *Applicability) program(expr string) (cel.Program, error) {
	a.mu.RLock()
	prg, hit := a.prgCache[expr]
	a.mu.RUnlock()
	if hit {
		return prg, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prg, hit = a.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := a.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("compile %q: expression must be bool, got %s", expr, ast.OutputType())
	}
	p, err := a.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	a.prgCache[expr] = p
	return p, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
