package ruleset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
)

var (
	ErrRulesetNotFound    = errors.New("ruleset not found")
	ErrRulesetNotLoadable = errors.New("ruleset not loadable")
	ErrRulesetExists      = errors.New("ruleset already registered")
	ErrRegistryFrozen     = errors.New("ruleset registry is frozen")
)

// Ruleset is a registered, versioned adjudication procedure.
type Ruleset interface {
	ID() string
	Manifest() *Manifest
	Adjudicate(ctx context.Context, b *bundle.Bundle) (*Result, error)
}

// Registry holds rulesets by id. Registration happens at start-up; after
// Freeze the registry is read-only and lookups take no lock.
type Registry struct {
	mu      sync.RWMutex
	frozen  atomic.Bool
	entries map[string]*entry
	app     *Applicability
	clock   func() time.Time
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() (*Registry, error) {
	app, err := NewApplicability()
	if err != nil {
		return nil, err
	}
	return &Registry{
		entries: make(map[string]*entry),
		app:     app,
		clock:   time.Now,
		logger:  slog.Default().With("component", "ruleset"),
	}, nil
}

// WithClock overrides the clock used to stamp evaluated_at.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register adds a ruleset. A nil adjudicator registers the manifest only;
// such a ruleset is listed but not loadable.
func (r *Registry) Register(m *Manifest, a Adjudicator) error {
	if m == nil {
		return fmt.Errorf("register: nil manifest")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if err := r.app.Compile(m.Applicability); err != nil {
		return fmt.Errorf("register %s: applicability: %w", m.ID, err)
	}
	for _, c := range m.Clauses {
		if err := r.app.Compile(c.AppliesWhen); err != nil {
			return fmt.Errorf("register %s: clause %s: %w", m.ID, c.ClauseID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("register %s: %w", m.ID, ErrRegistryFrozen)
	}
	if _, dup := r.entries[m.ID]; dup {
		return fmt.Errorf("register %s: %w", m.ID, ErrRulesetExists)
	}
	r.entries[m.ID] = &entry{reg: r, manifest: m, adj: a}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) (*entry, bool) {
	if r.frozen.Load() {
		e, ok := r.entries[id]
		return e, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns the ruleset registered under id.
func (r *Registry) Get(id string) (Ruleset, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRulesetNotFound, id)
	}
	if e.adj == nil {
		return nil, fmt.Errorf("%w: %s has no adjudicator", ErrRulesetNotLoadable, id)
	}
	return e, nil
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Manifests returns the registered manifests ordered by id.
func (r *Registry) Manifests() []*Manifest {
	var out []*Manifest
	for _, id := range r.IDs() {
		e, _ := r.lookup(id)
		out = append(out, e.manifest)
	}
	return out
}

type entry struct {
	reg      *Registry
	manifest *Manifest
	adj      Adjudicator
}

func (e *entry) ID() string          { return e.manifest.ID }
func (e *entry) Manifest() *Manifest { return e.manifest }

// Adjudicate gates the bundle on pack compatibility and applicability,
// runs the adjudicator over the applicable clauses and checks closure.
func (e *entry) Adjudicate(ctx context.Context, b *bundle.Bundle) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := e.manifest
	facts := FactsOf(b)

	var res *Result
	if ok, err := m.AcceptsPackVersion(facts.PackVersion); err != nil || !ok {
		e.reg.logger.WarnContext(ctx, "pack version incompatible",
			"ruleset", m.ID, "run_id", b.RunID, "pack_version", facts.PackVersion, "constraint", m.Compatibility.PackVersions)
		res = &Result{ToplineVerdict: StatusNotEvaluated, ReasonCode: ReasonPackVersionIncompat}
	} else if applies, err := e.reg.app.Eval(m.Applicability, facts); err != nil {
		return nil, fmt.Errorf("ruleset %s applicability: %w", m.ID, err)
	} else if !applies {
		res = &Result{ToplineVerdict: StatusNotEvaluated, ReasonCode: NotApplicableReason(m.ID)}
	} else {
		clauses, err := e.applicableClauses(facts)
		if err != nil {
			return nil, err
		}
		res, err = e.adj.Adjudicate(ctx, &Input{Bundle: b, Manifest: m, Clauses: clauses})
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", m.ID, err)
		}
		if res == nil {
			return nil, fmt.Errorf("ruleset %s: adjudicator returned no result", m.ID)
		}
	}

	res.RulesetID = m.ID
	res.RunID = b.RunID
	res.EvaluatedAt = e.reg.clock().UTC()
	if res.Clauses == nil {
		res.Clauses = []ClauseResult{}
	}
	if err := CheckClosure(res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *entry) applicableClauses(facts Facts) ([]ClauseSpec, error) {
	out := make([]ClauseSpec, 0, len(e.manifest.Clauses))
	for _, c := range e.manifest.Clauses {
		ok, err := e.reg.app.Eval(c.AppliesWhen, facts)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s clause %s: %w", e.manifest.ID, c.ClauseID, err)
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}
