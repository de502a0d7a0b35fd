package equivalence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"
)

// Note codes of a difference between two entries.
const (
	NoteScenarioFamilyMismatch = "SCENARIO_FAMILY_MISMATCH"
	NoteMissingAdmissibility   = "MISSING_ADMISSIBILITY_EVIDENCE"
	NoteValueHashMismatch      = "VALUE_HASH_MISMATCH"
)

// Difference is one typed reason two entries are not equivalent.
type Difference struct {
	NoteCode string            `json:"note_code"`
	Params   map[string]string `json:"params"`
}

// Pair is one cell of the equivalence matrix.
type Pair struct {
	LeftRunID  string `json:"left_run_id"`
	RightRunID string `json:"right_run_id"`
	Equivalent bool   `json:"equivalent"`
	DiffRef    string `json:"diff_ref,omitempty"`
}

// Diff is the artifact written for a non-equivalent pair.
type Diff struct {
	ScenarioFamily string       `json:"scenario_family"`
	Pair           [2]string    `json:"pair"`
	Differences    []Difference `json:"differences"`
	Disclaimer     string       `json:"disclaimer"`
}

// Report is the result of one equivalence computation.
type Report struct {
	ReportVersion        string    `json:"report_version"`
	HashScopeVersion     string    `json:"hash_scope_version"`
	NormalizationVersion string    `json:"normalization_version"`
	CriteriaVersion      string    `json:"criteria_version"`
	GeneratedAt          time.Time `json:"generated_at"`
	ScenarioFamilies     []string  `json:"scenario_families"`
	Entries              []Entry   `json:"entries"`
	EquivalenceMatrix    []Pair    `json:"equivalence_matrix"`
	Disclaimer           string    `json:"disclaimer"`

	// Diffs are keyed by DiffRef.
	Diffs map[string]*Diff `json:"-"`
}

// Putter stores an artifact under a key and returns its digest.
type Putter interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Engine computes pairwise equivalence within scenario families.
type Engine struct {
	criteria *Criteria
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEngine returns an engine using c, or DefaultCriteria when c is nil.
func NewEngine(c *Criteria) *Engine {
	if c == nil {
		c = DefaultCriteria()
	}
	return &Engine{
		criteria: c,
		clock:    time.Now,
		logger:   slog.Default().With("component", "equivalence"),
	}
}

// WithClock overrides the report timestamp source.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Compare returns the differences between two entries, in check order:
// scenario family, admissibility of each side, normalized hash.
func (e *Engine) Compare(left, right Entry) []Difference {
	var diffs []Difference
	if left.ScenarioFamily != right.ScenarioFamily {
		diffs = append(diffs, Difference{NoteCode: NoteScenarioFamilyMismatch, Params: map[string]string{
			"left_family":  left.ScenarioFamily,
			"right_family": right.ScenarioFamily,
		}})
	}
	if !e.criteria.Admissible(left.AdmissionStatus) {
		diffs = append(diffs, Difference{NoteCode: NoteMissingAdmissibility, Params: map[string]string{
			"run_id": left.RunID,
			"side":   "left",
		}})
	}
	if !e.criteria.Admissible(right.AdmissionStatus) {
		diffs = append(diffs, Difference{NoteCode: NoteMissingAdmissibility, Params: map[string]string{
			"run_id": right.RunID,
			"side":   "right",
		}})
	}
	if left.NormalizedHash != right.NormalizedHash {
		diffs = append(diffs, Difference{NoteCode: NoteValueHashMismatch, Params: map[string]string{
			"pointer":    "/normalized_hash",
			"left_hash":  short(left.NormalizedHash),
			"right_hash": short(right.NormalizedHash),
		}})
	}
	return diffs
}

// Equivalent reports whether two entries are equivalent. It is symmetric.
func (e *Engine) Equivalent(a, b Entry) bool {
	return len(e.Compare(a, b)) == 0
}

// Compute groups entries by scenario family and compares every unordered
// pair within a family once, left being the earlier entry in input order.
func (e *Engine) Compute(ctx context.Context, entries []Entry) (*Report, error) {
	groups := map[string][]Entry{}
	for _, en := range entries {
		groups[en.ScenarioFamily] = append(groups[en.ScenarioFamily], en)
	}
	families := make([]string, 0, len(groups))
	for f := range groups {
		families = append(families, f)
	}
	sort.Strings(families)

	rep := &Report{
		ReportVersion:        ReportVersion,
		HashScopeVersion:     HashScopeVersion,
		NormalizationVersion: NormalizationVersion,
		CriteriaVersion:      e.criteria.Version,
		GeneratedAt:          e.clock().UTC(),
		ScenarioFamilies:     families,
		Entries:              append([]Entry{}, entries...),
		EquivalenceMatrix:    []Pair{},
		Disclaimer:           e.criteria.Disclaimer.Text,
		Diffs:                map[string]*Diff{},
	}

	for _, family := range families {
		group := groups[family]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				left, right := group[i], group[j]
				pair := Pair{LeftRunID: left.RunID, RightRunID: right.RunID}
				diffs := e.Compare(left, right)
				pair.Equivalent = len(diffs) == 0
				if !pair.Equivalent {
					pair.DiffRef = DiffRef(family, left.RunID, right.RunID)
					rep.Diffs[pair.DiffRef] = &Diff{
						ScenarioFamily: family,
						Pair:           [2]string{left.RunID, right.RunID},
						Differences:    diffs,
						Disclaimer:     e.criteria.Disclaimer.Text,
					}
				}
				rep.EquivalenceMatrix = append(rep.EquivalenceMatrix, pair)
			}
		}
	}

	e.logger.InfoContext(ctx, "equivalence computed",
		"entries", len(entries),
		"families", len(families),
		"pairs", len(rep.EquivalenceMatrix),
		"diffs", len(rep.Diffs),
	)
	return rep, nil
}

// DiffRef is the artifact key of a pair's diff.
func DiffRef(family, left, right string) string {
	return path.Join("diffs", family, left+"__"+right+".json")
}

// Write stores the report under prefix/report.json and each diff under
// prefix/<diff_ref>, diffs first and in key order.
func (r *Report) Write(ctx context.Context, store Putter, prefix string) error {
	keys := make([]string, 0, len(r.Diffs))
	for k := range r.Diffs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err := json.MarshalIndent(r.Diffs[k], "", "  ")
		if err != nil {
			return fmt.Errorf("encode diff %s: %w", k, err)
		}
		if _, err := store.Put(ctx, path.Join(prefix, k), data); err != nil {
			return fmt.Errorf("write diff %s: %w", k, err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode equivalence report: %w", err)
	}
	if _, err := store.Put(ctx, path.Join(prefix, "report.json"), data); err != nil {
		return fmt.Errorf("write equivalence report: %w", err)
	}
	return nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
