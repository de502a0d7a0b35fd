// Package adjudication runs the full pipeline for a run: load the bundle,
// select and run its ruleset, check closure and compute the verdict hashes.
// A result cache, the verdict ledger, telemetry and artifact export are
// optional and never change the verdict.
package adjudication

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/cache"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/observability"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/store/ledger"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/verdict"
)

// Producer identifies exported artifacts.
const Producer = "vlab-adjudicator"

// Outcome is the adjudication of one run.
type Outcome struct {
	RunID       string            `json:"run_id"`
	Selection   ruleset.Selection `json:"selection"`
	Result      *ruleset.Result   `json:"result"`
	Hashes      verdict.Hashes    `json:"hashes"`
	Fingerprint string            `json:"fingerprint"`
	Cached      bool              `json:"cached"`
	LedgerSeq   int64             `json:"ledger_seq,omitempty"`
	Export      *artifacts.Ref    `json:"export,omitempty"`

	// Bundle is the loaded pack the result was computed from.
	Bundle *bundle.Bundle `json:"-"`
}

// Summary is the external form of an outcome.
type Summary struct {
	RunID          string          `json:"run_id"`
	RulesetID      string          `json:"ruleset_id"`
	VerdictHash    string          `json:"verdict_hash"`
	PortableHash   string          `json:"portable_hash"`
	ToplineVerdict ruleset.Status  `json:"topline_verdict"`
	ReasonCode     string          `json:"reason_code,omitempty"`
	ClauseCount    int             `json:"clause_count"`
	Evaluation     *ruleset.Result `json:"evaluation"`
}

// Summary projects the outcome onto its external form.
func (o *Outcome) Summary() Summary {
	return Summary{
		RunID:          o.RunID,
		RulesetID:      o.Result.RulesetID,
		VerdictHash:    o.Hashes.VerdictHash,
		PortableHash:   o.Hashes.PortableHash,
		ToplineVerdict: o.Result.ToplineVerdict,
		ReasonCode:     o.Result.ReasonCode,
		ClauseCount:    len(o.Result.Clauses),
		Evaluation:     o.Result,
	}
}

// cached is what the result cache stores.
type cached struct {
	Result *ruleset.Result `json:"result"`
	Hashes verdict.Hashes  `json:"hashes"`
}

// Service adjudicates runs under a runs root.
type Service struct {
	loader    *bundle.Loader
	registry  *ruleset.Registry
	strict    bool
	cache     cache.Cache
	cacheTTL  time.Duration
	ledger    ledger.Ledger
	exporter  *artifacts.Exporter
	telemetry *observability.Provider
	logger    *slog.Logger
}

// NewService returns a service with no cache, ledger or exporter and no-op
// telemetry.
func NewService(loader *bundle.Loader, registry *ruleset.Registry) *Service {
	return &Service{
		loader:    loader,
		registry:  registry,
		telemetry: observability.Noop(),
		logger:    slog.Default().With("component", "adjudication"),
	}
}

// WithStrict disables the run-id ruleset fallback.
func (s *Service) WithStrict(strict bool) *Service {
	s.strict = strict
	return s
}

// WithCache enables read-through caching of outcomes.
func (s *Service) WithCache(c cache.Cache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

// WithLedger records every fresh outcome in l.
func (s *Service) WithLedger(l ledger.Ledger) *Service {
	s.ledger = l
	return s
}

// WithExporter writes every outcome to the artifact store.
func (s *Service) WithExporter(e *artifacts.Exporter) *Service {
	s.exporter = e
	return s
}

// WithTelemetry sets the span and metric provider.
func (s *Service) WithTelemetry(p *observability.Provider) *Service {
	if p != nil {
		s.telemetry = p
	}
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Loader returns the bundle loader.
func (s *Service) Loader() *bundle.Loader { return s.loader }

// Registry returns the ruleset registry.
func (s *Service) Registry() *ruleset.Registry { return s.registry }

// Adjudicate runs the pipeline for runID. Failures are *Error values.
func (s *Service) Adjudicate(ctx context.Context, runID string) (out *Outcome, err error) {
	ctx, done := s.telemetry.TrackOperation(ctx, "adjudicate", observability.AttrRunID.String(runID))
	defer func() {
		if err != nil {
			code := string(CodeOf(err))
			s.telemetry.RecordError(ctx, code)
			s.logger.WarnContext(ctx, "adjudication failed", "run_id", runID, "code", code, "error", err)
		}
		done(err)
	}()

	b, err := s.loader.Load(ctx, runID)
	if err != nil {
		return nil, Classify(runID, err)
	}
	sel, err := ruleset.Effective(b, s.strict)
	if err != nil {
		return nil, Classify(runID, err)
	}
	rs, err := s.registry.Get(sel.RulesetID)
	if err != nil {
		return nil, Classify(runID, err)
	}

	out = &Outcome{RunID: runID, Selection: sel, Fingerprint: b.Fingerprint(), Bundle: b}
	key := cache.Key(rs.ID(), runID, out.Fingerprint)
	if s.readCache(ctx, key, out) {
		s.telemetry.RecordCacheHit(ctx, rs.ID())
	} else {
		res, err := rs.Adjudicate(ctx, b)
		if err != nil {
			return nil, Classify(runID, err)
		}
		if err := ruleset.CheckClosure(res); err != nil {
			return nil, Classify(runID, err)
		}
		hashes, err := verdict.Compute(res)
		if err != nil {
			return nil, Classify(runID, err)
		}
		out.Result, out.Hashes = res, hashes
		s.writeCache(ctx, key, out)
		s.record(ctx, out)
	}

	s.export(ctx, out)
	s.telemetry.RecordAdjudication(ctx, rs.ID(), string(out.Result.ToplineVerdict))
	observability.AnnotateVerdict(ctx, string(out.Result.ToplineVerdict), out.Result.ReasonCode, out.Cached)
	s.logger.InfoContext(ctx, "run adjudicated",
		"run_id", runID,
		"ruleset", rs.ID(),
		"selection", sel.Source,
		"verdict", out.Result.ToplineVerdict,
		"reason_code", out.Result.ReasonCode,
		"cached", out.Cached,
	)
	return out, nil
}

func (s *Service) readCache(ctx context.Context, key string, out *Outcome) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		}
		return false
	}
	var c cached
	if err := json.Unmarshal(data, &c); err != nil || c.Result == nil {
		s.logger.WarnContext(ctx, "discarding corrupt cache entry", "key", key)
		return false
	}
	out.Result, out.Hashes, out.Cached = c.Result, c.Hashes, true
	return true
}

func (s *Service) writeCache(ctx context.Context, key string, out *Outcome) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cached{Result: out.Result, Hashes: out.Hashes})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// record appends a fresh outcome to the ledger. Cache hits are not
// recorded again.
func (s *Service) record(ctx context.Context, out *Outcome) {
	if s.ledger == nil {
		return
	}
	e, err := s.ledger.Append(ctx, ledger.Entry{
		RunID:          out.RunID,
		RulesetID:      out.Result.RulesetID,
		ToplineVerdict: string(out.Result.ToplineVerdict),
		ReasonCode:     out.Result.ReasonCode,
		VerdictHash:    out.Hashes.VerdictHash,
		PortableHash:   out.Hashes.PortableHash,
		VerdictScope:   out.Hashes.VerdictScope,
		PortableScope:  out.Hashes.PortableScope,
		ClauseCount:    len(out.Result.Clauses),
		EvaluatedAt:    out.Result.EvaluatedAt,
	})
	if err != nil {
		s.telemetry.RecordError(ctx, "LEDGER_APPEND_FAILED")
		s.logger.ErrorContext(ctx, "ledger append failed", "run_id", out.RunID, "error", err)
		return
	}
	out.LedgerSeq = e.Seq
}

func (s *Service) export(ctx context.Context, out *Outcome) {
	if s.exporter == nil {
		return
	}
	ref, err := s.exporter.Export(ctx, artifacts.TypeAdjudicationResult,
		artifacts.ResultKey(out.RunID, out.Result.RulesetID), out.Summary())
	if err != nil {
		s.telemetry.RecordError(ctx, "EXPORT_FAILED")
		s.logger.ErrorContext(ctx, "result export failed", "run_id", out.RunID, "error", err)
		return
	}
	out.Export = &ref
}
