package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/adjudication"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/cache"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/config"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/observability"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset/adjudicators"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/store/ledger"
)

// app holds the configured service and the optional backends around it.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	service   *adjudication.Service
	telemetry *observability.Provider
	ledger    ledger.Ledger
	exporter  *artifacts.Exporter

	closers []func() error
}

// newApp loads configuration, installs the JSON logger on stderr and wires
// every backend the configuration enables. An unreachable cache is logged
// and skipped; every other backend failure is returned.
func newApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	reg, err := adjudicators.DefaultRegistry(nil)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: logger,
		service: adjudication.NewService(bundle.NewLoader(cfg.RunsRoot), reg).
			WithStrict(cfg.StrictRuleset).
			WithLogger(logger.With("component", "adjudication")),
	}

	tel, err := observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = tel
	a.service.WithTelemetry(tel)

	if cfg.DatabaseURL != "" {
		l, closeFn, err := ledger.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.ledger = l
		a.closers = append(a.closers, closeFn)
		a.service.WithLedger(l)
	}

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, "", 0)
		if err := rc.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "result cache unavailable", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
		} else {
			a.closers = append(a.closers, rc.Close)
			a.service.WithCache(rc, cfg.CacheTTL)
		}
	}

	if cfg.ExportResults {
		e, err := a.artifactExporter(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.service.WithExporter(e)
	}
	return a, nil
}

// artifactExporter opens the configured artifact store on first use.
func (a *app) artifactExporter(ctx context.Context) (*artifacts.Exporter, error) {
	if a.exporter != nil {
		return a.exporter, nil
	}
	store, err := artifacts.NewStore(ctx, a.cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.exporter = artifacts.NewExporter(store, adjudication.Producer)
	return a.exporter, nil
}

// Close releases backends in reverse order and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WarnContext(ctx, "close failed", "error", err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.WarnContext(ctx, "telemetry shutdown failed", "error", err)
		}
	}
}

// failure is the document written for a run that could not be adjudicated.
type failure struct {
	RunID        string `json:"run_id"`
	Error        bool   `json:"error"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func failureOf(runID string, err error) failure {
	return failure{
		RunID:        runID,
		Error:        true,
		ErrorCode:    string(adjudication.CodeOf(err)),
		ErrorMessage: err.Error(),
	}
}

// writeFailure writes the failure document of runID to stdout and returns
// exit code 1.
func writeFailure(stdout io.Writer, runID string, err error) int {
	_ = writeJSON(stdout, failureOf(runID, err))
	return 1
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeFile writes v as indented JSON to path.
func writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec // G306: reports are meant to be shared
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// setupFailed reports a configuration or backend error and returns exit
// code 2.
func setupFailed(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}
