package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/artifacts"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/cache"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/config"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset/adjudicators"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/store/ledger"
)

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// runDoctorCmd implements `vlab doctor`: configuration and backend health.
// Optional backends that are not configured are reported as warnings.
//
// Exit codes:
//
//	0 = no check failed
//	1 = one or more checks failed
func runDoctorCmd(stdout, _ io.Writer) int {
	ctx := context.Background()
	var results []doctorCheck
	add := func(name, status, detail string) {
		results = append(results, doctorCheck{Name: name, Status: status, Detail: detail})
	}

	add("go_runtime", "ok", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))

	cfg, err := config.Load()
	if err != nil {
		add("config", "fail", err.Error())
		return finishDoctor(stdout, results)
	}
	add("config", "ok", "")

	if ids, err := bundle.NewLoader(cfg.RunsRoot).List(); err != nil {
		add("runs_root", "fail", err.Error())
	} else {
		add("runs_root", "ok", fmt.Sprintf("%s: %d runs", cfg.RunsRoot, len(ids)))
	}

	if reg, err := adjudicators.DefaultRegistry(nil); err != nil {
		add("rulesets", "fail", err.Error())
	} else {
		loadable := 0
		for _, id := range reg.IDs() {
			if _, err := reg.Get(id); err == nil {
				loadable++
			}
		}
		add("rulesets", "ok", fmt.Sprintf("%d registered, %d loadable", len(reg.IDs()), loadable))
	}

	if cfg.DatabaseURL == "" {
		add("ledger", "warn", "VLAB_DATABASE_URL not set (verdicts are not recorded)")
	} else if _, closeFn, err := ledger.Open(ctx, cfg.DatabaseURL); err != nil {
		add("ledger", "fail", err.Error())
	} else {
		_ = closeFn()
		add("ledger", "ok", "")
	}

	if cfg.RedisAddr == "" {
		add("cache", "warn", "VLAB_REDIS_ADDR not set (results are not cached)")
	} else {
		rc := cache.NewRedisCache(cfg.RedisAddr, "", 0)
		if err := rc.Ping(ctx); err != nil {
			add("cache", "fail", err.Error())
		} else {
			add("cache", "ok", cfg.RedisAddr)
		}
		_ = rc.Close()
	}

	if store, err := artifacts.NewStore(ctx, cfg.Artifacts); err != nil {
		add("artifacts", "fail", err.Error())
	} else {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		add("artifacts", "ok", string(cfg.Artifacts.Type))
	}

	if cfg.Telemetry.Enabled {
		add("telemetry", "ok", cfg.Telemetry.OTLPEndpoint)
	} else {
		add("telemetry", "warn", "disabled")
	}

	return finishDoctor(stdout, results)
}

func finishDoctor(w io.Writer, results []doctorCheck) int {
	_ = writeJSON(w, results)
	for _, r := range results {
		if r.Status == "fail" {
			return 1
		}
	}
	return 0
}
