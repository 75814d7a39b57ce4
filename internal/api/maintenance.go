package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/duckmesh/tableqa/internal/auth"
)

// opsJob is one on-demand maintenance pass exposed over HTTP.
type opsJob struct {
	name      string
	failCode  string
	failLabel string
	run       func(context.Context, MaintenanceRunner) (any, error)
}

var (
	retentionJob = opsJob{
		name:      "cache_retention",
		failCode:  "RETENTION_FAILED",
		failLabel: "cache retention run failed",
		run: func(ctx context.Context, m MaintenanceRunner) (any, error) {
			return m.RunRetentionOnce(ctx)
		},
	}
	integrityJob = opsJob{
		name:      "catalog_integrity",
		failCode:  "INTEGRITY_CHECK_FAILED",
		failLabel: "integrity check failed",
		run: func(ctx context.Context, m MaintenanceRunner) (any, error) {
			return m.RunIntegrityCheckOnce(ctx)
		},
	}
)

func handleRetentionRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runOpsJob(deps, retentionJob, w, r)
}

func handleIntegrityRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runOpsJob(deps, integrityJob, w, r)
}

// runOpsJob reports the partial summary alongside a failure so operators can
// see how far the pass got.
func runOpsJob(deps Dependencies, job opsJob, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if deps.Maintenance == nil {
		writeError(ctx, w, http.StatusNotImplemented, "MAINTENANCE_NOT_CONFIGURED", "maintenance service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleOpsAdmin); err != nil {
		writeError(ctx, w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	start := time.Now()
	summary, err := job.run(ctx, deps.Maintenance)
	if deps.Logger != nil {
		deps.Logger.InfoContext(ctx, "ops job finished",
			slog.String("job", job.name),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("ok", err == nil),
		)
	}
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, job.failCode, job.failLabel, true, map[string]any{
			"details": err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":     job.name,
		"status":  "completed",
		"summary": summary,
	})
}
