package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/metta-portal/metta-portal/internal/observability"
	"github.com/metta-portal/metta-portal/internal/session"
)

// SweepDeps carries what the session maintenance tasks need.
type SweepDeps struct {
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// HandleSessionSweep returns the handler for TaskSessionSweep. The sweep
// only ever marks rows inactive, so rerunning it after a crash or
// alongside request validation is safe.
func HandleSessionSweep(deps SweepDeps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		swept, err := deps.Sessions.SweepExpired(ctx)
		if err != nil {
			deps.Logger.Error("session sweep", slog.Any("error", err))
			return err
		}
		deps.Metrics.ObserveSweep(swept)
		if swept > 0 {
			deps.Logger.Info("session sweep", slog.Int64("expired", swept))
		}
		return nil
	}
}

// HandleSessionPurge returns the handler for TaskSessionPurge.
func HandleSessionPurge(deps SweepDeps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		purged, err := deps.Sessions.PurgeEnded(ctx)
		if err != nil {
			deps.Logger.Error("session purge", slog.Any("error", err))
			return err
		}
		if purged > 0 {
			deps.Logger.Info("session purge", slog.Int64("deleted", purged))
		}
		return nil
	}
}

// RunSweeper drives the sweep on an in-process ticker for single-binary
// deployments that do not run the asynq worker. It returns when the
// context is cancelled.
func RunSweeper(ctx context.Context, deps SweepDeps, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := deps.Sessions.SweepExpired(ctx)
			if err != nil {
				deps.Logger.Error("session sweep", slog.Any("error", err))
				continue
			}
			deps.Metrics.ObserveSweep(swept)
			if swept > 0 {
				deps.Logger.Info("session sweep", slog.Int64("expired", swept))
			}
		}
	}
}
