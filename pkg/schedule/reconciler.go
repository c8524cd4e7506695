package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywire/fabric/pkg/storage"
)

// Reconciler periodically logs rows stuck in "running" past threshold.
// It never mutates a row: the only recovery path is an operator
// intervening externally, per the Non-goals around crash recovery.
type Reconciler struct {
	store     *storage.Store
	schedule  Schedule
	threshold time.Duration
	log       *slog.Logger
}

// NewReconciler builds a Reconciler. A nil schedule defaults to hourly.
func NewReconciler(store *storage.Store, schedule Schedule, threshold time.Duration, log *slog.Logger) *Reconciler {
	if schedule == nil {
		schedule, _ = Cron("0 * * * *")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, schedule: schedule, threshold: threshold, log: log}
}

// Run blocks, firing the check at every scheduled tick until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.check(ctx)
		}
	}
}

func (r *Reconciler) check(ctx context.Context) {
	stale, err := r.store.StaleRunning(ctx, r.threshold)
	if err != nil {
		r.log.Error("stale-running check failed", "error", err)
		return
	}
	for _, row := range stale {
		r.log.Warn("job stuck in running",
			"id", row.ID, "target", row.Target, "time_started", row.TimeStarted)
	}
	if len(stale) > 0 {
		r.log.Info("stale-running reconciliation report", "count", len(stale))
	}
}
