// Package reconciler periodically sweeps expired sessions and resumes
// dataset synchronizations that were interrupted after a deposition was
// created.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/astronomiahub/hub/internal/dataset"
)

// batchSize bounds how many local datasets one pass inspects.
const batchSize = 100

// Sessions deactivates expired tokens.
type Sessions interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Datasets lists catalog datasets.
type Datasets interface {
	List(ctx context.Context, filter dataset.ListFilter) ([]dataset.Dataset, error)
}

// RetryFunc resumes synchronization of one dataset, inline or via the queue.
type RetryFunc func(ctx context.Context, datasetID int64) error

// Reconciler runs the periodic sweep.
type Reconciler struct {
	sessions Sessions
	datasets Datasets
	retry    RetryFunc
	interval time.Duration
}

// New creates a new Reconciler. A nil retry disables dataset resumption.
func New(sessions Sessions, datasets Datasets, retry RetryFunc, interval time.Duration) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		datasets: datasets,
		retry:    retry,
		interval: interval,
	}
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	slog.Info("reconciler started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepSessions(ctx)
	if r.retry != nil && ctx.Err() == nil {
		r.resumeDepositions(ctx)
	}
}

func (r *Reconciler) sweepSessions(ctx context.Context) {
	n, err := r.sessions.SweepExpired(ctx)
	if err != nil {
		slog.Error("reconciler: failed to sweep expired tokens", "error", err)
		return
	}
	if n > 0 {
		slog.Info("reconciler: deactivated expired tokens", "count", n)
	}
}

func (r *Reconciler) resumeDepositions(ctx context.Context) {
	local := false
	pending, err := r.datasets.List(ctx, dataset.ListFilter{Synchronized: &local, Limit: batchSize})
	if err != nil {
		slog.Error("reconciler: failed to list local datasets", "error", err)
		return
	}

	for _, d := range pending {
		if ctx.Err() != nil {
			return
		}
		// Datasets never sent to the archive wait for an explicit sync.
		if d.Metadata.DepositionID == nil {
			continue
		}
		if err := r.retry(ctx, d.ID); err != nil {
			slog.Warn("reconciler: failed to resume synchronization",
				"dataset_id", d.ID,
				"deposition_id", *d.Metadata.DepositionID,
				"error", err,
			)
			continue
		}
		slog.Info("reconciler: resumed synchronization", "dataset_id", d.ID)
	}
}
