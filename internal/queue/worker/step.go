package worker

import (
	"context"
	"time"
)

// ProcessOne claims and runs at most one job, for the CLI's `worker run
// --once` mode and for tests. It returns false if nothing was available to
// claim.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	claimed, err := w.store.ClaimJobs(claimCtx, w.cfg.TenantID, w.cfg.WorkerID, 1)
	cancel()

	if err != nil {
		return false, err
	}
	if len(claimed) == 0 {
		return false, nil
	}

	w.metrics.IncClaimed()
	w.runOne(ctx, 0, claimed[0])
	return true, nil
}
