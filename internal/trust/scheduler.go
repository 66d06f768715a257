package trust

import "context"

// EnsureSchedules seeds both periodic job types' schedule rows if absent,
// idempotent across restarts.
func (w *Worker) EnsureSchedules(ctx context.Context) error {
	cfg := w.cfg()
	now := w.now()
	if err := w.store.EnsureTrustSchedule(ctx, ClaimReportBased, cfg.Jobs.ReportBasedIntervalSeconds, now); err != nil {
		return err
	}
	return w.store.EnsureTrustSchedule(ctx, ClaimCommunicationDensity, cfg.Jobs.CommunicationIntervalSeconds, now)
}

// Tick enqueues an unscoped job (subject nil, covering every observed
// subject) for each job type whose schedule came due this tick.
func (w *Worker) Tick(ctx context.Context) error {
	dueJobTypes, err := w.store.ClaimDueSchedules(ctx, w.now())
	if err != nil {
		return err
	}
	for _, jobType := range dueJobTypes {
		if _, err := w.store.EnqueueTrustJob(ctx, jobType, nil); err != nil {
			return err
		}
	}
	return nil
}
