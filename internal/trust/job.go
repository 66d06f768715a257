package trust

import (
	"context"

	"github.com/kukuri-network/community-node/internal/store"
)

// RunJobOnce claims one pending trust job, recomputes scores for every
// subject in its set (each subject's store writes run without a shared
// transaction, with progress recorded after each subject), and marks the job
// complete. ran is false when there was no pending job to claim.
func (w *Worker) RunJobOnce(ctx context.Context) (ran bool, err error) {
	job, ok, err := w.store.ClaimTrustJob(ctx)
	if err != nil || !ok {
		return false, err
	}

	subjects, err := w.jobSubjects(ctx, job)
	if err != nil {
		_ = w.store.FailTrustJob(ctx, job.JobID)
		return true, err
	}

	recompute := w.RecomputeReportBased
	if job.JobType == ClaimCommunicationDensity {
		recompute = w.RecomputeCommunicationDensity
	}

	for i, subject := range subjects {
		if err := recompute(ctx, subject); err != nil {
			_ = w.store.FailTrustJob(ctx, job.JobID)
			return true, err
		}
		if err := w.store.UpdateTrustJobProgress(ctx, job.JobID, i+1); err != nil {
			return true, err
		}
	}

	if err := w.store.CompleteTrustJob(ctx, job.JobID); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) jobSubjects(ctx context.Context, job store.TrustJob) ([]string, error) {
	if job.SubjectPubkey != nil {
		return []string{*job.SubjectPubkey}, nil
	}
	if job.JobType == ClaimCommunicationDensity {
		return w.store.DistinctInteractionSubjects(ctx)
	}
	return w.store.DistinctReportSubjects(ctx)
}
