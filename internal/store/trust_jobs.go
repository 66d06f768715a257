package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TrustJob is one row of relay_trust_jobs.
type TrustJob struct {
	JobID         int64
	JobType       string // report_based | communication_density
	SubjectPubkey *string
	Status        string
	Progress      int
}

// EnsureTrustSchedule inserts a schedule row for jobType if one doesn't
// already exist, seeding next_run_at to now + intervalSeconds.
func (s *Store) EnsureTrustSchedule(ctx context.Context, jobType string, intervalSeconds int, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_trust_schedules (job_type, interval_seconds, next_run_at, is_enabled)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (job_type) DO UPDATE SET interval_seconds = EXCLUDED.interval_seconds
	`, jobType, intervalSeconds, now+int64(intervalSeconds))
	if err != nil {
		return fmt.Errorf("store: ensure trust schedule: %w", err)
	}
	return nil
}

// ClaimDueSchedules advances every due, enabled schedule's next_run_at and
// returns the job types that became due this tick. A job type is skipped
// (schedule still advanced) if a job of that type is already pending or
// running, per the "no duplicate enqueue" rule.
func (s *Store) ClaimDueSchedules(ctx context.Context, now int64) (dueJobTypes []string, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: claim due schedules begin: %w", err)
	}
	defer tx.Rollback()

	var rows []struct {
		JobType         string `db:"job_type"`
		IntervalSeconds int    `db:"interval_seconds"`
	}
	err = tx.SelectContext(ctx, &rows, `
		SELECT job_type, interval_seconds FROM relay_trust_schedules
		WHERE is_enabled = TRUE AND next_run_at <= $1
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return nil, fmt.Errorf("store: claim due schedules select: %w", err)
	}

	for _, r := range rows {
		var pendingOrRunning bool
		if err := tx.GetContext(ctx, &pendingOrRunning, `
			SELECT EXISTS(SELECT 1 FROM relay_trust_jobs WHERE job_type = $1 AND status IN ('pending', 'running'))
		`, r.JobType); err != nil {
			return nil, fmt.Errorf("store: check pending trust job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE relay_trust_schedules SET next_run_at = $2 WHERE job_type = $1
		`, r.JobType, now+int64(r.IntervalSeconds)); err != nil {
			return nil, fmt.Errorf("store: advance trust schedule: %w", err)
		}
		if !pendingOrRunning {
			dueJobTypes = append(dueJobTypes, r.JobType)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim due schedules commit: %w", err)
	}
	return dueJobTypes, nil
}

// EnqueueTrustJob inserts a pending job. subject nil means "all observed
// subjects for this job type".
func (s *Store) EnqueueTrustJob(ctx context.Context, jobType string, subject *string) (jobID int64, err error) {
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO relay_trust_jobs (job_type, subject_pubkey, status, progress)
		VALUES ($1, $2, 'pending', 0)
		RETURNING job_id
	`, jobType, subject).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue trust job: %w", err)
	}
	return jobID, nil
}

// ClaimTrustJob claims one pending job with skip-locked semantics.
func (s *Store) ClaimTrustJob(ctx context.Context) (job TrustJob, ok bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return TrustJob{}, false, fmt.Errorf("store: claim trust job begin: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		JobID         int64   `db:"job_id"`
		JobType       string  `db:"job_type"`
		SubjectPubkey *string `db:"subject_pubkey"`
		Progress      int     `db:"progress"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT job_id, job_type, subject_pubkey, progress FROM relay_trust_jobs
		WHERE status = 'pending'
		ORDER BY job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return TrustJob{}, false, nil
	}
	if err != nil {
		return TrustJob{}, false, fmt.Errorf("store: claim trust job select: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE relay_trust_jobs SET status = 'running' WHERE job_id = $1`, row.JobID); err != nil {
		return TrustJob{}, false, fmt.Errorf("store: claim trust job update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return TrustJob{}, false, fmt.Errorf("store: claim trust job commit: %w", err)
	}

	return TrustJob{JobID: row.JobID, JobType: row.JobType, SubjectPubkey: row.SubjectPubkey, Status: "running", Progress: row.Progress}, true, nil
}

// UpdateTrustJobProgress records incremental progress on a running job.
func (s *Store) UpdateTrustJobProgress(ctx context.Context, jobID int64, progress int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relay_trust_jobs SET progress = $2 WHERE job_id = $1`, jobID, progress)
	if err != nil {
		return fmt.Errorf("store: update trust job progress: %w", err)
	}
	return nil
}

// CompleteTrustJob marks a job succeeded.
func (s *Store) CompleteTrustJob(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relay_trust_jobs SET status = 'succeeded' WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("store: complete trust job: %w", err)
	}
	return nil
}

// FailTrustJob marks a job failed.
func (s *Store) FailTrustJob(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relay_trust_jobs SET status = 'failed' WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("store: fail trust job: %w", err)
	}
	return nil
}
