package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReindexJob is one row of relay_reindex_jobs.
type ReindexJob struct {
	JobID     int64
	TopicID   *string // nil means "all enabled node topics, else all observed topics"
	Status    string  // pending | running | succeeded | failed
	CutoffSeq *int64
	Progress  int
	Total     int
	LastError *string
}

// ClaimReindexJob claims one pending job with FOR UPDATE SKIP LOCKED
// semantics, stamps its cutoff_seq to the current max outbox seq, and marks
// it running. ok is false if no pending job is available.
func (s *Store) ClaimReindexJob(ctx context.Context) (job ReindexJob, ok bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ReindexJob{}, false, fmt.Errorf("store: claim reindex job begin: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		JobID   int64   `db:"job_id"`
		TopicID *string `db:"topic_id"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT job_id, topic_id FROM relay_reindex_jobs
		WHERE status = 'pending'
		ORDER BY job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return ReindexJob{}, false, nil
	}
	if err != nil {
		return ReindexJob{}, false, fmt.Errorf("store: claim reindex job select: %w", err)
	}

	var cutoff int64
	if err := tx.GetContext(ctx, &cutoff, `SELECT COALESCE(MAX(seq), 0) FROM relay_events_outbox`); err != nil {
		return ReindexJob{}, false, fmt.Errorf("store: claim reindex job cutoff: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_reindex_jobs SET status = 'running', cutoff_seq = $2 WHERE job_id = $1
	`, row.JobID, cutoff); err != nil {
		return ReindexJob{}, false, fmt.Errorf("store: claim reindex job update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ReindexJob{}, false, fmt.Errorf("store: claim reindex job commit: %w", err)
	}

	return ReindexJob{JobID: row.JobID, TopicID: row.TopicID, Status: "running", CutoffSeq: &cutoff}, true, nil
}

// UpdateReindexProgress records incremental progress on a running job.
func (s *Store) UpdateReindexProgress(ctx context.Context, jobID int64, progress, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relay_reindex_jobs SET progress = $2, total = $3 WHERE job_id = $1
	`, jobID, progress, total)
	if err != nil {
		return fmt.Errorf("store: update reindex progress: %w", err)
	}
	return nil
}

// CompleteReindexJob marks a job succeeded and advances the index consumer
// offset to the job's cutoff_seq, guarded the same way a normal commit is so
// it never regresses past work the live consumer already did.
func (s *Store) CompleteReindexJob(ctx context.Context, jobID int64, consumer string, cutoffSeq int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: complete reindex job begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE relay_reindex_jobs SET status = 'succeeded' WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("store: complete reindex job update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_consumer_offsets (consumer, last_seq) VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET last_seq = EXCLUDED.last_seq
		WHERE relay_consumer_offsets.last_seq < EXCLUDED.last_seq
	`, consumer, cutoffSeq); err != nil {
		return fmt.Errorf("store: complete reindex job offset: %w", err)
	}
	return tx.Commit()
}

// FailReindexJob marks a job failed with the given error string; no offset
// movement happens.
func (s *Store) FailReindexJob(ctx context.Context, jobID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relay_reindex_jobs SET status = 'failed', last_error = $2 WHERE job_id = $1
	`, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("store: fail reindex job: %w", err)
	}
	return nil
}
