package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ModerationJob is one row of relay_moderation_jobs.
type ModerationJob struct {
	JobID       int64
	EventID     string
	TopicID     string
	Status      string
	Attempts    int
	MaxAttempts int
	NextRunAt   int64
	LastError   *string
}

// UpsertModerationJob idempotently enqueues a job for (eventID, topicID).
func (s *Store) UpsertModerationJob(ctx context.Context, eventID, topicID string, maxAttempts int, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_moderation_jobs (event_id, topic_id, status, attempts, max_attempts, next_run_at)
		VALUES ($1, $2, 'pending', 0, $3, $4)
		ON CONFLICT (event_id, topic_id) DO NOTHING
	`, eventID, topicID, maxAttempts, now)
	if err != nil {
		return fmt.Errorf("store: upsert moderation job: %w", err)
	}
	return nil
}

// ClaimModerationJob claims the oldest pending, due job with skip-locked
// semantics, marking it running and bumping attempts.
func (s *Store) ClaimModerationJob(ctx context.Context, now int64) (job ModerationJob, ok bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ModerationJob{}, false, fmt.Errorf("store: claim moderation job begin: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		JobID       int64   `db:"job_id"`
		EventID     string  `db:"event_id"`
		TopicID     string  `db:"topic_id"`
		Attempts    int     `db:"attempts"`
		MaxAttempts int     `db:"max_attempts"`
		LastError   *string `db:"last_error"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT job_id, event_id, topic_id, attempts, max_attempts, last_error
		FROM relay_moderation_jobs
		WHERE status = 'pending' AND next_run_at <= $1
		ORDER BY job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, now)
	if errors.Is(err, sql.ErrNoRows) {
		return ModerationJob{}, false, nil
	}
	if err != nil {
		return ModerationJob{}, false, fmt.Errorf("store: claim moderation job select: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_moderation_jobs SET status = 'running', attempts = attempts + 1 WHERE job_id = $1
	`, row.JobID); err != nil {
		return ModerationJob{}, false, fmt.Errorf("store: claim moderation job update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ModerationJob{}, false, fmt.Errorf("store: claim moderation job commit: %w", err)
	}

	return ModerationJob{
		JobID: row.JobID, EventID: row.EventID, TopicID: row.TopicID,
		Status: "running", Attempts: row.Attempts + 1, MaxAttempts: row.MaxAttempts, LastError: row.LastError,
	}, true, nil
}

// CompleteModerationJob marks a job succeeded.
func (s *Store) CompleteModerationJob(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relay_moderation_jobs SET status = 'succeeded' WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("store: complete moderation job: %w", err)
	}
	return nil
}

// RescheduleModerationJob returns a job to pending with a future next_run_at
// and a recorded error, for a retryable failure.
func (s *Store) RescheduleModerationJob(ctx context.Context, jobID int64, nextRunAt int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relay_moderation_jobs SET status = 'pending', next_run_at = $2, last_error = $3 WHERE job_id = $1
	`, jobID, nextRunAt, lastErr)
	if err != nil {
		return fmt.Errorf("store: reschedule moderation job: %w", err)
	}
	return nil
}

// FailModerationJob permanently marks a job failed after exhausting retries.
func (s *Store) FailModerationJob(ctx context.Context, jobID int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relay_moderation_jobs SET status = 'failed', last_error = $2 WHERE job_id = $1
	`, jobID, lastErr)
	if err != nil {
		return fmt.Errorf("store: fail moderation job: %w", err)
	}
	return nil
}

// RuleCondition is one rule's conjunction of optional predicates.
type RuleCondition struct {
	Kinds    []int               `json:"kinds,omitempty"`
	Authors  []string            `json:"authors,omitempty"`
	Keywords []string            `json:"keywords,omitempty"`
	Regex    string              `json:"regex,omitempty"`
	Tags     map[string][]string `json:"tags,omitempty"`
}

// RuleAction is the label a matched rule produces.
type RuleAction struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
	ExpSeconds int      `json:"exp_seconds"`
	PolicyURL  string   `json:"policy_url,omitempty"`
	PolicyRef  string   `json:"policy_ref,omitempty"`
}

// Rule is one row of relay_moderation_rules.
type Rule struct {
	RuleID     int64
	Priority   int
	Conditions RuleCondition
	Action     RuleAction
}

// ListEnabledRules loads enabled rules ordered (priority desc, updated_at desc).
func (s *Store) ListEnabledRules(ctx context.Context) ([]Rule, error) {
	var rows []struct {
		RuleID     int64  `db:"rule_id"`
		Priority   int    `db:"priority"`
		Conditions []byte `db:"conditions"`
		Action     []byte `db:"action"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT rule_id, priority, conditions, action FROM relay_moderation_rules
		WHERE is_enabled = TRUE
		ORDER BY priority DESC, updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled rules: %w", err)
	}
	out := make([]Rule, 0, len(rows))
	for _, r := range rows {
		var cond RuleCondition
		var action RuleAction
		if err := json.Unmarshal(r.Conditions, &cond); err != nil {
			return nil, fmt.Errorf("store: unmarshal rule conditions: %w", err)
		}
		if err := json.Unmarshal(r.Action, &action); err != nil {
			return nil, fmt.Errorf("store: unmarshal rule action: %w", err)
		}
		out = append(out, Rule{RuleID: r.RuleID, Priority: r.Priority, Conditions: cond, Action: action})
	}
	return out, nil
}

// LabelRecord is a label about to be (or already) persisted.
type LabelRecord struct {
	LabelID        string
	SourceEventID  string
	RuleID         *int64
	Target         string
	TopicID        *string
	Label          string
	Confidence     *float64
	Exp            int64
	IssuerPubkey   string
	Source         string // "rule" | "llm"
	LabelEventJSON []byte
	IssuedAt       int64
}

// InsertLabel inserts a label, silently yielding zero rows on a uniqueness
// conflict (within (source_event_id, rule_id) for rule labels, or the
// separate (source_event_id, source, label) unexpired-exp index for LLM
// labels — both constraints live on the table itself).
func (s *Store) InsertLabel(ctx context.Context, l LabelRecord) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_labels
			(label_id, source_event_id, rule_id, target, topic_id, label, confidence,
			 exp, issuer_pubkey, source, label_event_json, review_status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', $12)
		ON CONFLICT DO NOTHING
	`, l.LabelID, l.SourceEventID, l.RuleID, l.Target, l.TopicID, l.Label, l.Confidence,
		l.Exp, l.IssuerPubkey, l.Source, l.LabelEventJSON, l.IssuedAt)
	if err != nil {
		return false, fmt.Errorf("store: insert label: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert label rows affected: %w", err)
	}
	return affected > 0, nil
}

// HasActiveLabel reports whether an unexpired label already exists for
// (sourceEventID, source, label).
func (s *Store) HasActiveLabel(ctx context.Context, sourceEventID, source, label string, now int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM relay_labels
			WHERE source_event_id = $1 AND source = $2 AND label = $3
			  AND review_status = 'active' AND exp > $4
		)
	`, sourceEventID, source, label, now)
	if err != nil {
		return false, fmt.Errorf("store: has active label: %w", err)
	}
	return exists, nil
}

// RuleLabelCount counts labels already issued by rules for an event, used to
// enforce rules.max_labels_per_event.
func (s *Store) RuleLabelCount(ctx context.Context, sourceEventID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM relay_labels WHERE source_event_id = $1 AND source = 'rule'
	`, sourceEventID)
	if err != nil {
		return 0, fmt.Errorf("store: rule label count: %w", err)
	}
	return n, nil
}
