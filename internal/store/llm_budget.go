package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// llmBudgetLockKey is the fixed advisory lock key serializing LLM budget
// accounting across every moderation worker process.
const llmBudgetLockKey = 0x6b756b7572696c6c // "kukurill" truncated to fit int64

// BudgetSkipReason names why a budget gate declined to admit a request.
type BudgetSkipReason string

const (
	BudgetOK                 BudgetSkipReason = ""
	BudgetSkipMaxRequestsDay BudgetSkipReason = "max_requests_per_day"
	BudgetSkipMaxCostDay     BudgetSkipReason = "max_cost_per_day"
	BudgetSkipMaxConcurrency BudgetSkipReason = "max_concurrency"
)

// BudgetUsage reports the live counters a skip decision was made against.
type BudgetUsage struct {
	RequestsToday int
	CostToday     float64
	Inflight      int
}

const inflightTTLSeconds = 60

// AdmitLLMRequest runs the full budget gate in one advisory-locked
// transaction: purge expired inflight rows, read today's usage, count
// inflight, and either admit (incrementing usage and inserting an inflight
// row) or skip with a reason. requestID must be unique per call.
func (s *Store) AdmitLLMRequest(ctx context.Context, requestID, jobID, eventID, provider string, cost float64, maxRequestsPerDay int, maxCostPerDay float64, maxConcurrency int, day string, now int64) (reason BudgetSkipReason, usage BudgetUsage, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: admit llm begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, llmBudgetLockKey); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: admit llm lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM relay_llm_inflight WHERE expires_at <= $1`, now); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: purge expired inflight: %w", err)
	}

	var requestsToday int
	var costToday float64
	err = tx.QueryRowxContext(ctx, `
		SELECT requests_count, estimated_cost FROM relay_llm_daily_usage WHERE usage_day = $1
	`, day).Scan(&requestsToday, &costToday)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", BudgetUsage{}, fmt.Errorf("store: read usage today: %w", err)
	}

	var inflight int
	if err := tx.GetContext(ctx, &inflight, `SELECT COUNT(*) FROM relay_llm_inflight`); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: count inflight: %w", err)
	}

	usage = BudgetUsage{RequestsToday: requestsToday, CostToday: costToday, Inflight: inflight}

	switch {
	case maxRequestsPerDay > 0 && requestsToday >= maxRequestsPerDay:
		return BudgetSkipMaxRequestsDay, usage, nil
	case maxCostPerDay > 0 && cost > 0 && costToday+cost > maxCostPerDay:
		return BudgetSkipMaxCostDay, usage, nil
	case inflight >= max(maxConcurrency, 1):
		return BudgetSkipMaxConcurrency, usage, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_llm_daily_usage (usage_day, requests_count, estimated_cost)
		VALUES ($1, 1, $2)
		ON CONFLICT (usage_day) DO UPDATE SET
			requests_count = relay_llm_daily_usage.requests_count + 1,
			estimated_cost = relay_llm_daily_usage.estimated_cost + EXCLUDED.estimated_cost
	`, day, cost); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: increment usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_llm_inflight (request_id, job_id, event_id, provider, estimated_cost, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, requestID, jobID, eventID, provider, cost, now, now+inflightTTLSeconds); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: insert inflight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", BudgetUsage{}, fmt.Errorf("store: admit llm commit: %w", err)
	}
	return BudgetOK, usage, nil
}

// ReleaseLLMInflight deletes the inflight row after the provider call
// completes, whether it succeeded or failed.
func (s *Store) ReleaseLLMInflight(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relay_llm_inflight WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("store: release llm inflight: %w", err)
	}
	return nil
}
