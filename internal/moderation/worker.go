// Package moderation implements the moderation worker: an outbox consumer
// that enqueues jobs, a job worker that runs the deterministic rule engine
// and the budget-gated LLM path, and label emission signed by the node.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/ingest"
	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

// EventIngester persists a node-authored event (a label) through the same
// pipeline external events take, so downstream consumers (including the
// trust engine) see it via the ordinary outbox.
type EventIngester interface {
	Ingest(ctx context.Context, raw []byte, source ingest.Source, ictx ingest.Context, relayCfg config.RelayConfig) (ingest.Outcome, error)
}

// Worker runs the moderation job pipeline.
type Worker struct {
	store    *store.Store
	node     *identity.Node
	ingester EventIngester
	llm      ports.LlmProvider
	audit    ports.AuditLog
	cfg      func() config.ModerationConfig
	relayCfg func() config.RelayConfig
	now      func() int64
}

// New builds a moderation Worker. llm and audit may be nil (LLM path and
// audit logging disabled).
func New(st *store.Store, node *identity.Node, ingester EventIngester, llm ports.LlmProvider, audit ports.AuditLog, cfg func() config.ModerationConfig, relayCfg func() config.RelayConfig) *Worker {
	return &Worker{store: st, node: node, ingester: ingester, llm: llm, audit: audit, cfg: cfg, relayCfg: relayCfg, now: nostr.NowUnix}
}

// EnqueueFromOutbox is the outbox consumer entry point: each upsert row
// becomes a pending moderation job, idempotently.
func (w *Worker) EnqueueFromOutbox(ctx context.Context, row outbox.Row) error {
	if row.Op != "upsert" {
		return nil
	}
	cfg := w.cfg()
	return w.store.UpsertModerationJob(ctx, row.EventID, row.TopicID, cfg.Queue.MaxAttempts, w.now())
}

// RunJobOnce claims and processes at most one pending job. ran is false if
// no job was due.
func (w *Worker) RunJobOnce(ctx context.Context) (ran bool, err error) {
	now := w.now()
	job, ok, err := w.store.ClaimModerationJob(ctx, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if procErr := w.process(ctx, job); procErr != nil {
		cfg := w.cfg()
		if job.Attempts < job.MaxAttempts {
			next := now + int64(cfg.Queue.RetryDelaySeconds)
			if err := w.store.RescheduleModerationJob(ctx, job.JobID, next, procErr.Error()); err != nil {
				return true, err
			}
			return true, nil
		}
		if err := w.store.FailModerationJob(ctx, job.JobID, procErr.Error()); err != nil {
			return true, err
		}
		return true, nil
	}

	return true, w.store.CompleteModerationJob(ctx, job.JobID)
}

func (w *Worker) process(ctx context.Context, job store.ModerationJob) error {
	rec, ok, err := w.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return err
	}
	now := w.now()
	if !ok || rec.IsDeleted || !rec.IsCurrent || (rec.ExpiresAt != nil && *rec.ExpiresAt <= now) {
		return nil
	}

	cfg := w.cfg()
	issued, err := w.store.RuleLabelCount(ctx, rec.EventID)
	if err != nil {
		return err
	}

	if issued < cfg.Rules.MaxLabelsPerEvent {
		rules, err := w.store.ListEnabledRules(ctx)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if issued >= cfg.Rules.MaxLabelsPerEvent {
				break
			}
			if !Matches(rule.Conditions, rec) {
				continue
			}
			ruleID := rule.RuleID
			if err := w.issueLabel(ctx, rec, job.TopicID, rule.Action, "rule", &ruleID); err != nil {
				return err
			}
			issued++
		}
	}

	if cfg.LLM.Enabled && cfg.LLM.Provider != "disabled" && w.llm != nil && rec.Content != "" {
		if err := w.runLLMPath(ctx, job, rec, cfg.LLM, now); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) issueLabel(ctx context.Context, rec store.EventRecord, topicID string, action store.RuleAction, source string, ruleID *int64) error {
	now := w.now()
	if source == "llm" {
		exists, err := w.store.HasActiveLabel(ctx, rec.EventID, source, action.Label, now)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}

	ev, err := BuildAndSignLabelEvent(w.node, LabelParams{
		Target: rec.EventID, TopicID: topicID, Label: action.Label, Confidence: action.Confidence,
		ExpSeconds: action.ExpSeconds, PolicyURL: action.PolicyURL, PolicyRef: action.PolicyRef, CreatedAt: now,
	})
	if err != nil {
		return err
	}
	rawJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("moderation: marshal label event: %w", err)
	}

	if w.ingester != nil {
		if _, err := w.ingester.Ingest(ctx, rawJSON, ingest.SourceGossip, ingest.Context{}, w.relayCfg()); err != nil {
			return fmt.Errorf("moderation: ingest label: %w", err)
		}
	}

	_, err = w.store.InsertLabel(ctx, store.LabelRecord{
		LabelID: ev.ID, SourceEventID: rec.EventID, RuleID: ruleID, Target: rec.EventID,
		TopicID: &topicID, Label: action.Label, Confidence: action.Confidence,
		Exp: now + int64(action.ExpSeconds), IssuerPubkey: w.node.Pubkey(), Source: source,
		LabelEventJSON: rawJSON, IssuedAt: now,
	})
	return err
}

func (w *Worker) runLLMPath(ctx context.Context, job store.ModerationJob, rec store.EventRecord, llmCfg config.LlmConfig, now int64) error {
	prepared := PrepareContent(rec.Content, llmCfg.TruncateChars, llmCfg.MaskPII)
	cost := EstimateCost(len(prepared), llmCfg.CostPer1kChars)
	day := time.Unix(now, 0).UTC().Format("2006-01-02")
	requestID := fmt.Sprintf("%d:%s", job.JobID, rec.EventID)

	reason, usage, err := w.store.AdmitLLMRequest(ctx, requestID, fmt.Sprintf("%d", job.JobID), rec.EventID,
		llmCfg.Provider, cost, llmCfg.MaxRequestsPerDay, llmCfg.MaxCostPerDay, llmCfg.MaxConcurrency, day, now)
	if err != nil {
		return err
	}
	if reason != store.BudgetOK {
		return w.auditSkip(ctx, rec.EventID, reason, usage)
	}

	result, callErr := w.llm.Classify(ctx, ports.LlmClassifyRequest{EventID: rec.EventID, Kind: rec.Kind, Content: prepared})
	if releaseErr := w.store.ReleaseLLMInflight(ctx, requestID); releaseErr != nil {
		return releaseErr
	}
	if callErr != nil {
		return fmt.Errorf("moderation: llm classify: %w", callErr)
	}
	if result == nil || result.Label == "" {
		return nil
	}

	return w.issueLabel(ctx, rec, job.TopicID, store.RuleAction{
		Label: result.Label, Confidence: result.Confidence, ExpSeconds: defaultLLMLabelExpSeconds,
	}, "llm", nil)
}

const defaultLLMLabelExpSeconds = 30 * 24 * 3600

// systemActor is the reserved audit-log actor for actions the worker takes
// on its own (budget gating, scheduled sweeps) rather than on behalf of a
// signed request from a subscriber. It is never a valid pubkey, so it can't
// collide with a real subscriber's identity.
const systemActor = "system"

func (w *Worker) auditSkip(ctx context.Context, eventID string, reason store.BudgetSkipReason, usage store.BudgetUsage) error {
	if w.audit == nil {
		return nil
	}
	diff := map[string]any{
		"reason":         string(reason),
		"requests_today": usage.RequestsToday,
		"cost_today":     usage.CostToday,
		"inflight":       usage.Inflight,
	}
	if err := w.audit.Append(ctx, systemActor, "llm_skip", eventID, diff, ""); err != nil {
		return fmt.Errorf("moderation: audit skip: %w", err)
	}
	return nil
}
