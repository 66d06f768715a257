package moderation

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/ingest"
	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

func TestMatchesKeywordAndRegexPrecedence(t *testing.T) {
	rec := store.EventRecord{Kind: 1, Pubkey: "abc", Content: "buy cheap followers now"}
	cond := store.RuleCondition{Keywords: []string{"cheap followers"}}
	assert.True(t, Matches(cond, rec))

	cond2 := store.RuleCondition{Regex: `\bspam\b`}
	assert.False(t, Matches(cond2, rec))
}

func TestPrepareContentMasksPII(t *testing.T) {
	out := PrepareContent("contact me at a@b.com or http://x.test/y", 1000, true)
	assert.Contains(t, out, "[redacted-email]")
	assert.Contains(t, out, "[redacted-url]")
}

func TestEstimateCostRoundsUp(t *testing.T) {
	assert.Equal(t, 0.002, EstimateCost(1, 0.002))
	assert.Equal(t, 0.004, EstimateCost(1001, 0.002))
}

type noopIngester struct{ calls int }

func (n *noopIngester) Ingest(_ context.Context, _ []byte, _ ingest.Source, _ ingest.Context, _ config.RelayConfig) (ingest.Outcome, error) {
	n.calls++
	return ingest.Outcome{Accepted: true}, nil
}

func TestRunJobOnceSkipsDeletedEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	node, err := identity.Generate()
	require.NoError(t, err)
	ing := &noopIngester{}

	modCfg := config.ModerationConfig{
		Queue: config.QueueConfig{MaxAttempts: 5, RetryDelaySeconds: 30},
		Rules: config.RulesConfig{MaxLabelsPerEvent: 3},
	}
	w := New(st, node, ing, nil, nil, func() config.ModerationConfig { return modCfg }, func() config.RelayConfig { return config.RelayConfig{} })

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id, event_id, topic_id").WillReturnRows(
		sqlmock.NewRows([]string{"job_id", "event_id", "topic_id", "attempts", "max_attempts", "last_error"}).
			AddRow(int64(1), "e1", "kukuri:x", 0, 5, nil))
	mock.ExpectExec("UPDATE relay_moderation_jobs SET status = 'running'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT event_id, pubkey, kind").WillReturnRows(
		sqlmock.NewRows([]string{"event_id", "pubkey", "kind", "created_at", "content", "tags", "is_deleted", "is_current", "expires_at", "replaceable_key", "addressable_key"}).
			AddRow("e1", "p1", 1, int64(100), "hi", []byte("[]"), true, false, nil, nil, nil))

	mock.ExpectExec("UPDATE relay_moderation_jobs SET status = 'succeeded'").WillReturnResult(sqlmock.NewResult(0, 1))

	ran, err := w.RunJobOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, ing.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeAudit struct {
	actor, action, target string
	calls                 int
}

func (f *fakeAudit) Append(_ context.Context, actor, action, target string, _ map[string]any, _ string) error {
	f.actor, f.action, f.target = actor, action, target
	f.calls++
	return nil
}

type fakeLLM struct{ calls int }

func (f *fakeLLM) Classify(_ context.Context, _ ports.LlmClassifyRequest) (*ports.LlmClassifyResult, error) {
	f.calls++
	return nil, nil
}

func TestRunLLMPathAuditsSkipUnderSystemActor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	node, err := identity.Generate()
	require.NoError(t, err)
	audit := &fakeAudit{}
	llm := &fakeLLM{}

	modCfg := config.ModerationConfig{
		Queue: config.QueueConfig{MaxAttempts: 5, RetryDelaySeconds: 30},
		Rules: config.RulesConfig{MaxLabelsPerEvent: 0},
		LLM: config.LlmConfig{
			Enabled: true, Provider: "openai", MaxRequestsPerDay: 10, MaxCostPerDay: 1.0,
			MaxConcurrency: 1, CostPer1kChars: 0.002,
		},
	}
	w := New(st, node, nil, llm, audit, func() config.ModerationConfig { return modCfg }, func() config.RelayConfig { return config.RelayConfig{} })

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id, event_id, topic_id").WillReturnRows(
		sqlmock.NewRows([]string{"job_id", "event_id", "topic_id", "attempts", "max_attempts", "last_error"}).
			AddRow(int64(1), "e1", "kukuri:x", 0, 5, nil))
	mock.ExpectExec("UPDATE relay_moderation_jobs SET status = 'running'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT event_id, pubkey, kind").WillReturnRows(
		sqlmock.NewRows([]string{"event_id", "pubkey", "kind", "created_at", "content", "tags", "is_deleted", "is_current", "expires_at", "replaceable_key", "addressable_key"}).
			AddRow("e1", "p1", 1, int64(100), "spam content", []byte("[]"), false, true, nil, nil, nil))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_labels WHERE source_event_id = \\$1 AND source = 'rule'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// budget gate: already at max concurrency, so the request is skipped
	// before the LLM provider is ever called.
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM relay_llm_inflight WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT requests_count, estimated_cost FROM relay_llm_daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"requests_count", "estimated_cost"}).AddRow(0, 0.0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_llm_inflight").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectExec("UPDATE relay_moderation_jobs SET status = 'succeeded'").WillReturnResult(sqlmock.NewResult(0, 1))

	ran, err := w.RunJobOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, 1, audit.calls)
	assert.Equal(t, "system", audit.actor)
	assert.Equal(t, "llm_skip", audit.action)
	assert.Equal(t, "e1", audit.target)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildAndSignLabelEventVerifies(t *testing.T) {
	node, err := identity.Generate()
	require.NoError(t, err)
	ev, err := BuildAndSignLabelEvent(node, LabelParams{
		Target: "e1", TopicID: "kukuri:x", Label: "spam", ExpSeconds: 3600, CreatedAt: 1000,
	})
	require.NoError(t, err)
	assert.NoError(t, ev.Verify())
	assert.Equal(t, nostr.Tag{"label", "spam"}, ev.Tags[1])
}
