package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitLLMRequestSkipsOnMaxRequestsPerDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM relay_llm_inflight WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT requests_count, estimated_cost FROM relay_llm_daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"requests_count", "estimated_cost"}).AddRow(10, 0.01))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_llm_inflight").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	reason, usage, err := st.AdmitLLMRequest(context.Background(), "req1", "1", "e1", "openai", 0.002, 10, 0, 2, "2026-07-31", 1000)
	require.NoError(t, err)
	assert.Equal(t, BudgetSkipMaxRequestsDay, reason)
	assert.Equal(t, 10, usage.RequestsToday)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitLLMRequestSkipsOnMaxCostPerDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM relay_llm_inflight WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT requests_count, estimated_cost FROM relay_llm_daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"requests_count", "estimated_cost"}).AddRow(1, 0.99))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_llm_inflight").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	reason, usage, err := st.AdmitLLMRequest(context.Background(), "req1", "1", "e1", "openai", 0.02, 0, 1.0, 2, "2026-07-31", 1000)
	require.NoError(t, err)
	assert.Equal(t, BudgetSkipMaxCostDay, reason)
	assert.Equal(t, 0.99, usage.CostToday)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitLLMRequestSkipsOnMaxConcurrency(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM relay_llm_inflight WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT requests_count, estimated_cost FROM relay_llm_daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"requests_count", "estimated_cost"}).AddRow(0, 0.0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_llm_inflight").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	reason, usage, err := st.AdmitLLMRequest(context.Background(), "req1", "1", "e1", "openai", 0.002, 0, 0, 2, "2026-07-31", 1000)
	require.NoError(t, err)
	assert.Equal(t, BudgetSkipMaxConcurrency, reason)
	assert.Equal(t, 2, usage.Inflight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitLLMRequestAdmitsAndRecordsInflight(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM relay_llm_inflight WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT requests_count, estimated_cost FROM relay_llm_daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"requests_count", "estimated_cost"}).AddRow(0, 0.0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM relay_llm_inflight").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO relay_llm_daily_usage").
		WithArgs("2026-07-31", 0.002).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_llm_inflight").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reason, _, err := st.AdmitLLMRequest(context.Background(), "req1", "1", "e1", "openai", 0.002, 10, 1.0, 2, "2026-07-31", 1000)
	require.NoError(t, err)
	assert.Equal(t, BudgetOK, reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
