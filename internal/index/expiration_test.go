package index

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

type failingDeleteSink struct{}

func (failingDeleteSink) EnsureIndex(context.Context, string, string, *ports.IndexSettings) error {
	return nil
}
func (failingDeleteSink) UpsertDocuments(context.Context, string, []ports.SearchDocument) error {
	return nil
}
func (failingDeleteSink) DeleteDocument(context.Context, string, string) error {
	return assert.AnError
}
func (failingDeleteSink) DeleteDocuments(context.Context, string, []string) error { return nil }
func (failingDeleteSink) DeleteAllDocuments(context.Context, string) error        { return nil }

func TestExpirationSweeperRunOnceDeletesAndRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	sink := &fakeSink{}
	sweeper := NewExpirationSweeper(st, sink)

	mock.ExpectQuery("SELECT e.event_id, t.topic_id").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "topic_id"}).
			AddRow("e1", "kukuri:a").
			AddRow("e2", "kukuri:b"))
	mock.ExpectExec("INSERT INTO relay_index_expired_sweeps").
		WithArgs("e1", "kukuri:a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_index_expired_sweeps").
		WithArgs("e2", "kukuri:b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	swept, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.Equal(t, []string{"e1", "e2"}, sink.deletes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirationSweeperRunOnceIsNoopOnceEverythingIsSwept(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	sink := &fakeSink{}
	sweeper := NewExpirationSweeper(st, sink)

	// the LEFT JOIN ... WHERE s.event_id IS NULL in ListExpiredUnswept is
	// what makes a second sweep over already-recorded pairs return nothing.
	mock.ExpectQuery("SELECT e.event_id, t.topic_id").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "topic_id"}))

	swept, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
	assert.Empty(t, sink.deletes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirationSweeperStopsOnSinkError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	sink := &failingDeleteSink{}
	sweeper := NewExpirationSweeper(st, sink)

	mock.ExpectQuery("SELECT e.event_id, t.topic_id").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "topic_id"}).
			AddRow("e1", "kukuri:a"))

	swept, err := sweeper.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, swept)
	assert.NoError(t, mock.ExpectationsWereMet())
}
