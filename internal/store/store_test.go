package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerCreatedAtWins(t *testing.T) {
	assert.True(t, isNewer(200, "zzzz", 100, "aaaa"))
	assert.False(t, isNewer(100, "aaaa", 200, "zzzz"))
}

func TestIsNewerTiesBreakOnSmallerID(t *testing.T) {
	assert.True(t, isNewer(100, "aaaa", 100, "bbbb"))
	assert.False(t, isNewer(100, "bbbb", 100, "aaaa"))
	assert.False(t, isNewer(100, "aaaa", 100, "aaaa"))
}

func TestInsertDedupeFirstSeenIsFresh(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO relay_event_dedupe").
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	realTx, err := st.Begin(context.Background())
	require.NoError(t, err)
	fresh, err := st.InsertDedupe(context.Background(), realTx, "e1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDedupeRepeatBumpsSeenCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO relay_event_dedupe").
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE relay_event_dedupe SET last_seen_at = now\\(\\), seen_count = seen_count \\+ 1").
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	fresh, err := st.InsertDedupe(context.Background(), tx, "e1")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteReplaceableAcceptsNewerAndDemotesOld(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_id, created_at FROM relay_replaceable_current").
		WithArgs("p1:0").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "created_at"}).AddRow("old-id", int64(100)))
	mock.ExpectExec("UPDATE relay_events SET is_current = FALSE").
		WithArgs("old-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_replaceable_current").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	promoted, err := st.PromoteReplaceable(context.Background(), tx, "p1:0", 200, "new-id", "p1", 0)
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteReplaceableRejectsOlderCandidate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_id, created_at FROM relay_replaceable_current").
		WithArgs("p1:0").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "created_at"}).AddRow("current-id", int64(200)))
	// No demote/insert should be executed: the candidate loses.

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	promoted, err := st.PromoteReplaceable(context.Background(), tx, "p1:0", 100, "late-id", "p1", 0)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteReplaceableTieBreaksOnSmallerEventID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_id, created_at FROM relay_replaceable_current").
		WithArgs("p1:0").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "created_at"}).AddRow("zzzz", int64(100)))
	mock.ExpectExec("UPDATE relay_events SET is_current = FALSE").
		WithArgs("zzzz").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_replaceable_current").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	// same created_at, but "aaaa" < "zzzz" so it wins the tie-break.
	promoted, err := st.PromoteReplaceable(context.Background(), tx, "p1:0", 100, "aaaa", "p1", 0)
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteAddressableFirstInsertIsUnconditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_id, created_at FROM relay_addressable_current").
		WithArgs("30023:p1:d1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "created_at"}))
	mock.ExpectExec("INSERT INTO relay_addressable_current").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	promoted, err := st.PromoteAddressable(context.Background(), tx, "30023:p1:d1", 100, "e1", "p1", 30023, "d1")
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTombstonesForClearsReplaceableCurrentRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	replaceableKey := "p1:0"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tombstone_id, deletion_event_id FROM relay_deletion_tombstones").
		WillReturnRows(sqlmock.NewRows([]string{"tombstone_id", "deletion_event_id"}).AddRow(int64(1), "del1"))
	mock.ExpectQuery("SELECT pubkey FROM relay_events WHERE event_id = \\$1").
		WithArgs("del1").
		WillReturnRows(sqlmock.NewRows([]string{"pubkey"}).AddRow("p1"))
	mock.ExpectExec("UPDATE relay_events SET is_deleted = TRUE").
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM relay_replaceable_current WHERE replaceable_key = \\$1").
		WithArgs(replaceableKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE relay_deletion_tombstones SET applied_at = now\\(\\)").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	deleted, err := st.ApplyTombstonesFor(context.Background(), tx, "e1", &replaceableKey, nil, "p1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
