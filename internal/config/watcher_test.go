package config

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukuri-network/community-node/internal/apperrors"
)

func TestDefaultSnapshotIsServed(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := NewWatcher(db, time.Minute, nil)
	snap := w.Current()
	assert.True(t, snap.Index.Enabled)
	assert.Equal(t, 30, snap.Moderation.Queue.RetryDelaySeconds)
}

func TestPollOnceAppliesRowOverrides(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "version", "config_json"}).
		AddRow("index", int64(3), []byte(`{"enabled":false,"consumer":{"batch_size":50,"poll_interval_seconds":1}}`))
	mock.ExpectQuery("SELECT name, version, config_json FROM service_configs").WillReturnRows(rows)

	w := NewWatcher(db, time.Minute, nil)
	w.pollOnce(context.Background())

	snap := w.Current()
	assert.False(t, snap.Index.Enabled)
	assert.Equal(t, 50, snap.Index.Consumer.BatchSize)
	assert.Equal(t, int64(3), snap.Versions["index"])
}

func TestUpdateVersionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE service_configs").WillReturnResult(sqlmock.NewResult(0, 0))

	w := NewWatcher(db, time.Minute, nil)
	err = w.Update(context.Background(), "index", 1, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.VersionMismatch))
}
