package ingest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukuri-network/community-node/internal/apperrors"
	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/store"
)

func signedRaw(t *testing.T, kind int, createdAt int64, tags []nostr.Tag, content string) []byte {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()[1:]

	ev := &nostr.Event{
		Pubkey:    hex.EncodeToString(pub),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := ev.ComputeID()
	require.NoError(t, err)
	ev.ID = id
	idBytes, err := hex.DecodeString(id)
	require.NoError(t, err)
	sig, err := schnorr.Sign(priv, idBytes)
	require.NoError(t, err)
	ev.Sig = hex.EncodeToString(sig.Serialize())

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func relayConfig() config.RelayConfig {
	return config.RelayConfig{
		Auth:   config.RelayAuthConfig{Mode: "optional"},
		Limits: config.RelayLimitsConfig{MaxEventBytes: 65536, MaxTags: 2000},
	}
}

func TestIngestRejectsOversizeEvent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	e := New(st, nil, nil, nil, nil, nil)

	raw := signedRaw(t, 1, 100, []nostr.Tag{{"t", "general"}}, "hi")
	cfg := relayConfig()
	cfg.Limits.MaxEventBytes = 1

	out, err := e.Ingest(context.Background(), raw, SourceGossip, Context{}, cfg)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, apperrors.Invalid, out.RejectCode)
}

func TestIngestRejectsMissingTopic(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	e := New(st, nil, nil, nil, nil, nil)

	raw := signedRaw(t, 1, 100, nil, "hi")
	out, err := e.Ingest(context.Background(), raw, SourceGossip, Context{}, relayConfig())
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, apperrors.Invalid, out.RejectCode)
}

func TestIngestEphemeralShortCircuits(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	e := New(st, nil, nil, nil, nil, nil)

	raw := signedRaw(t, 20001, 100, []nostr.Tag{{"t", "general"}}, "ping")
	out, err := e.Ingest(context.Background(), raw, SourceWS, Context{}, relayConfig())
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.True(t, out.BroadcastGossip)
}

func TestIngestPersistsRegularEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	e := New(st, nil, nil, nil, nil, nil)

	raw := signedRaw(t, 1, 100, []nostr.Tag{{"t", "general"}}, "hi")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO relay_event_dedupe").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relay_event_topics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT tombstone_id, deletion_event_id").WillReturnRows(
		sqlmock.NewRows([]string{"tombstone_id", "deletion_event_id"}))
	mock.ExpectQuery("INSERT INTO relay_events_outbox").WillReturnRows(
		sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectCommit()

	out, err := e.Ingest(context.Background(), raw, SourceGossip, Context{}, relayConfig())
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.False(t, out.Duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
