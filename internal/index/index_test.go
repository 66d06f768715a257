package index

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

type fakeSink struct {
	ensured []string
	upserts []ports.SearchDocument
	deletes []string
	purged  []string
}

func (f *fakeSink) EnsureIndex(_ context.Context, uid string, _ string, _ *ports.IndexSettings) error {
	f.ensured = append(f.ensured, uid)
	return nil
}
func (f *fakeSink) UpsertDocuments(_ context.Context, _ string, docs []ports.SearchDocument) error {
	f.upserts = append(f.upserts, docs...)
	return nil
}
func (f *fakeSink) DeleteDocument(_ context.Context, _ string, id string) error {
	f.deletes = append(f.deletes, id)
	return nil
}
func (f *fakeSink) DeleteDocuments(_ context.Context, _ string, ids []string) error {
	f.deletes = append(f.deletes, ids...)
	return nil
}
func (f *fakeSink) DeleteAllDocuments(_ context.Context, uid string) error {
	f.purged = append(f.purged, uid)
	return nil
}

func TestBuildDocumentPrefersTitleTag(t *testing.T) {
	rec := store.EventRecord{
		EventID: "e1", Pubkey: "p1", Kind: 1, CreatedAt: 100,
		Content: "body text",
		Tags:    []nostr.Tag{{"title", "My Title"}, {"t", "a"}, {"t", "a"}, {"t", "b"}},
	}
	doc := BuildDocument(rec, "kukuri:x")
	assert.Equal(t, "My Title", doc.Title)
	assert.Equal(t, []string{"a", "b"}, doc.Tags)
}

func TestWorkerUpsertDegradesToDeleteWhenNotCurrent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	sink := &fakeSink{}
	w := New(st, sink)

	mock.ExpectQuery("SELECT event_id, pubkey, kind").WillReturnRows(
		sqlmock.NewRows([]string{"event_id", "pubkey", "kind", "created_at", "content", "tags", "is_deleted", "is_current", "expires_at", "replaceable_key", "addressable_key"}).
			AddRow("e1", "p1", 1, int64(100), "hi", []byte("[]"), false, false, nil, nil, nil))

	err = w.Process(context.Background(), outbox.Row{Op: "upsert", EventID: "e1", TopicID: "kukuri:x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, sink.deletes)
	assert.Empty(t, sink.upserts)
}

func TestWorkerDeleteRemovesDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := store.New(sqlx.NewDb(db, "postgres"))
	sink := &fakeSink{}
	w := New(st, sink)
	_ = mock

	err = w.Process(context.Background(), outbox.Row{Op: "delete", EventID: "e9", TopicID: "kukuri:x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e9"}, sink.deletes)
}
