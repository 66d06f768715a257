package index

import (
	"context"
	"fmt"

	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
)

// Worker converts outbox rows into search-sink calls.
type Worker struct {
	store *store.Store
	sink  ports.SearchSink
	now   func() int64
}

// New builds an index Worker.
func New(st *store.Store, sink ports.SearchSink) *Worker {
	return &Worker{store: st, sink: sink, now: nostr.NowUnix}
}

// Process handles one outbox row, suitable as an outbox.ProcessFunc.
func (w *Worker) Process(ctx context.Context, row outbox.Row) error {
	if err := w.sink.EnsureIndex(ctx, indexUID(row.TopicID), "event_id", DefaultSettings); err != nil {
		return fmt.Errorf("index: ensure index: %w", err)
	}

	if row.Op == "delete" {
		return w.delete(ctx, row)
	}
	return w.upsert(ctx, row)
}

func (w *Worker) upsert(ctx context.Context, row outbox.Row) error {
	rec, ok, err := w.store.GetEvent(ctx, row.EventID)
	if err != nil {
		return err
	}
	if !ok || rec.IsDeleted || !rec.IsCurrent || (rec.ExpiresAt != nil && *rec.ExpiresAt <= w.now()) {
		return w.delete(ctx, row)
	}

	uid := indexUID(row.TopicID)
	doc := BuildDocument(rec, row.TopicID)
	if err := w.sink.UpsertDocuments(ctx, uid, []ports.SearchDocument{doc}); err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	if row.EffectiveKey == nil {
		return nil
	}
	prevEventID, found, err := w.store.IndexedDocForKey(ctx, row.TopicID, *row.EffectiveKey)
	if err != nil {
		return err
	}
	if found && prevEventID != rec.EventID {
		if err := w.sink.DeleteDocument(ctx, uid, prevEventID); err != nil {
			return fmt.Errorf("index: delete stale version: %w", err)
		}
	}
	return w.store.SetIndexedDocForKey(ctx, row.TopicID, *row.EffectiveKey, rec.EventID)
}

func (w *Worker) delete(ctx context.Context, row outbox.Row) error {
	uid := indexUID(row.TopicID)
	if err := w.sink.DeleteDocument(ctx, uid, row.EventID); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	if row.EffectiveKey != nil {
		if err := w.store.ClearIndexedDocForKey(ctx, row.TopicID, *row.EffectiveKey); err != nil {
			return err
		}
	}
	return nil
}

func indexUID(topicID string) string {
	return topicID
}
