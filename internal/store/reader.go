package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kukuri-network/community-node/internal/nostr"
)

// EventRecord is a read-back projection of relay_events used by the
// workers that consume the outbox rather than the raw ingest path.
type EventRecord struct {
	EventID        string
	Pubkey         string
	Kind           int
	CreatedAt      int64
	Content        string
	Tags           []nostr.Tag
	IsDeleted      bool
	IsCurrent      bool
	ExpiresAt      *int64
	ReplaceableKey *string
	AddressableKey *string
}

type eventRow struct {
	EventID        string  `db:"event_id"`
	Pubkey         string  `db:"pubkey"`
	Kind           int     `db:"kind"`
	CreatedAt      int64   `db:"created_at"`
	Content        string  `db:"content"`
	Tags           []byte  `db:"tags"`
	IsDeleted      bool    `db:"is_deleted"`
	IsCurrent      bool    `db:"is_current"`
	ExpiresAt      *int64  `db:"expires_at"`
	ReplaceableKey *string `db:"replaceable_key"`
	AddressableKey *string `db:"addressable_key"`
}

func (r eventRow) toRecord() (EventRecord, error) {
	var tags []nostr.Tag
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return EventRecord{}, fmt.Errorf("store: unmarshal tags: %w", err)
		}
	}
	return EventRecord{
		EventID: r.EventID, Pubkey: r.Pubkey, Kind: r.Kind, CreatedAt: r.CreatedAt,
		Content: r.Content, Tags: tags, IsDeleted: r.IsDeleted, IsCurrent: r.IsCurrent,
		ExpiresAt: r.ExpiresAt, ReplaceableKey: r.ReplaceableKey, AddressableKey: r.AddressableKey,
	}, nil
}

// GetEvent loads one event by id. ok is false if no such event exists (a
// delete outbox row's target may already be gone by the time a consumer
// looks it up, which is not an error).
func (s *Store) GetEvent(ctx context.Context, eventID string) (rec EventRecord, ok bool, err error) {
	var row eventRow
	err = s.db.GetContext(ctx, &row, `
		SELECT event_id, pubkey, kind, created_at, content, tags,
		       is_deleted, is_current, expires_at, replaceable_key, addressable_key
		FROM relay_events WHERE event_id = $1
	`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, fmt.Errorf("store: get event: %w", err)
	}
	rec, err = row.toRecord()
	if err != nil {
		return EventRecord{}, false, err
	}
	return rec, true, nil
}

// ListCurrentForTopic pages through live (not deleted, current, not
// ephemeral-by-definition since ephemeral events are never persisted, not
// expired) documents for one topic, ordered (created_at asc, event_id asc)
// for stable chunked reindexing.
func (s *Store) ListCurrentForTopic(ctx context.Context, topicID string, afterCreatedAt int64, afterEventID string, now int64, limit int) ([]EventRecord, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT e.event_id, e.pubkey, e.kind, e.created_at, e.content, e.tags,
		       e.is_deleted, e.is_current, e.expires_at, e.replaceable_key, e.addressable_key
		FROM relay_events e
		JOIN relay_event_topics t ON t.event_id = e.event_id
		WHERE t.topic_id = $1 AND e.is_deleted = FALSE AND e.is_current = TRUE
		  AND (e.expires_at IS NULL OR e.expires_at > $5)
		  AND (e.created_at, e.event_id) > ($2, $3)
		ORDER BY e.created_at ASC, e.event_id ASC
		LIMIT $4
	`, topicID, afterCreatedAt, afterEventID, limit, now)
	if err != nil {
		return nil, fmt.Errorf("store: list current for topic: %w", err)
	}
	out := make([]EventRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// TopicsForEvent returns every topic an event is indexed under.
func (s *Store) TopicsForEvent(ctx context.Context, eventID string) ([]string, error) {
	var topics []string
	err := s.db.SelectContext(ctx, &topics, `SELECT topic_id FROM relay_event_topics WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: topics for event: %w", err)
	}
	return topics, nil
}

// AllObservedTopics returns the distinct set of topics the node has ever
// ingested an event for, used when a reindex job does not scope one topic.
func (s *Store) AllObservedTopics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.db.SelectContext(ctx, &topics, `SELECT DISTINCT topic_id FROM relay_event_topics`)
	if err != nil {
		return nil, fmt.Errorf("store: all observed topics: %w", err)
	}
	return topics, nil
}

// ListEnabledTopics returns the topics this node currently carries, backing
// the WS node-topic gate's read-mostly set.
func (s *Store) ListEnabledTopics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.db.SelectContext(ctx, &topics, `SELECT topic_id FROM relay_node_topics WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled topics: %w", err)
	}
	return topics, nil
}

// SetNodeTopicEnabled enables or disables one topic for this node.
func (s *Store) SetNodeTopicEnabled(ctx context.Context, topicID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_node_topics (topic_id, enabled)
		VALUES ($1, $2)
		ON CONFLICT (topic_id) DO UPDATE SET enabled = EXCLUDED.enabled`,
		topicID, enabled)
	if err != nil {
		return fmt.Errorf("store: set node topic enabled: %w", err)
	}
	return nil
}

// MaxOutboxSeq returns the current maximum outbox seq, used as a reindex
// job's cutoff so the job and the live consumer never race on the same rows.
func (s *Store) MaxOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM relay_events_outbox`)
	if err != nil {
		return 0, fmt.Errorf("store: max outbox seq: %w", err)
	}
	return seq, nil
}

// ListExpiredUnswept returns up to limit (event_id, topic_id) pairs whose
// expires_at has passed and that have no recorded sweep yet.
func (s *Store) ListExpiredUnswept(ctx context.Context, now int64, limit int) ([]struct {
	EventID string
	TopicID string
}, error) {
	var rows []struct {
		EventID string `db:"event_id"`
		TopicID string `db:"topic_id"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT e.event_id, t.topic_id
		FROM relay_events e
		JOIN relay_event_topics t ON t.event_id = e.event_id
		LEFT JOIN relay_index_expired_sweeps s ON s.event_id = e.event_id AND s.topic_id = t.topic_id
		WHERE e.expires_at IS NOT NULL AND e.expires_at <= $1 AND s.event_id IS NULL
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list expired unswept: %w", err)
	}
	out := make([]struct {
		EventID string
		TopicID string
	}, len(rows))
	for i, r := range rows {
		out[i].EventID = r.EventID
		out[i].TopicID = r.TopicID
	}
	return out, nil
}

// RecordExpiredSweep idempotently marks (eventID, topicID) as swept.
func (s *Store) RecordExpiredSweep(ctx context.Context, eventID, topicID string, expiredAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_index_expired_sweeps (event_id, topic_id, expired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, topic_id) DO NOTHING
	`, eventID, topicID, expiredAt)
	if err != nil {
		return fmt.Errorf("store: record expired sweep: %w", err)
	}
	return nil
}
