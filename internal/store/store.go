// Package store implements transactional persistence for events, the
// dedupe index, current-version maps, deletion tombstones, and the outbox.
// Every operation here enforces the ordering and uniqueness invariants the
// ingest engine depends on; schema management (migrations) is a
// collaborator concern — this package assumes the tables it queries exist.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kukuri-network/community-node/internal/nostr"
)

// Store wraps a connection pool with the relay's transactional operations.
type Store struct {
	db *sqlx.DB
}

// New wraps an existing pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Begin starts a transaction used to scope one ingest's worth of writes.
func (s *Store) Begin(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, nil)
}

// OutboxRow is one append-only outbox entry, pre-append.
type OutboxRow struct {
	Op           string // "upsert" | "delete"
	EventID      string
	TopicID      string
	Kind         int
	CreatedAt    int64
	EffectiveKey *string
	Reason       *string
}

// InsertDedupe inserts a dedupe row for eventID. fresh is true the first
// time an event id is seen; on a repeat it bumps seen_count/last_seen_at
// and returns fresh=false.
func (s *Store) InsertDedupe(ctx context.Context, tx *sqlx.Tx, eventID string) (fresh bool, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO relay_event_dedupe (event_id, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, now(), now(), 1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("store: insert dedupe: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: dedupe rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_event_dedupe SET last_seen_at = now(), seen_count = seen_count + 1 WHERE event_id = $1
	`, eventID); err != nil {
		return false, fmt.Errorf("store: bump dedupe: %w", err)
	}
	return false, nil
}

// PromoteReplaceable applies the newer-wins/smaller-id-tiebreak ordering
// rule for a replaceable key. promoted is true if candidate became (or
// remains, on first insert) the current version.
func (s *Store) PromoteReplaceable(ctx context.Context, tx *sqlx.Tx, key string, createdAt int64, eventID, pubkey string, kind int) (promoted bool, err error) {
	var currentID string
	var currentCreatedAt int64
	row := tx.QueryRowxContext(ctx, `
		SELECT event_id, created_at FROM relay_replaceable_current WHERE replaceable_key = $1
	`, key)
	scanErr := row.Scan(&currentID, &currentCreatedAt)
	switch {
	case scanErr == nil:
		if !isNewer(createdAt, eventID, currentCreatedAt, currentID) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE relay_events SET is_current = FALSE WHERE event_id = $1`, currentID); err != nil {
			return false, fmt.Errorf("store: demote replaceable: %w", err)
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		// no current row yet; candidate becomes current unconditionally.
	default:
		return false, fmt.Errorf("store: lookup replaceable: %w", scanErr)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_replaceable_current (replaceable_key, event_id, pubkey, kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (replaceable_key) DO UPDATE SET
			event_id = EXCLUDED.event_id, pubkey = EXCLUDED.pubkey,
			kind = EXCLUDED.kind, created_at = EXCLUDED.created_at, updated_at = now()
	`, key, eventID, pubkey, kind, createdAt); err != nil {
		return false, fmt.Errorf("store: upsert replaceable current: %w", err)
	}
	return true, nil
}

// PromoteAddressable is PromoteReplaceable's counterpart for the
// (kind, pubkey, d) key space, additionally recording the d tag.
func (s *Store) PromoteAddressable(ctx context.Context, tx *sqlx.Tx, key string, createdAt int64, eventID, pubkey string, kind int, dTag string) (promoted bool, err error) {
	var currentID string
	var currentCreatedAt int64
	row := tx.QueryRowxContext(ctx, `
		SELECT event_id, created_at FROM relay_addressable_current WHERE addressable_key = $1
	`, key)
	scanErr := row.Scan(&currentID, &currentCreatedAt)
	switch {
	case scanErr == nil:
		if !isNewer(createdAt, eventID, currentCreatedAt, currentID) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE relay_events SET is_current = FALSE WHERE event_id = $1`, currentID); err != nil {
			return false, fmt.Errorf("store: demote addressable: %w", err)
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		// no current row yet; candidate becomes current unconditionally.
	default:
		return false, fmt.Errorf("store: lookup addressable: %w", scanErr)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_addressable_current (addressable_key, event_id, pubkey, kind, d_tag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (addressable_key) DO UPDATE SET
			event_id = EXCLUDED.event_id, pubkey = EXCLUDED.pubkey, kind = EXCLUDED.kind,
			d_tag = EXCLUDED.d_tag, created_at = EXCLUDED.created_at, updated_at = now()
	`, key, eventID, pubkey, kind, dTag, createdAt); err != nil {
		return false, fmt.Errorf("store: upsert addressable current: %w", err)
	}
	return true, nil
}

// isNewer is the total, deterministic, arrival-order-independent ordering
// rule: larger created_at wins; ties break by lexicographically smaller id.
func isNewer(newCreatedAt int64, newID string, currentCreatedAt int64, currentID string) bool {
	if newCreatedAt != currentCreatedAt {
		return newCreatedAt > currentCreatedAt
	}
	return newID < currentID
}

// WriteEvent persists the event row with its computed current/expiry state.
func (s *Store) WriteEvent(ctx context.Context, tx *sqlx.Tx, ev *nostr.Event, rawJSON []byte, isCurrent bool, replaceableKey, addressableKey *string, expiresAt *int64) error {
	tagsJSON, err := marshalTags(ev.Tags)
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relay_events
			(event_id, pubkey, kind, created_at, tags, content, sig, raw_json,
			 ingested_at, is_deleted, is_current, replaceable_key, addressable_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), FALSE, $9, $10, $11, $12)
	`, ev.ID, ev.Pubkey, ev.Kind, ev.CreatedAt, tagsJSON, ev.Content, ev.Sig, rawJSON,
		isCurrent, replaceableKey, addressableKey, expiresAt)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// AddTopic records an event->topic edge, idempotently.
func (s *Store) AddTopic(ctx context.Context, tx *sqlx.Tx, eventID, topicID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relay_event_topics (event_id, topic_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, eventID, topicID)
	if err != nil {
		return fmt.Errorf("store: add topic: %w", err)
	}
	return nil
}

// ApplyTombstonesFor applies any pending tombstones targeting eventID (by id
// or by addressableKey) whose deletion author matches pubkey. deleted is
// true if the event was marked deleted as a result. replaceableKey and
// addressableKey, when non-nil, are cleared from their current-version maps
// so a tombstone that resolves against a row promotion just wrote doesn't
// leave it current.
func (s *Store) ApplyTombstonesFor(ctx context.Context, tx *sqlx.Tx, eventID string, replaceableKey, addressableKey *string, pubkey string) (deleted bool, err error) {
	rows, err := tx.QueryxContext(ctx, `
		SELECT tombstone_id, deletion_event_id FROM relay_deletion_tombstones
		WHERE applied_at IS NULL AND (target_event_id = $1 OR ($2::text IS NOT NULL AND target_addressable_key = $2))
	`, eventID, addressableKey)
	if err != nil {
		return false, fmt.Errorf("store: query tombstones: %w", err)
	}
	type pending struct {
		TombstoneID     int64
		DeletionEventID string
	}
	var candidates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.TombstoneID, &p.DeletionEventID); err != nil {
			rows.Close()
			return false, fmt.Errorf("store: scan tombstone: %w", err)
		}
		candidates = append(candidates, p)
	}
	rows.Close()

	for _, c := range candidates {
		var deletionPubkey string
		err := tx.QueryRowxContext(ctx, `SELECT pubkey FROM relay_events WHERE event_id = $1`, c.DeletionEventID).Scan(&deletionPubkey)
		if err != nil {
			continue
		}
		if deletionPubkey != pubkey {
			continue
		}
		if err := s.markDeleted(ctx, tx, eventID); err != nil {
			return false, err
		}
		if replaceableKey != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM relay_replaceable_current WHERE replaceable_key = $1`, *replaceableKey); err != nil {
				return false, fmt.Errorf("store: clear replaceable on tombstone: %w", err)
			}
		}
		if addressableKey != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM relay_addressable_current WHERE addressable_key = $1`, *addressableKey); err != nil {
				return false, fmt.Errorf("store: clear addressable on tombstone: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE relay_deletion_tombstones SET applied_at = now() WHERE tombstone_id = $1
		`, c.TombstoneID); err != nil {
			return false, fmt.Errorf("store: mark tombstone applied: %w", err)
		}
		deleted = true
	}
	return deleted, nil
}

func (s *Store) markDeleted(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE relay_events SET is_deleted = TRUE, deleted_at = now(), is_current = FALSE WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("store: mark deleted: %w", err)
	}
	return nil
}

// AppendOutbox appends rows in order and returns the maximum seq assigned,
// or 0 if rows is empty.
func (s *Store) AppendOutbox(ctx context.Context, tx *sqlx.Tx, rows []OutboxRow) (maxSeq int64, err error) {
	for _, r := range rows {
		var seq int64
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO relay_events_outbox
				(op, event_id, topic_id, kind, created_at, ingested_at, effective_key, reason)
			VALUES ($1, $2, $3, $4, $5, now(), $6, $7)
			RETURNING seq
		`, r.Op, r.EventID, r.TopicID, r.Kind, r.CreatedAt, r.EffectiveKey, r.Reason).Scan(&seq)
		if err != nil {
			return 0, fmt.Errorf("store: append outbox: %w", err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}
