package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kukuri-network/community-node/internal/nostr"
)

// ApplyDeletion performs the NIP-09 side effects of a kind:5 deletion event:
// for each "e" tag, mark the target deleted (if owned by the same pubkey) or
// record a tombstone; for each "a" tag of the form kind:pubkey:d, delete the
// current addressable entry or record an addressable tombstone. It returns
// the delete outbox rows to append (not yet appended).
func (s *Store) ApplyDeletion(ctx context.Context, tx *sqlx.Tx, deletion *nostr.Event) ([]OutboxRow, error) {
	var rows []OutboxRow

	for _, targetID := range deletion.TagValues("e") {
		targetRows, err := s.applyEventDeletion(ctx, tx, deletion, targetID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, targetRows...)
	}

	for _, target := range deletion.TagValues("a") {
		targetRows, err := s.applyAddressableDeletion(ctx, tx, deletion, target)
		if err != nil {
			return nil, err
		}
		rows = append(rows, targetRows...)
	}

	return rows, nil
}

func (s *Store) applyEventDeletion(ctx context.Context, tx *sqlx.Tx, deletion *nostr.Event, targetID string) ([]OutboxRow, error) {
	var pubkey string
	var kind int
	var createdAt int64
	var replaceableKey, addressableKey *string

	err := tx.QueryRowxContext(ctx, `
		SELECT pubkey, kind, created_at, replaceable_key, addressable_key
		FROM relay_events WHERE event_id = $1
	`, targetID).Scan(&pubkey, &kind, &createdAt, &replaceableKey, &addressableKey)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.insertTombstoneEvent(ctx, tx, targetID, deletion.ID, deletion.CreatedAt); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup deletion target: %w", err)
	}
	if pubkey != deletion.Pubkey {
		return nil, nil
	}

	if err := s.markDeleted(ctx, tx, targetID); err != nil {
		return nil, err
	}
	if replaceableKey != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relay_replaceable_current WHERE replaceable_key = $1`, *replaceableKey); err != nil {
			return nil, fmt.Errorf("store: clear replaceable on delete: %w", err)
		}
	}
	if addressableKey != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relay_addressable_current WHERE addressable_key = $1`, *addressableKey); err != nil {
			return nil, fmt.Errorf("store: clear addressable on delete: %w", err)
		}
	}

	return s.deleteOutboxRowsForEvent(ctx, tx, targetID, kind, createdAt)
}

func (s *Store) applyAddressableDeletion(ctx context.Context, tx *sqlx.Tx, deletion *nostr.Event, target string) ([]OutboxRow, error) {
	parts := strings.SplitN(target, ":", 3)
	if len(parts) < 3 {
		return nil, nil
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, nil
	}
	pubkey := parts[1]
	if pubkey != deletion.Pubkey {
		return nil, nil
	}
	dTag := parts[2]
	key := fmt.Sprintf("%d:%s:%s", kind, pubkey, dTag)

	var eventID string
	err = tx.QueryRowxContext(ctx, `SELECT event_id FROM relay_addressable_current WHERE addressable_key = $1`, key).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.insertTombstoneAddressable(ctx, tx, key, deletion.ID, deletion.CreatedAt); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup addressable delete target: %w", err)
	}

	var eventKind int
	var createdAt int64
	if err := tx.QueryRowxContext(ctx, `SELECT kind, created_at FROM relay_events WHERE event_id = $1`, eventID).Scan(&eventKind, &createdAt); err != nil {
		return nil, fmt.Errorf("store: lookup addressable event: %w", err)
	}

	if err := s.markDeleted(ctx, tx, eventID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relay_addressable_current WHERE addressable_key = $1`, key); err != nil {
		return nil, fmt.Errorf("store: clear addressable: %w", err)
	}

	return s.deleteOutboxRowsForEvent(ctx, tx, eventID, eventKind, createdAt)
}

func (s *Store) deleteOutboxRowsForEvent(ctx context.Context, tx *sqlx.Tx, eventID string, kind int, createdAt int64) ([]OutboxRow, error) {
	topicRows, err := tx.QueryxContext(ctx, `SELECT topic_id FROM relay_event_topics WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: topics for delete: %w", err)
	}
	defer topicRows.Close()

	reason := "nip09"
	var rows []OutboxRow
	for topicRows.Next() {
		var topicID string
		if err := topicRows.Scan(&topicID); err != nil {
			return nil, fmt.Errorf("store: scan topic: %w", err)
		}
		rows = append(rows, OutboxRow{
			Op: "delete", EventID: eventID, TopicID: topicID,
			Kind: kind, CreatedAt: createdAt, Reason: &reason,
		})
	}
	return rows, nil
}

func (s *Store) insertTombstoneEvent(ctx context.Context, tx *sqlx.Tx, targetEventID, deletionEventID string, requestedAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relay_deletion_tombstones (target_event_id, deletion_event_id, requested_at)
		VALUES ($1, $2, $3)
	`, targetEventID, deletionEventID, requestedAt)
	if err != nil {
		return fmt.Errorf("store: insert tombstone: %w", err)
	}
	return nil
}

func (s *Store) insertTombstoneAddressable(ctx context.Context, tx *sqlx.Tx, targetKey, deletionEventID string, requestedAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relay_deletion_tombstones (target_addressable_key, deletion_event_id, requested_at)
		VALUES ($1, $2, $3)
	`, targetKey, deletionEventID, requestedAt)
	if err != nil {
		return fmt.Errorf("store: insert addressable tombstone: %w", err)
	}
	return nil
}
