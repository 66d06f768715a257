package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IndexedDocForKey returns the event id currently indexed for
// (topicID, effectiveKey), if any. The index worker uses this to find and
// retire the stale document when a newer replaceable/addressable version
// is promoted.
func (s *Store) IndexedDocForKey(ctx context.Context, topicID, effectiveKey string) (eventID string, ok bool, err error) {
	err = s.db.GetContext(ctx, &eventID, `
		SELECT event_id FROM relay_index_current_docs WHERE topic_id = $1 AND effective_key = $2
	`, topicID, effectiveKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: indexed doc for key: %w", err)
	}
	return eventID, true, nil
}

// SetIndexedDocForKey records eventID as the current document for
// (topicID, effectiveKey).
func (s *Store) SetIndexedDocForKey(ctx context.Context, topicID, effectiveKey, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_index_current_docs (topic_id, effective_key, event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (topic_id, effective_key) DO UPDATE SET event_id = EXCLUDED.event_id
	`, topicID, effectiveKey, eventID)
	if err != nil {
		return fmt.Errorf("store: set indexed doc for key: %w", err)
	}
	return nil
}

// ClearIndexedDocForKey removes the (topicID, effectiveKey) mapping, used
// when the document is deleted outright.
func (s *Store) ClearIndexedDocForKey(ctx context.Context, topicID, effectiveKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM relay_index_current_docs WHERE topic_id = $1 AND effective_key = $2
	`, topicID, effectiveKey)
	if err != nil {
		return fmt.Errorf("store: clear indexed doc for key: %w", err)
	}
	return nil
}
