// Package outbox implements the consumer-offset half of the transactional
// outbox: fetching unconsumed rows in seq order, tracking a durable
// per-consumer offset, and a notify-channel wakeup hint on top of polling.
package outbox

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Row is one materialized outbox entry read back for consumption.
type Row struct {
	Seq          int64
	Op           string
	EventID      string
	TopicID      string
	Kind         int
	CreatedAt    int64
	IngestedAt   int64
	EffectiveKey *string
	Reason       *string
}

// Outbox reads outbox rows and tracks consumer offsets.
type Outbox struct {
	db *sqlx.DB
}

// New wraps an existing pool.
func New(db *sqlx.DB) *Outbox {
	return &Outbox{db: db}
}

// FetchAfter returns up to limit rows with seq > lastSeq, ordered by seq asc.
func (o *Outbox) FetchAfter(ctx context.Context, lastSeq int64, limit int) ([]Row, error) {
	var rows []Row
	err := o.db.SelectContext(ctx, &rows, `
		SELECT seq, op, event_id, topic_id, kind, created_at,
		       extract(epoch FROM ingested_at)::bigint AS ingested_at,
		       effective_key, reason
		FROM relay_events_outbox
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, lastSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch after %d: %w", lastSeq, err)
	}
	return rows, nil
}

// LoadOffset returns the consumer's last committed seq, initializing to 0 on
// first call.
func (o *Outbox) LoadOffset(ctx context.Context, consumer string) (int64, error) {
	var lastSeq int64
	err := o.db.GetContext(ctx, &lastSeq, `
		SELECT last_seq FROM relay_consumer_offsets WHERE consumer = $1
	`, consumer)
	if err == nil {
		return lastSeq, nil
	}
	if _, insertErr := o.db.ExecContext(ctx, `
		INSERT INTO relay_consumer_offsets (consumer, last_seq) VALUES ($1, 0)
		ON CONFLICT (consumer) DO NOTHING
	`, consumer); insertErr != nil {
		return 0, fmt.Errorf("outbox: init offset for %s: %w", consumer, insertErr)
	}
	return 0, nil
}

// CommitOffset advances consumer's offset to lastSeq. Advancing backwards is
// rejected by the WHERE clause so a slow/retried commit never regresses.
func (o *Outbox) CommitOffset(ctx context.Context, consumer string, lastSeq int64) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO relay_consumer_offsets (consumer, last_seq) VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET last_seq = EXCLUDED.last_seq
		WHERE relay_consumer_offsets.last_seq < EXCLUDED.last_seq
	`, consumer, lastSeq)
	if err != nil {
		return fmt.Errorf("outbox: commit offset for %s: %w", consumer, err)
	}
	return nil
}

// Backlog returns max(seq) - lastSeq for the whole outbox, the metric named
// in the design notes.
func (o *Outbox) Backlog(ctx context.Context, lastSeq int64) (int64, error) {
	var maxSeq int64
	err := o.db.GetContext(ctx, &maxSeq, `SELECT COALESCE(MAX(seq), 0) FROM relay_events_outbox`)
	if err != nil {
		return 0, fmt.Errorf("outbox: backlog: %w", err)
	}
	return maxSeq - lastSeq, nil
}
