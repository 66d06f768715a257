package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kukuri-network/community-node/internal/apperrors"
	"github.com/sirupsen/logrus"
)

// row mirrors one service_configs table row.
type row struct {
	Name      string
	Version   int64
	ConfigRaw []byte
}

// Watcher polls the service_configs table and exposes the latest fully
// assembled Snapshot. Consumers read Current() and never mutate it; a new
// poll builds a brand new Snapshot and atomically swaps the pointer.
type Watcher struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *logrus.Logger

	current atomic.Pointer[Snapshot]
}

// NewWatcher constructs a Watcher seeded with DefaultSnapshot until the
// first successful poll completes.
func NewWatcher(db *sql.DB, pollInterval time.Duration, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := &Watcher{db: db, pollInterval: pollInterval, logger: logger}
	w.current.Store(DefaultSnapshot())
	return w
}

// Current returns the latest known Snapshot. Safe for concurrent use.
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

// Start polls until ctx is cancelled, sleeping pollInterval between
// attempts. A failed poll logs and keeps serving the previous snapshot.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	snap, err := w.load(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("config watcher: poll failed, keeping previous snapshot")
		return
	}
	w.current.Store(snap)
}

func (w *Watcher) load(ctx context.Context) (*Snapshot, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name, version, config_json FROM service_configs`)
	if err != nil {
		return nil, fmt.Errorf("config watcher: query: %w", err)
	}
	defer rows.Close()

	found := map[string]row{}
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Name, &r.Version, &r.ConfigRaw); err != nil {
			return nil, fmt.Errorf("config watcher: scan: %w", err)
		}
		found[r.Name] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := DefaultSnapshot()
	for name, r := range found {
		snap.Versions[name] = r.Version
		var target any
		switch name {
		case "relay":
			target = &snap.Relay
		case "index":
			target = &snap.Index
		case "moderation":
			target = &snap.Moderation
		case "trust":
			target = &snap.Trust
		default:
			continue
		}
		if err := json.Unmarshal(r.ConfigRaw, target); err != nil {
			return nil, fmt.Errorf("config watcher: unmarshal %s: %w", name, err)
		}
	}
	return snap, nil
}

// Update performs an optimistic-concurrency write: the caller must supply
// the version it last observed for name. A mismatch means someone else
// updated the row first and is reported as apperrors.VersionMismatch so the
// caller can reload and retry.
func (w *Watcher) Update(ctx context.Context, name string, expectedVersion int64, configJSON []byte) error {
	res, err := w.db.ExecContext(ctx, `
		UPDATE service_configs
		SET config_json = $1, version = version + 1, updated_at = now()
		WHERE name = $2 AND version = $3
	`, configJSON, name, expectedVersion)
	if err != nil {
		return fmt.Errorf("config watcher: update %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("config watcher: rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.VersionMismatchErr(name).WithDetails("expected_version", expectedVersion)
	}
	w.pollOnce(ctx)
	return nil
}
