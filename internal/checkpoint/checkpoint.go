// Package checkpoint implements the per-source high-water-mark store: a
// single row per source recording the latest upstream updated_at the
// poller has durably enqueued, plus an optional cursor for cursor-paged
// sources. It uses the same single-table, fixed-name, ON CONFLICT style
// as the rest of the relational store, scoped to one row per source.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

var ErrInvalid = errors.New("checkpoint: invalid")

// Checkpoint is the per-source high-water-mark.
type Checkpoint struct {
	Source        queue.Source
	LastEventTime time.Time
	LastCursor    string
}

// Store is the checkpoint contract: get/set, serialized per source.
type Store interface {
	Get(ctx context.Context, source queue.Source) (*Checkpoint, error)
	Set(ctx context.Context, ckpt Checkpoint) error
}

// PostgresStore backs checkpoints with the same database as the queue
// and sink. Set is a single conditional upsert, so concurrent writers for
// a source serialize on the row without an explicit lock.
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalid)
	}
	return &PostgresStore{db: db, table: "connector_checkpoints"}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  source          TEXT PRIMARY KEY,
  last_event_time TIMESTAMPTZ NOT NULL,
  last_cursor     TEXT NOT NULL DEFAULT ''
);`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("checkpoint: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, source queue.Source) (*Checkpoint, error) {
	stmt := fmt.Sprintf(`SELECT last_event_time, last_cursor FROM %s WHERE source = $1`, s.table)
	var ckpt Checkpoint
	ckpt.Source = source
	err := s.db.QueryRowContext(ctx, stmt, source).Scan(&ckpt.LastEventTime, &ckpt.LastCursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: get: %w", err)
	}
	return &ckpt, nil
}

// Set upserts the checkpoint. The CASE clamp keeps last_event_time
// monotonically non-decreasing even under concurrent callers for the same
// source, while last_cursor always takes the newest value (it tracks the
// in-flight pagination run, not the high-water mark).
func (s *PostgresStore) Set(ctx context.Context, ckpt Checkpoint) error {
	if !ckpt.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, ckpt.Source)
	}
	stmt := fmt.Sprintf(`
INSERT INTO %s (source, last_event_time, last_cursor)
VALUES ($1, $2, $3)
ON CONFLICT (source) DO UPDATE SET
  last_event_time = CASE
    WHEN EXCLUDED.last_event_time > %[1]s.last_event_time THEN EXCLUDED.last_event_time
    ELSE %[1]s.last_event_time
  END,
  last_cursor = EXCLUDED.last_cursor`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt, ckpt.Source, ckpt.LastEventTime.UTC(), ckpt.LastCursor); err != nil {
		return fmt.Errorf("checkpoint: set: %w", err)
	}
	return nil
}

// Advance loads the current checkpoint (if any), raises last_event_time to
// max(current, candidate), and persists — the operation the poller performs
// once a page has been fully enqueued.
func Advance(ctx context.Context, store Store, source queue.Source, candidate time.Time, cursor string) error {
	cur, err := store.Get(ctx, source)
	if err != nil {
		return err
	}
	next := candidate.UTC()
	if cur != nil && cur.LastEventTime.After(next) {
		next = cur.LastEventTime
	}
	return store.Set(ctx, Checkpoint{Source: source, LastEventTime: next, LastCursor: cursor})
}
