package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresQueue is the durable queue backed by the same relational store
// as the sink: a thin wrapper over *sql.DB, fixed table name,
// EnsureSchema, wrapped sentinel errors, no ORM.
type PostgresQueue struct {
	db    *sql.DB
	table string
}

func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalid)
	}
	return &PostgresQueue{db: db, table: "connector_queue"}, nil
}

// EnsureSchema creates the queue table if absent. Idempotent.
func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id           TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  kind         TEXT NOT NULL,
  external_id  TEXT NOT NULL,
  payload      BYTEA NOT NULL,
  attempts     INTEGER NOT NULL DEFAULT 0,
  state        TEXT NOT NULL,
  enqueued_at  TIMESTAMPTZ NOT NULL,
  leased_until TIMESTAMPTZ,
  last_error   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_source_state_idx ON %[1]s (source, state, enqueued_at);
`, q.table)
	if _, err := q.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("queue: ensure schema: %w", err)
	}
	return nil
}

// Enqueue inserts an envelope, returning Duplicate without side effects
// if (source, id) already exists in a pending, leased, or failed state —
// a webhook retry or overlap re-delivery of the same logical event while
// it is still in flight (or awaiting manual requeue) is a true no-op.
// But because envelope identity is source+external_id+kind with no
// timestamp component, a completed envelope's id is exactly what the
// *next* genuine upstream update for that same entity will derive too;
// if completion were a permanent block, no entity could ever be
// reconciled more than once in its lifetime. So a completed row is
// reopened in place (payload/enqueued_at refreshed, attempts reset)
// rather than rejected, giving the appearance of a fresh envelope while
// keeping the row's id, and therefore its history, stable.
func (q *PostgresQueue) Enqueue(ctx context.Context, env Envelope) (EnqueueOutcome, error) {
	env, err := Normalize(env)
	if err != nil {
		return "", err
	}
	stmt := fmt.Sprintf(`
INSERT INTO %s (id, source, kind, external_id, payload, attempts, state, enqueued_at, last_error)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, '')
ON CONFLICT (id) DO UPDATE SET
  payload = EXCLUDED.payload,
  attempts = 0,
  state = EXCLUDED.state,
  enqueued_at = EXCLUDED.enqueued_at,
  leased_until = NULL,
  last_error = ''
WHERE %[1]s.state = $8`, q.table)
	res, err := q.db.ExecContext(ctx, stmt, env.ID, env.Source, env.Kind, env.ExternalID, env.Payload, StatePending, env.EnqueuedAt, StateCompleted)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// Lease claims up to batchSize envelopes for a source that are either
// pending or whose lease has expired, using FOR UPDATE SKIP LOCKED so
// concurrent workers never double-lease a row.
func (q *PostgresQueue) Lease(ctx context.Context, source Source, batchSize int, leaseDuration time.Duration) ([]Envelope, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: lease: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, q.leaseSelectStmt(), source, StatePending, StateLeased, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("queue: lease: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: lease: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("queue: lease: rows: %w", err)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	until := now.Add(leaseDuration)
	updateStmt := fmt.Sprintf(`UPDATE %s SET state = $1, leased_until = $2 WHERE id = ANY($3)`, q.table)
	if _, err := tx.ExecContext(ctx, updateStmt, StateLeased, until, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("queue: lease: update: %w", err)
	}

	selectFullStmt := fmt.Sprintf(`
SELECT id, source, kind, external_id, payload, attempts, state, enqueued_at, leased_until, last_error
FROM %s WHERE id = ANY($1) ORDER BY enqueued_at`, q.table)
	full, err := tx.QueryContext(ctx, selectFullStmt, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("queue: lease: reselect: %w", err)
	}
	defer full.Close()

	var out []Envelope
	for full.Next() {
		env, err := scanEnvelope(full)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := full.Err(); err != nil {
		return nil, fmt.Errorf("queue: lease: rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: lease: commit: %w", err)
	}
	return out, nil
}

// Complete retires an envelope.
func (q *PostgresQueue) Complete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`UPDATE %s SET state = $1, leased_until = NULL WHERE id = $2`, q.table)
	res, err := q.db.ExecContext(ctx, stmt, StateCompleted, id)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// CompleteTx is the same operation scoped to a caller-owned transaction,
// letting the dispatcher commit queue retire + sink upsert atomically.
func (q *PostgresQueue) CompleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	stmt := fmt.Sprintf(`UPDATE %s SET state = $1, leased_until = NULL WHERE id = $2`, q.table)
	res, err := tx.ExecContext(ctx, stmt, StateCompleted, id)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// BeginTx exposes the underlying *sql.DB transaction boundary to the
// dispatcher so it can share one transaction with the sink.
func (q *PostgresQueue) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return q.db.BeginTx(ctx, nil)
}

// Fail records a failed attempt. If the new attempt count reaches
// maxAttempts the envelope moves to failed; otherwise it stays leased
// with leased_until pushed retryDelay into the future, which makes it
// eligible for re-lease once the delay passes. A single conditional
// UPDATE keeps the transition atomic without an explicit row lock.
func (q *PostgresQueue) Fail(ctx context.Context, id string, cause error, maxAttempts int, retryDelay time.Duration) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	until := time.Now().UTC().Add(retryDelay)
	stmt := fmt.Sprintf(`
UPDATE %s SET
  attempts = attempts + 1,
  state = CASE WHEN attempts + 1 >= $1 THEN $2 ELSE $3 END,
  leased_until = CASE WHEN attempts + 1 >= $1 THEN NULL ELSE $4 END,
  last_error = $5
WHERE id = $6
RETURNING attempts`, q.table)
	var attempts int
	if err := q.db.QueryRowContext(ctx, stmt, maxAttempts, StateFailed, StateLeased, until, msg, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, fmt.Errorf("queue: fail: %w", err)
	}
	return attempts, nil
}

// FailPermanent moves an envelope to failed regardless of attempt
// budget.
func (q *PostgresQueue) FailPermanent(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	stmt := fmt.Sprintf(`UPDATE %s SET state = $1, leased_until = NULL, last_error = $2, attempts = attempts + 1 WHERE id = $3`, q.table)
	res, err := q.db.ExecContext(ctx, stmt, StateFailed, msg, id)
	if err != nil {
		return fmt.Errorf("queue: fail_permanent: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// Requeue returns a failed envelope to pending with a fresh attempt
// budget. This is the manual operator path for rows that exhausted their
// retries; rows in any other state are left untouched.
func (q *PostgresQueue) Requeue(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`UPDATE %s SET state = $1, attempts = 0, leased_until = NULL, last_error = '' WHERE id = $2 AND state = $3`, q.table)
	res, err := q.db.ExecContext(ctx, stmt, StatePending, id, StateFailed)
	if err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func (q *PostgresQueue) List(ctx context.Context, state State, source Source) ([]Envelope, error) {
	stmt := fmt.Sprintf(`
SELECT id, source, kind, external_id, payload, attempts, state, enqueued_at, leased_until, last_error
FROM %s WHERE state = $1 AND source = $2 ORDER BY enqueued_at`, q.table)
	rows, err := q.db.QueryContext(ctx, stmt, state, source)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()
	var out []Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// Depths feeds GET /health.
func (q *PostgresQueue) Depths(ctx context.Context) (map[Source]int64, int64, error) {
	stmt := fmt.Sprintf(`SELECT source, state, COUNT(*) FROM %s GROUP BY source, state`, q.table)
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, 0, fmt.Errorf("queue: depths: %w", err)
	}
	defer rows.Close()

	bySource := make(map[Source]int64)
	var failed int64
	for rows.Next() {
		var src, state string
		var n int64
		if err := rows.Scan(&src, &state, &n); err != nil {
			return nil, 0, fmt.Errorf("queue: depths: scan: %w", err)
		}
		if State(state) == StateFailed {
			failed += n
		}
		if State(state) == StatePending || State(state) == StateLeased {
			bySource[Source(src)] += n
		}
	}
	return bySource, failed, rows.Err()
}

// leaseSelectStmt is the claim query Lease runs inside its transaction.
// FOR UPDATE SKIP LOCKED is deliberately Postgres-only: it is what keeps
// concurrent workers from double-leasing a row, and it has no sqlite
// equivalent, so tests assert on the statement text instead.
func (q *PostgresQueue) leaseSelectStmt() string {
	return fmt.Sprintf(`
SELECT id FROM %s
WHERE source = $1
  AND (state = $2 OR (state = $3 AND leased_until < $4))
ORDER BY enqueued_at
LIMIT $5
FOR UPDATE SKIP LOCKED`, q.table)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(r scanner) (Envelope, error) {
	var env Envelope
	var source, kind, state string
	var leasedUntil sql.NullTime
	if err := r.Scan(&env.ID, &source, &kind, &env.ExternalID, &env.Payload, &env.Attempts, &state, &env.EnqueuedAt, &leasedUntil, &env.LastError); err != nil {
		return Envelope{}, fmt.Errorf("queue: scan: %w", err)
	}
	env.Source = Source(source)
	env.Kind = Kind(kind)
	env.State = State(state)
	if leasedUntil.Valid {
		t := leasedUntil.Time
		env.LeasedUntil = &t
	}
	return env, nil
}
