// Package sink implements idempotent batch upserts and soft-delete into
// the target relational store, using ON CONFLICT ... DO UPDATE and a
// canonical-JSON-for-arrays approach (reused here for
// tag_names/assignee_names/labels) against fixed, injection-safe table
// names. Upsert is "replace with the latest full snapshot" rather than
// field-by-field merge: the handler layer always hands the sink a
// freshly fetched complete object, so a full
// column overwrite on conflict already satisfies "fields absent in the
// canonical record are left untouched" — there are no absent fields in a
// full snapshot, only empty ones, and an empty field upstream genuinely
// means empty.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/checkpoint"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// Sink is the contract the dispatcher commits canonical batches
// through.
type Sink interface {
	UpsertBatch(ctx context.Context, batch canonical.Batch) error
	MarkDeleted(ctx context.Context, source queue.Source, externalID string, deletedAt time.Time) error
	// RequiresAttachmentBytes reports whether this sink needs attachment
	// bytes staged before upsert, rather than just a source_url.
	RequiresAttachmentBytes() bool
}

// PostgresSink is the default sink, sharing *sql.DB with the queue so
// the dispatcher can commit "upsert + retire envelope" in one
// transaction.
type PostgresSink struct {
	db               *sql.DB
	requiresBytes    bool
	tasksTable       string
	emailsTable      string
	docsTable        string
	attachmentsTable string
}

type Options struct {
	RequiresAttachmentBytes bool
}

func NewPostgresSink(db *sql.DB, opts Options) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("sink: db is nil")
	}
	return &PostgresSink{
		db:               db,
		requiresBytes:    opts.RequiresAttachmentBytes,
		tasksTable:       "canonical_tasks",
		emailsTable:      "canonical_emails",
		docsTable:        "canonical_docs",
		attachmentsTable: "canonical_attachments",
	}, nil
}

func (s *PostgresSink) RequiresAttachmentBytes() bool { return s.requiresBytes }

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  task_id        TEXT PRIMARY KEY,
  project_id     TEXT NOT NULL DEFAULT '',
  title          TEXT NOT NULL DEFAULT '',
  description    TEXT NOT NULL DEFAULT '',
  status         TEXT NOT NULL DEFAULT '',
  tag_ids_json   TEXT NOT NULL DEFAULT '[]',
  tag_names_json TEXT NOT NULL DEFAULT '[]',
  assignee_ids_json   TEXT NOT NULL DEFAULT '[]',
  assignee_names_json TEXT NOT NULL DEFAULT '[]',
  creator_id     TEXT NOT NULL DEFAULT '',
  creator_name   TEXT NOT NULL DEFAULT '',
  updater_id     TEXT NOT NULL DEFAULT '',
  updater_name   TEXT NOT NULL DEFAULT '',
  due_at         TIMESTAMPTZ,
  updated_at     TIMESTAMPTZ NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL,
  deleted        BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at     TIMESTAMPTZ
);`, s.tasksTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  email_id      TEXT PRIMARY KEY,
  thread_id     TEXT NOT NULL DEFAULT '',
  subject       TEXT NOT NULL DEFAULT '',
  from_address  TEXT NOT NULL DEFAULT '',
  to_json       TEXT NOT NULL DEFAULT '[]',
  cc_json       TEXT NOT NULL DEFAULT '[]',
  bcc_json      TEXT NOT NULL DEFAULT '[]',
  body_text     TEXT NOT NULL DEFAULT '',
  body_html     TEXT NOT NULL DEFAULT '',
  sent_at       TIMESTAMPTZ,
  received_at   TIMESTAMPTZ NOT NULL,
  labels_json   TEXT NOT NULL DEFAULT '[]',
  deleted       BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at    TIMESTAMPTZ
);`, s.emailsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  doc_id      TEXT PRIMARY KEY,
  title       TEXT NOT NULL DEFAULT '',
  body_text   TEXT NOT NULL DEFAULT '',
  mime_type   TEXT NOT NULL DEFAULT '',
  source_url  TEXT NOT NULL DEFAULT '',
  updated_at  TIMESTAMPTZ NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL,
  deleted     BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at  TIMESTAMPTZ
);`, s.docsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  email_id        TEXT NOT NULL,
  filename        TEXT NOT NULL,
  content_type    TEXT NOT NULL DEFAULT '',
  size_bytes      BIGINT NOT NULL DEFAULT 0,
  source_url      TEXT NOT NULL DEFAULT '',
  staged_bytes_key TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (email_id, filename)
);`, s.attachmentsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sink: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertBatch applies every task, email and doc record in batch in one
// transaction; it enforces no batch-size limit.
func (s *PostgresSink) UpsertBatch(ctx context.Context, batch canonical.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink: upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.upsertBatchTx(ctx, tx, batch); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertBatchTx is the same operation against a caller-owned transaction,
// used by the dispatcher to commit upserts and the queue's Complete in one
// atomic unit.
func (s *PostgresSink) UpsertBatchTx(ctx context.Context, tx *sql.Tx, batch canonical.Batch) error {
	return s.upsertBatchTx(ctx, tx, batch)
}

func (s *PostgresSink) upsertBatchTx(ctx context.Context, tx *sql.Tx, batch canonical.Batch) error {
	for _, t := range batch.Tasks {
		if err := s.upsertTask(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, e := range batch.Emails {
		if err := s.upsertEmail(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, d := range batch.Docs {
		if err := s.upsertDoc(ctx, tx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresSink) upsertTask(ctx context.Context, tx *sql.Tx, t canonical.Task) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (task_id, project_id, title, description, status, tag_ids_json, tag_names_json,
  assignee_ids_json, assignee_names_json, creator_id, creator_name, updater_id, updater_name,
  due_at, updated_at, created_at, deleted, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (task_id) DO UPDATE SET
  project_id = EXCLUDED.project_id,
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  status = EXCLUDED.status,
  tag_ids_json = EXCLUDED.tag_ids_json,
  tag_names_json = EXCLUDED.tag_names_json,
  assignee_ids_json = EXCLUDED.assignee_ids_json,
  assignee_names_json = EXCLUDED.assignee_names_json,
  creator_id = EXCLUDED.creator_id,
  creator_name = EXCLUDED.creator_name,
  updater_id = EXCLUDED.updater_id,
  updater_name = EXCLUDED.updater_name,
  due_at = EXCLUDED.due_at,
  updated_at = EXCLUDED.updated_at,
  deleted = EXCLUDED.deleted,
  deleted_at = EXCLUDED.deleted_at
WHERE %[1]s.updated_at <= EXCLUDED.updated_at OR %[1]s.updated_at IS NULL`, s.tasksTable)

	tagIDs, err := marshalArray(t.TagIDs)
	if err != nil {
		return err
	}
	tagNames, err := marshalArray(t.TagNames)
	if err != nil {
		return err
	}
	assigneeIDs, err := marshalArray(t.AssigneeIDs)
	if err != nil {
		return err
	}
	assigneeNames, err := marshalArray(t.AssigneeNames)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, stmt,
		t.TaskID, t.ProjectID, t.Title, t.Description, t.Status,
		tagIDs, tagNames, assigneeIDs, assigneeNames,
		t.CreatorID, t.CreatorName, t.UpdaterID, t.UpdaterName,
		nullableTime(t.DueAt), t.UpdatedAt.UTC(), t.CreatedAt.UTC(), t.Deleted, nullableTime(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("sink: upsert task %s: %w", t.TaskID, err)
	}
	return nil
}

func (s *PostgresSink) upsertEmail(ctx context.Context, tx *sql.Tx, e canonical.Email) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (email_id, thread_id, subject, from_address, to_json, cc_json, bcc_json,
  body_text, body_html, sent_at, received_at, labels_json, deleted, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (email_id) DO UPDATE SET
  thread_id = EXCLUDED.thread_id,
  subject = EXCLUDED.subject,
  from_address = EXCLUDED.from_address,
  to_json = EXCLUDED.to_json,
  cc_json = EXCLUDED.cc_json,
  bcc_json = EXCLUDED.bcc_json,
  body_text = EXCLUDED.body_text,
  body_html = EXCLUDED.body_html,
  sent_at = EXCLUDED.sent_at,
  received_at = EXCLUDED.received_at,
  labels_json = EXCLUDED.labels_json,
  deleted = EXCLUDED.deleted,
  deleted_at = EXCLUDED.deleted_at
WHERE %[1]s.received_at <= EXCLUDED.received_at OR %[1]s.received_at IS NULL`, s.emailsTable)

	toJSON, err := marshalArray(e.To)
	if err != nil {
		return err
	}
	ccJSON, err := marshalArray(e.Cc)
	if err != nil {
		return err
	}
	bccJSON, err := marshalArray(e.Bcc)
	if err != nil {
		return err
	}
	labelsJSON, err := marshalArray(e.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, stmt,
		e.EmailID, e.ThreadID, e.Subject, e.From, toJSON, ccJSON, bccJSON,
		e.BodyText, e.BodyHTML, nullableTime(e.SentAt), e.ReceivedAt.UTC(), labelsJSON, e.Deleted, nullableTime(e.DeletedAt))
	if err != nil {
		return fmt.Errorf("sink: upsert email %s: %w", e.EmailID, err)
	}
	for _, a := range e.Attachments {
		if err := s.upsertAttachment(ctx, tx, e.EmailID, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresSink) upsertAttachment(ctx context.Context, tx *sql.Tx, emailID string, a canonical.Attachment) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (email_id, filename, content_type, size_bytes, source_url, staged_bytes_key)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (email_id, filename) DO UPDATE SET
  content_type = EXCLUDED.content_type,
  size_bytes = EXCLUDED.size_bytes,
  source_url = EXCLUDED.source_url,
  staged_bytes_key = EXCLUDED.staged_bytes_key`, s.attachmentsTable)
	_, err := tx.ExecContext(ctx, stmt, emailID, a.Filename, a.ContentType, a.Size, a.SourceURL, a.StagedBytesKey)
	if err != nil {
		return fmt.Errorf("sink: upsert attachment %s/%s: %w", emailID, a.Filename, err)
	}
	return nil
}

func (s *PostgresSink) upsertDoc(ctx context.Context, tx *sql.Tx, d canonical.Doc) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (doc_id, title, body_text, mime_type, source_url, updated_at, created_at, deleted, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (doc_id) DO UPDATE SET
  title = EXCLUDED.title,
  body_text = EXCLUDED.body_text,
  mime_type = EXCLUDED.mime_type,
  source_url = EXCLUDED.source_url,
  updated_at = EXCLUDED.updated_at,
  deleted = EXCLUDED.deleted,
  deleted_at = EXCLUDED.deleted_at
WHERE %[1]s.updated_at <= EXCLUDED.updated_at OR %[1]s.updated_at IS NULL`, s.docsTable)
	_, err := tx.ExecContext(ctx, stmt, d.DocID, d.Title, d.BodyText, d.MimeType, d.SourceURL, d.UpdatedAt.UTC(), d.CreatedAt.UTC(), d.Deleted, nullableTime(d.DeletedAt))
	if err != nil {
		return fmt.Errorf("sink: upsert doc %s: %w", d.DocID, err)
	}
	return nil
}

// MarkDeleted flips the deleted flag and sets deleted_at on an existing row
// without touching its other columns. The handlers do not call it: they
// emit deletion records through UpsertBatch.
func (s *PostgresSink) MarkDeleted(ctx context.Context, source queue.Source, externalID string, deletedAt time.Time) error {
	var table, idCol string
	switch source {
	case queue.SourceT:
		table, idCol = s.tasksTable, "task_id"
	case queue.SourceM:
		table, idCol = s.emailsTable, "email_id"
	case queue.SourceC:
		table, idCol = s.docsTable, "doc_id"
	default:
		return fmt.Errorf("sink: mark_deleted: unknown source %q", source)
	}
	stmt := fmt.Sprintf(`UPDATE %s SET deleted = TRUE, deleted_at = $1 WHERE %s = $2`, table, idCol)
	_, err := s.db.ExecContext(ctx, stmt, deletedAt.UTC(), externalID)
	if err != nil {
		return fmt.Errorf("sink: mark_deleted %s/%s: %w", source, externalID, err)
	}
	return nil
}

// CheckpointStore re-exports the checkpoint contract so sink consumers
// need not import the checkpoint package separately.
type CheckpointStore = checkpoint.Store

func marshalArray(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sink: marshal array: %w", err)
	}
	return string(b), nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
