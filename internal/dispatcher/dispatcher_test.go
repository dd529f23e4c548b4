package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/handlers"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

// fakeQueue exercises handleOne's commit path against a real *sql.Tx (from
// an in-memory sqlite database) rather than a nil stand-in, since
// Rollback/Commit on a nil *sql.Tx panics.
type fakeQueue struct {
	mu        sync.Mutex
	db        *sql.DB
	pending   map[queue.Source][]queue.Envelope
	completed []string
	failed    map[string]int
	permFail  []string
}

func newFakeQueue(t *testing.T) *fakeQueue {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &fakeQueue{db: db, pending: map[queue.Source][]queue.Envelope{}, failed: map[string]int{}}
}

func (f *fakeQueue) Lease(ctx context.Context, source queue.Source, batchSize int, leaseDuration time.Duration) ([]queue.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	envs := f.pending[source]
	f.pending[source] = nil
	return envs, nil
}

func (f *fakeQueue) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, id string, cause error, maxAttempts int, retryDelay time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id]++
	return f.failed[id], nil
}

func (f *fakeQueue) FailPermanent(ctx context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permFail = append(f.permFail, id)
	return nil
}

func (f *fakeQueue) List(ctx context.Context, state queue.State, source queue.Source) ([]queue.Envelope, error) {
	return nil, nil
}

func (f *fakeQueue) BeginTx(ctx context.Context) (*sql.Tx, error) { return f.db.BeginTx(ctx, nil) }

func (f *fakeQueue) CompleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	return f.Complete(ctx, id)
}

type fakeSink struct {
	mu      sync.Mutex
	batches []canonical.Batch
}

func (f *fakeSink) UpsertBatch(ctx context.Context, batch canonical.Batch) error { return nil }
func (f *fakeSink) UpsertBatchTx(ctx context.Context, tx *sql.Tx, batch canonical.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return nil
}
func (f *fakeSink) MarkDeleted(ctx context.Context, source queue.Source, externalID string, deletedAt time.Time) error {
	return nil
}
func (f *fakeSink) RequiresAttachmentBytes() bool { return false }

type fakeHandler struct {
	result handlers.Result
	err    error
}

func (h fakeHandler) Handle(ctx context.Context, env queue.Envelope) (handlers.Result, error) {
	return h.result, h.err
}

func TestHandleOneCommitsBatchAndCompletesEnvelope(t *testing.T) {
	q := newFakeQueue(t)
	s := &fakeSink{}
	d := &Dispatcher{
		Queue: q,
		Sink:  s,
		Handlers: map[queue.Source]handlers.Handler{
			queue.SourceT: fakeHandler{result: handlers.Result{Batch: canonical.Batch{Tasks: []canonical.Task{{TaskID: "1"}}}}},
		},
	}
	d.defaults()

	env, _ := queue.Normalize(queue.Envelope{Source: queue.SourceT, Kind: queue.KindCreateOrUpdate, ExternalID: "1"})
	if err := d.handleOne(context.Background(), env); err != nil {
		t.Fatalf("handleOne failed: %v", err)
	}
	if len(s.batches) != 1 || len(s.batches[0].Tasks) != 1 {
		t.Fatalf("expected sink to receive one batch with one task, got %+v", s.batches)
	}
	if len(q.completed) != 1 || q.completed[0] != env.ID {
		t.Fatalf("expected envelope %s completed, got %v", env.ID, q.completed)
	}
}

func TestHandleOneRetriesOnTransientError(t *testing.T) {
	q := newFakeQueue(t)
	s := &fakeSink{}
	d := &Dispatcher{
		Queue: q,
		Sink:  s,
		Handlers: map[queue.Source]handlers.Handler{
			queue.SourceT: fakeHandler{err: cerrors.Transient(fmt.Errorf("boom"))},
		},
	}
	d.defaults()

	env, _ := queue.Normalize(queue.Envelope{Source: queue.SourceT, Kind: queue.KindCreateOrUpdate, ExternalID: "2"})
	_ = d.handleOne(context.Background(), env)
	if q.failed[env.ID] != 1 {
		t.Fatalf("expected one recorded failed attempt, got %d", q.failed[env.ID])
	}
	if len(q.permFail) != 0 {
		t.Fatalf("transient failure must not go straight to fail_permanent")
	}
}

func TestHandleOneFailsPermanentlyOnPermanentError(t *testing.T) {
	q := newFakeQueue(t)
	s := &fakeSink{}
	d := &Dispatcher{
		Queue: q,
		Sink:  s,
		Handlers: map[queue.Source]handlers.Handler{
			queue.SourceT: fakeHandler{err: cerrors.Permanent(fmt.Errorf("bad request"))},
		},
	}
	d.defaults()

	env, _ := queue.Normalize(queue.Envelope{Source: queue.SourceT, Kind: queue.KindCreateOrUpdate, ExternalID: "3"})
	_ = d.handleOne(context.Background(), env)
	if len(q.permFail) != 1 || q.permFail[0] != env.ID {
		t.Fatalf("expected envelope moved straight to fail_permanent, got %v", q.permFail)
	}
}

func TestHandleOneHandledFilterCompletesWithoutSinkWrite(t *testing.T) {
	q := newFakeQueue(t)
	s := &fakeSink{}
	d := &Dispatcher{
		Queue: q,
		Sink:  s,
		Handlers: map[queue.Source]handlers.Handler{
			queue.SourceT: fakeHandler{result: handlers.Result{Handled: true}},
		},
	}
	d.defaults()

	env, _ := queue.Normalize(queue.Envelope{Source: queue.SourceT, Kind: queue.KindCreateOrUpdate, ExternalID: "4"})
	if err := d.handleOne(context.Background(), env); err != nil {
		t.Fatalf("handleOne failed: %v", err)
	}
	if len(s.batches) != 0 {
		t.Fatalf("expected no sink write for a filtered/handled envelope")
	}
	if len(q.completed) != 1 {
		t.Fatalf("expected envelope still marked completed")
	}
}
