package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// memStore is a minimal in-memory Store used to test Advance's
// max(current, candidate) monotonicity logic without a database.
type memStore struct {
	byType map[queue.Source]Checkpoint
}

func newMemStore() *memStore { return &memStore{byType: map[queue.Source]Checkpoint{}} }

func (m *memStore) Get(ctx context.Context, source queue.Source) (*Checkpoint, error) {
	c, ok := m.byType[source]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) Set(ctx context.Context, c Checkpoint) error {
	m.byType[c.Source] = c
	return nil
}

func TestAdvanceSeedsFirstCheckpoint(t *testing.T) {
	store := newMemStore()
	ts := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	if err := Advance(context.Background(), store, queue.SourceT, ts, "cursor1"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	ckpt, _ := store.Get(context.Background(), queue.SourceT)
	if ckpt == nil || !ckpt.LastEventTime.Equal(ts) || ckpt.LastCursor != "cursor1" {
		t.Fatalf("unexpected checkpoint: %+v", ckpt)
	}
}

func TestAdvanceNeverRegresses(t *testing.T) {
	store := newMemStore()
	later := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	if err := Advance(context.Background(), store, queue.SourceT, later, ""); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if err := Advance(context.Background(), store, queue.SourceT, earlier, ""); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	ckpt, _ := store.Get(context.Background(), queue.SourceT)
	if !ckpt.LastEventTime.Equal(later) {
		t.Fatalf("expected checkpoint to stay at %v, regressed to %v", later, ckpt.LastEventTime)
	}
}

func TestAdvanceMovesForward(t *testing.T) {
	store := newMemStore()
	t0 := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	if err := Advance(context.Background(), store, queue.SourceT, t0, ""); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if err := Advance(context.Background(), store, queue.SourceT, t1, "c2"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	ckpt, _ := store.Get(context.Background(), queue.SourceT)
	if !ckpt.LastEventTime.Equal(t1) || ckpt.LastCursor != "c2" {
		t.Fatalf("expected checkpoint to advance to %v/c2, got %+v", t1, ckpt)
	}
}
