package poller

import (
	"context"
	"testing"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/checkpoint"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

type memCheckpoints struct {
	byCourse map[queue.Source]checkpoint.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{byCourse: map[queue.Source]checkpoint.Checkpoint{}}
}

func (m *memCheckpoints) Get(ctx context.Context, source queue.Source) (*checkpoint.Checkpoint, error) {
	c, ok := m.byCourse[source]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCheckpoints) Set(ctx context.Context, c checkpoint.Checkpoint) error {
	if existing, ok := m.byCourse[c.Source]; ok && c.LastEventTime.Before(existing.LastEventTime) {
		c.LastEventTime = existing.LastEventTime
	}
	m.byCourse[c.Source] = c
	return nil
}

type memProducer struct {
	enqueued []queue.Envelope
}

func (m *memProducer) Enqueue(ctx context.Context, env queue.Envelope) (queue.EnqueueOutcome, error) {
	m.enqueued = append(m.enqueued, env)
	return queue.Inserted, nil
}

func TestCycleEnqueuesAndAdvancesCheckpoint(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	list := func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		calls++
		return []Item{
			{ExternalID: "1", UpdatedAt: base},
			{ExternalID: "2", UpdatedAt: base.Add(time.Minute)},
		}, "", true, nil
	}

	ckpts := newMemCheckpoints()
	q := &memProducer{}
	p := &SourcePoller{Source: queue.SourceT, List: list, Queue: q, Checkpoints: ckpts, Overlap: 2 * time.Minute}

	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(q.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued envelopes, got %d", len(q.enqueued))
	}
	ckpt, _ := ckpts.Get(context.Background(), queue.SourceT)
	if ckpt == nil || !ckpt.LastEventTime.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected checkpoint advanced to latest item time, got %+v", ckpt)
	}
	if calls != 1 {
		t.Fatalf("expected one list call for an exhausted single page, got %d", calls)
	}
}

func TestCycleAppliesOverlapOnSubsequentRuns(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ckpts := newMemCheckpoints()
	_ = ckpts.Set(context.Background(), checkpoint.Checkpoint{Source: queue.SourceT, LastEventTime: base})

	var sinceSeen time.Time
	list := func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		sinceSeen = since
		return nil, "", true, nil
	}
	p := &SourcePoller{Source: queue.SourceT, List: list, Queue: &memProducer{}, Checkpoints: ckpts, Overlap: 90 * time.Second}
	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	want := base.Add(-90 * time.Second)
	if !sinceSeen.Equal(want) {
		t.Fatalf("expected since=%v (checkpoint minus overlap), got %v", want, sinceSeen)
	}
}

func TestCycleClearsPersistedCursorOnceExhausted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ckpts := newMemCheckpoints()
	// Simulate a prior cycle that aborted mid-pagination, leaving a cursor
	// behind.
	_ = ckpts.Set(context.Background(), checkpoint.Checkpoint{Source: queue.SourceT, LastEventTime: base, LastCursor: "3"})

	var cursorSeen string
	list := func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		cursorSeen = cursor
		return nil, "4", true, nil
	}
	p := &SourcePoller{Source: queue.SourceT, List: list, Queue: &memProducer{}, Checkpoints: ckpts}
	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if cursorSeen != "3" {
		t.Fatalf("expected cycle to resume from persisted cursor, got %q", cursorSeen)
	}
	ckpt, _ := ckpts.Get(context.Background(), queue.SourceT)
	if ckpt.LastCursor != "" {
		t.Fatalf("expected cursor cleared after exhausted cycle, got %q", ckpt.LastCursor)
	}
	if !ckpt.LastEventTime.Equal(base) {
		t.Fatalf("expected last_event_time unchanged with no items, got %v", ckpt.LastEventTime)
	}
}

func TestCycleAbortsWithoutAdvancingOnTransientError(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ckpts := newMemCheckpoints()
	_ = ckpts.Set(context.Background(), checkpoint.Checkpoint{Source: queue.SourceT, LastEventTime: base})

	list := func(ctx context.Context, since time.Time, cursor string) ([]Item, string, bool, error) {
		return nil, "", false, cerrors.Transient(context.DeadlineExceeded)
	}
	p := &SourcePoller{Source: queue.SourceT, List: list, Queue: &memProducer{}, Checkpoints: ckpts}
	if err := p.Cycle(context.Background()); err == nil {
		t.Fatal("expected error from transient failure")
	}
	ckpt, _ := ckpts.Get(context.Background(), queue.SourceT)
	if !ckpt.LastEventTime.Equal(base) {
		t.Fatalf("checkpoint must not advance on transient failure, got %v", ckpt.LastEventTime)
	}
}
