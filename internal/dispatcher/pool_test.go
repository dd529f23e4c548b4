package dispatcher

import (
	"context"
	"errors"
	"testing"
)

func TestPoolRunsTasksAndCountsOutcomes(t *testing.T) {
	p := NewPool(2, 4, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	okDone := make(chan struct{})
	if err := p.Submit(context.Background(), "ok", func(ctx context.Context) error {
		close(okDone)
		return nil
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-okDone

	failDone := make(chan struct{})
	if err := p.Submit(context.Background(), "boom", func(ctx context.Context) error {
		close(failDone)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-failDone

	// Stop waits for the workers to exit, which orders the counter updates
	// before the Stats read.
	if err := p.Stop(context.Background(), true); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	st := p.Stats()
	if st.Completed != 1 {
		t.Fatalf("expected 1 completed task, got %d", st.Completed)
	}
	if st.Failed != 1 {
		t.Fatalf("expected 1 failed task, got %d", st.Failed)
	}
	if st.Running != 0 || st.Queued != 0 {
		t.Fatalf("expected idle pool after stop, got %+v", st)
	}
}

func TestPoolRejectsSubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := p.Stop(context.Background(), true); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	err := p.Submit(context.Background(), "late", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
	if p.Stats().Rejected != 1 {
		t.Fatalf("expected rejected counter incremented, got %+v", p.Stats())
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	p := NewPool(1, 1, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = p.Stop(context.Background(), true) }()
	if err := p.Start(); !errors.Is(err, ErrPoolStarted) {
		t.Fatalf("expected ErrPoolStarted on second start, got %v", err)
	}
}

func TestPoolRejectsNilTask(t *testing.T) {
	p := NewPool(1, 1, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = p.Stop(context.Background(), true) }()
	if err := p.Submit(context.Background(), "nil", nil); err == nil {
		t.Fatal("expected error for nil task")
	}
}
