// Package dispatcher leases envelopes, routes them to the source's
// handler, and atomically commits the resulting canonical batch together
// with the envelope's retirement. Leasing is serial per source
// (preserving lease order within a source) while different sources run
// concurrently, bounded by a shared worker pool.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/canonical"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/handlers"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/sink"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/telemetry"
)

// Queue is the subset of the queue store the dispatcher needs, including
// the transaction-sharing methods that don't appear on queue.Consumer.
type Queue interface {
	queue.Consumer
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CompleteTx(ctx context.Context, tx *sql.Tx, id string) error
}

// Sink is the subset of the sink the dispatcher needs for the shared-tx
// commit.
type Sink interface {
	sink.Sink
	UpsertBatchTx(ctx context.Context, tx *sql.Tx, batch canonical.Batch) error
}

// Dispatcher runs the lease -> handle -> commit loop per source.
type Dispatcher struct {
	Queue    Queue
	Sink     Sink
	Handlers map[queue.Source]handlers.Handler

	BatchSize     int
	LeaseDuration time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration

	Pool   *Pool
	Logger *telemetry.Logger
	Meter  telemetry.Meter

	idleDelay time.Duration
}

func (d *Dispatcher) logger() *telemetry.Logger {
	if d.Logger == nil {
		return telemetry.Nop
	}
	return d.Logger
}

func (d *Dispatcher) defaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = 10
	}
	if d.LeaseDuration <= 0 {
		// Must exceed the clients' total-call timeout so an envelope's
		// lease cannot expire underneath an upstream call that is still
		// legitimately in flight.
		d.LeaseDuration = 6 * time.Minute
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = queue.DefaultMaxAttempts
	}
	if d.RetryDelay <= 0 {
		d.RetryDelay = queue.DefaultRetryDelay
	}
	if d.idleDelay <= 0 {
		d.idleDelay = time.Second
	}
	if d.Pool == nil {
		d.Pool = NewPool(len(d.Handlers), 64, nil)
	}
	if d.Meter == nil {
		d.Meter = telemetry.NopMeter{}
	}
}

// Run starts the pool and one serial lease loop per configured source,
// blocking until ctx is cancelled, then draining in-flight work before
// returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.defaults()
	if err := d.Pool.Start(); err != nil {
		return fmt.Errorf("dispatcher: start pool: %w", err)
	}

	loopsDone := make(chan struct{})
	go func() {
		done := make(chan struct{}, len(d.Handlers))
		for source := range d.Handlers {
			src := source
			go func() {
				d.sourceLoop(ctx, src)
				done <- struct{}{}
			}()
		}
		for range d.Handlers {
			<-done
		}
		close(loopsDone)
	}()

	<-ctx.Done()
	<-loopsDone
	return d.Pool.Stop(context.Background(), true)
}

func (d *Dispatcher) sourceLoop(ctx context.Context, source queue.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		envs, err := d.Queue.Lease(ctx, source, d.BatchSize, d.LeaseDuration)
		if err != nil {
			d.logger().Warn("lease failed", map[string]any{"source": string(source), "error": err.Error()})
			sleep(ctx, d.idleDelay)
			continue
		}
		if len(envs) == 0 {
			sleep(ctx, d.idleDelay)
			continue
		}

		for _, env := range envs {
			done := make(chan struct{})
			envCopy := env
			submitErr := d.Pool.Submit(ctx, envCopy.ID, func(ctx context.Context) error {
				defer close(done)
				return d.handleOne(ctx, envCopy)
			})
			if submitErr != nil {
				d.logger().Warn("submit failed", map[string]any{"source": string(source), "id": envCopy.ID, "error": submitErr.Error()})
				continue
			}
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleOne runs a single leased envelope through its handler and commits
// the resulting canonical batch together with the envelope's retirement.
func (d *Dispatcher) handleOne(ctx context.Context, env queue.Envelope) error {
	handler, ok := d.Handlers[env.Source]
	if !ok {
		return d.Queue.FailPermanent(ctx, env.ID, fmt.Errorf("dispatcher: no handler for source %q", env.Source))
	}

	result, err := handler.Handle(ctx, env)
	if err != nil {
		return d.classifyAndFail(ctx, env, err)
	}

	if result.Handled && result.Batch.Empty() {
		if err := d.Queue.Complete(ctx, env.ID); err != nil {
			return err
		}
		d.Meter.IncCounter(ctx, "envelopes_completed", 1, map[string]string{"source": string(env.Source)})
		return nil
	}

	tx, err := d.Queue.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.Sink.UpsertBatchTx(ctx, tx, result.Batch); err != nil {
		_ = tx.Rollback()
		return d.classifyAndFail(ctx, env, cerrors.Wrap(cerrors.SinkUnavailable, err))
	}
	if err := d.Queue.CompleteTx(ctx, tx, env.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("dispatcher: complete tx: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dispatcher: commit: %w", err)
	}
	d.Meter.IncCounter(ctx, "envelopes_completed", 1, map[string]string{"source": string(env.Source)})
	return nil
}

// classifyAndFail retries transient failures within the attempt budget;
// permanent failures (and exhausted budgets) move straight to failed.
func (d *Dispatcher) classifyAndFail(ctx context.Context, env queue.Envelope, cause error) error {
	d.Meter.IncCounter(ctx, "envelopes_failed", 1, map[string]string{"source": string(env.Source)})
	if cerrors.IsPermanent(cause) {
		if err := d.Queue.FailPermanent(ctx, env.ID, cause); err != nil {
			return fmt.Errorf("dispatcher: fail_permanent: %w", err)
		}
		return cause
	}
	if _, err := d.Queue.Fail(ctx, env.ID, cause, d.MaxAttempts, d.RetryDelay); err != nil {
		return fmt.Errorf("dispatcher: fail: %w", err)
	}
	return cause
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
