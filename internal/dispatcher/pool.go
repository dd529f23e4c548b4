package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one unit of work submitted to the Pool.
type Task func(ctx context.Context) error

// LoggerFn lets the pool emit structured events without importing
// telemetry directly.
type LoggerFn func(level, msg string, fields map[string]any)

var (
	ErrPoolStarted = errors.New("dispatcher: pool already started")
	ErrPoolStopped = errors.New("dispatcher: pool stopped")
)

type taskItem struct {
	name string
	fn   Task
}

// Stats reports the pool's live counters.
type Stats struct {
	Running   int
	Queued    int
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Pool is a bounded worker pool giving the dispatcher cross-source
// concurrency while keeping per-source processing serial in the loops
// that submit to it.
type Pool struct {
	concurrency int
	logger      LoggerFn

	started atomic.Bool
	stopped atomic.Bool

	qch chan taskItem
	wg  sync.WaitGroup

	cancelOnce sync.Once
	cancelFn   context.CancelFunc

	running   atomic.Int32
	queued    atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64

	stopMu sync.Mutex
}

func NewPool(concurrency, queueSize int, logger LoggerFn) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = func(string, string, map[string]any) {}
	}
	return &Pool{concurrency: concurrency, logger: logger, qch: make(chan taskItem, queueSize)}
}

func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrPoolStarted
	}
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	workerCtx, cancel := context.WithCancel(context.Background())
	p.cancelFn = cancel
	p.logger("info", "dispatcher_pool_start", map[string]any{"concurrency": p.concurrency})
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, i)
	}
	return nil
}

// Submit enqueues a task, blocking (ctx-aware) if the queue is full.
func (p *Pool) Submit(ctx context.Context, name string, t Task) error {
	if t == nil {
		p.rejected.Add(1)
		return errors.New("dispatcher: task is nil")
	}
	if !p.started.Load() || p.stopped.Load() {
		p.rejected.Add(1)
		return ErrPoolStopped
	}
	select {
	case p.qch <- taskItem{name: name, fn: t}:
		p.queued.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// Stop halts the pool. drain=true lets queued tasks finish; drain=false
// discards them and cancels in-flight work immediately.
func (p *Pool) Stop(ctx context.Context, drain bool) error {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	if !p.started.Load() {
		return ErrPoolStopped
	}
	if !p.stopped.CompareAndSwap(false, true) {
		return ErrPoolStopped
	}
	p.logger("info", "dispatcher_pool_stop", map[string]any{"drain": drain})

	if !drain {
	drainLoop:
		for {
			select {
			case <-p.qch:
				p.queued.Add(-1)
			default:
				break drainLoop
			}
		}
	}
	if drain {
		// Cancel the worker context only once queued and running tasks are
		// done, or once ctx expires.
	waitLoop:
		for p.queued.Load() > 0 || p.running.Load() > 0 {
			select {
			case <-ctx.Done():
				break waitLoop
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	p.cancelOnce.Do(func() {
		if p.cancelFn != nil {
			p.cancelFn()
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Running:   int(p.running.Load()),
		Queued:    int(p.queued.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.qch:
			p.running.Add(1)
			p.queued.Add(-1)
			err := item.fn(ctx)
			if err != nil {
				p.failed.Add(1)
				p.logger("error", "dispatcher_task_error", map[string]any{"worker_id": id, "name": item.name, "error": err.Error()})
			} else {
				p.completed.Add(1)
			}
			p.running.Add(-1)
		}
	}
}
