package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mdresser/chunkorch/pkg/security"
)

// DefaultPoolSize is the number of workers when no option is given.
const DefaultPoolSize = 4

// Task is one unit of work executed on a pool worker. The context is the
// pool's run context, not the context of whoever dispatched the round.
type Task func(ctx context.Context)

// PoolOption configures a Pool.
type PoolOption interface {
	applyPool(*Pool)
}

type poolOptionFunc func(*Pool)

func (f poolOptionFunc) applyPool(p *Pool) { f(p) }

// Size sets the number of pool workers. Values are clamped to
// [1, security.MaxConcurrency].
func Size(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.size = security.ClampConcurrency(n)
	})
}

// QueueDepth sets the task channel buffer.
func QueueDepth(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		if n > 0 {
			p.depth = n
		}
	})
}

// Logger sets the pool logger.
func Logger(l *slog.Logger) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	})
}

// Pool is a bounded worker pool consuming independent chunk tasks. Tasks
// within one round have no data dependency on each other and may execute on
// any worker, in any order.
type Pool struct {
	size   int
	depth  int
	logger *slog.Logger

	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	run     context.Context
}

// NewPool creates a pool with the given options.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		size:   DefaultPoolSize,
		depth:  256,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.applyPool(p)
	}
	p.tasks = make(chan Task, p.depth)
	return p
}

// Start launches the pool workers. It returns immediately; workers run
// until the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.run = ctx

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.workLoop(ctx)
	}
}

// Wait blocks until all workers have exited after context cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.runTask(ctx, task)
		}
	}
}

func (p *Pool) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic", "panic", r)
		}
	}()
	task(ctx)
}

// Dispatch submits a fan-out round: all tasks are queued to the pool and
// the finalize callback runs exactly once after every task has returned.
// Submission happens on a separate goroutine so callers are never blocked
// by a full task queue.
//
// On an unstarted pool tasks wait in the queue until Start; submission past
// the queue depth blocks the submission goroutine until then. When the run
// context is cancelled mid-submission the remaining tasks are dropped but
// still counted, so the barrier fires and the finalizer can observe their
// work undone.
func (p *Pool) Dispatch(tasks []Task, finalize func(ctx context.Context)) *Round {
	p.mu.Lock()
	ctx := p.run
	started := p.started
	p.mu.Unlock()
	if !started {
		ctx = context.Background()
	}

	r := newRound(len(tasks), finalize)
	if len(tasks) == 0 {
		go r.fire(ctx)
		return r
	}

	go func() {
		for _, task := range tasks {
			task := task
			wrapped := func(ctx context.Context) {
				defer r.taskDone(ctx)
				task(ctx)
			}
			select {
			case p.tasks <- wrapped:
			case <-ctx.Done():
				// Pool is shutting down; count the task as done so the
				// barrier still fires and the finalizer can observe the
				// unprocessed chunks.
				r.taskDone(ctx)
			}
		}
	}()
	return r
}
