package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Round is the fan-in barrier for one dispatched batch of chunk tasks.
// Correctness does not depend on completion order: each finishing task
// decrements the remaining counter atomically, and the decrement that
// reaches zero fires the finalize callback exactly once.
type Round struct {
	id        string
	remaining atomic.Int64
	finalize  func(ctx context.Context)
	once      sync.Once
	done      chan struct{}
}

func newRound(n int, finalize func(ctx context.Context)) *Round {
	r := &Round{
		id:       uuid.New().String(),
		finalize: finalize,
		done:     make(chan struct{}),
	}
	r.remaining.Store(int64(n))
	return r
}

// ID identifies the round, for logging.
func (r *Round) ID() string {
	return r.id
}

// Done is closed after the finalize callback has returned.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Remaining reports the number of tasks still outstanding.
func (r *Round) Remaining() int {
	return int(r.remaining.Load())
}

// taskDone records one finished task and fires the barrier when it was the
// last one.
func (r *Round) taskDone(ctx context.Context) {
	if r.remaining.Add(-1) == 0 {
		r.fire(ctx)
	}
}

func (r *Round) fire(ctx context.Context) {
	r.once.Do(func() {
		defer close(r.done)
		if r.finalize != nil {
			r.finalize(ctx)
		}
	})
}
