package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/mdresser/chunkorch/pkg/core"
)

// DefaultGrace is how long a chunk may sit in processing before it is
// presumed orphaned by a crashed worker.
const DefaultGrace = 10 * time.Minute

// DefaultInterval is the default sweep cadence.
const DefaultInterval = time.Minute

// Reconciler re-evaluates a job after its stale chunks were failed. The
// engine implements it.
type Reconciler interface {
	ReconcileJob(ctx context.Context, jobID string)
}

// Option configures a Sweeper.
type Option interface {
	applySweeper(*Sweeper)
}

type optionFunc func(*Sweeper)

func (f optionFunc) applySweeper(s *Sweeper) { f(s) }

// Grace sets the stale-processing grace period.
func Grace(d time.Duration) Option {
	return optionFunc(func(s *Sweeper) {
		if d > 0 {
			s.grace = d
		}
	})
}

// WithSchedule sets the sweep cadence; see Every and Cron.
func WithSchedule(sched Schedule) Option {
	return optionFunc(func(s *Sweeper) {
		if sched != nil {
			s.schedule = sched
		}
	})
}

// WithLogger sets the sweeper logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	})
}

// Sweeper periodically reclaims chunks stuck in processing.
type Sweeper struct {
	store      core.Storage
	reconciler Reconciler
	schedule   Schedule
	grace      time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper over the store, reporting affected jobs to
// the reconciler.
func NewSweeper(store core.Storage, reconciler Reconciler, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:      store,
		reconciler: reconciler,
		schedule:   Every(DefaultInterval),
		grace:      DefaultGrace,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt.applySweeper(s)
	}
	return s
}

// Run sweeps on the configured schedule until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}
}

// SweepOnce reclaims stale chunks and reconciles their jobs. It returns the
// number of chunks swept.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.store.SweepStaleChunks(ctx, s.grace)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	jobs := make(map[string]bool)
	for _, c := range stale {
		jobs[c.JobID] = true
	}
	s.logger.Warn("reclaimed stale chunks", "chunks", len(stale), "jobs", len(jobs))

	for jobID := range jobs {
		s.reconciler.ReconcileJob(ctx, jobID)
	}
	return len(stale), nil
}
