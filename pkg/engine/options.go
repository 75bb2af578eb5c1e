package engine

import (
	"log/slog"

	"github.com/mdresser/chunkorch/pkg/broadcast"
	"github.com/mdresser/chunkorch/pkg/chunker"
	"github.com/mdresser/chunkorch/pkg/dispatch"
	"github.com/mdresser/chunkorch/pkg/security"
	"github.com/mdresser/chunkorch/pkg/worker"
)

// Option configures an Engine.
type Option interface {
	applyEngine(*Engine)
}

type optionFunc func(*Engine)

func (f optionFunc) applyEngine(e *Engine) { f(e) }

// WithPool replaces the default worker pool.
func WithPool(p *dispatch.Pool) Option {
	return optionFunc(func(e *Engine) {
		if p != nil {
			e.pool = p
		}
	})
}

// WithBroadcaster replaces the default progress broadcaster.
func WithBroadcaster(b *broadcast.Broadcaster) Option {
	return optionFunc(func(e *Engine) {
		if b != nil {
			e.broadcaster = b
		}
	})
}

// WithPlanner replaces the default chunk planner.
func WithPlanner(p *chunker.Planner) Option {
	return optionFunc(func(e *Engine) {
		if p != nil {
			e.planner = p
		}
	})
}

// MaxRetryRounds bounds the automatic retry rounds per job. Default 3.
func MaxRetryRounds(n int) Option {
	return optionFunc(func(e *Engine) {
		e.maxRetryRounds = security.ClampRetryRounds(n)
	})
}

// ChunkMaxRetries sets the per-chunk retry budget. Default 3.
func ChunkMaxRetries(n int) Option {
	return optionFunc(func(e *Engine) {
		e.chunkMaxRetries = security.ClampRetries(n)
	})
}

// WorkerOptions forwards options to the engine's chunk worker.
func WorkerOptions(opts ...worker.Option) Option {
	return optionFunc(func(e *Engine) {
		e.workerOpts = append(e.workerOpts, opts...)
	})
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	})
}
