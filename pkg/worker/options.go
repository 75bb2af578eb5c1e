package worker

import (
	"log/slog"
	"time"
)

// Option configures a ChunkWorker.
type Option interface {
	applyWorker(*ChunkWorker)
}

type optionFunc func(*ChunkWorker)

func (f optionFunc) applyWorker(w *ChunkWorker) { f(w) }

// ProcessTimeout sets the hard deadline for one processing call. A timeout
// becomes a classified failure, not a crash.
func ProcessTimeout(d time.Duration) Option {
	return optionFunc(func(w *ChunkWorker) {
		if d > 0 {
			w.processTimeout = d
		}
	})
}

// StorageRetry sets the backoff policy for persistence writes.
func StorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(w *ChunkWorker) {
		w.storageRetry = cfg
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(w *ChunkWorker) {
		if l != nil {
			w.logger = l
		}
	})
}
