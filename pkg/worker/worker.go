package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdresser/chunkorch/pkg/core"
)

// DefaultProcessTimeout bounds one external processing call.
const DefaultProcessTimeout = 2 * time.Minute

// ChunkWorker executes single chunk attempts. It never lets a fault escape:
// panics and errors from the processing call are caught and converted into
// classified failure outcomes recorded on the chunk row.
type ChunkWorker struct {
	store     core.Storage
	processor core.Processor

	processTimeout time.Duration
	storageRetry   RetryConfig
	logger         *slog.Logger

	// scratch buffers for assembling request payloads
	buffers sync.Pool
}

// NewChunkWorker creates a worker bound to a store and processor.
func NewChunkWorker(store core.Storage, processor core.Processor, opts ...Option) *ChunkWorker {
	w := &ChunkWorker{
		store:          store,
		processor:      processor,
		processTimeout: DefaultProcessTimeout,
		storageRetry:   DefaultRetryConfig(),
		logger:         slog.Default(),
	}
	w.buffers.New = func() any { return new(bytes.Buffer) }
	for _, opt := range opts {
		opt.applyWorker(w)
	}
	return w
}

// Run executes one attempt of the chunk and returns its normalized outcome.
// The chunk row is updated before Run returns; the returned Outcome exists
// for the inline single-chunk path and for tests.
func (w *ChunkWorker) Run(ctx context.Context, chunkID string, settings core.Settings) core.Outcome {
	chunk, err := w.store.GetChunk(ctx, chunkID)
	if err != nil || chunk == nil {
		w.logger.Error("chunk lookup failed", "chunk_id", chunkID, "error", err)
		return core.Failed(core.KindSystem, fmt.Sprintf("chunk lookup failed: %v", err))
	}

	claimed, err := w.store.ClaimChunk(ctx, chunkID)
	if err != nil {
		w.logger.Error("chunk claim failed", "chunk_id", chunkID, "error", err)
		return core.Failed(core.KindSystem, fmt.Sprintf("chunk claim failed: %v", err))
	}
	if !claimed {
		// Duplicate delivery: the chunk already left pending. Report the
		// recorded state without touching the row again.
		return outcomeOf(chunk)
	}

	// Cancellation pre-check: a cancelled job never reaches the processor.
	// A failed lookup is logged and the attempt proceeds; the guarded row
	// writes keep a concurrent cancellation safe either way.
	job, err := w.store.GetJob(ctx, chunk.JobID)
	if err != nil {
		w.logger.Error("job lookup failed during cancellation check",
			"chunk_id", chunk.ID, "job_id", chunk.JobID, "error", err)
	} else if job == nil || job.Status == core.JobCancelled {
		w.record(ctx, chunk, core.Failed(core.KindCancelled, "job cancelled before chunk started"))
		return core.Failed(core.KindCancelled, "job cancelled before chunk started")
	}

	outcome := w.process(ctx, chunk, settings)
	w.record(ctx, chunk, outcome)
	return outcome
}

// process calls the external capability under the hard timeout and
// normalizes every result and fault into an Outcome.
func (w *ChunkWorker) process(ctx context.Context, chunk *core.Chunk, settings core.Settings) (outcome core.Outcome) {
	// Scratch buffer is returned to the pool on every exit path, including
	// panic and timeout.
	buf := w.buffers.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		w.buffers.Put(buf)
		if r := recover(); r != nil {
			w.logger.Error("processor panic", "chunk_id", chunk.ID, "panic", r)
			outcome = core.Failed(core.KindSystem, fmt.Sprintf("panic: %v", r))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, w.processTimeout)
	defer cancel()

	buf.Write(chunk.Payload)
	req := core.Request{
		JobID:      chunk.JobID,
		ChunkIndex: chunk.ChunkIndex,
		Payload:    buf.Bytes(),
		Settings:   settings,
	}

	result, err := w.processor.Process(callCtx, req)
	if err != nil {
		kind := core.Classify(err)
		if callCtx.Err() != nil && ctx.Err() == nil {
			kind = core.KindTimeout
		}
		return core.Failed(kind, err.Error())
	}
	if result == nil || len(result.Content) == 0 {
		return core.Failed(core.KindContent, "processor returned no content")
	}
	return core.Succeeded(result.Content)
}

// record persists the outcome on the chunk row, retrying transient storage
// failures with backoff. The status guard in the store makes re-recording a
// terminal outcome a no-op.
func (w *ChunkWorker) record(ctx context.Context, chunk *core.Chunk, outcome core.Outcome) {
	err := retryWithBackoff(ctx, w.storageRetry, func() error {
		if outcome.Success {
			return w.store.CompleteChunk(ctx, chunk.ID, outcome.Payload)
		}
		return w.store.FailChunk(ctx, chunk.ID, outcome.Kind, outcome.Message)
	})
	if err != nil {
		w.logger.Error("failed to record chunk outcome after retries",
			"chunk_id", chunk.ID, "job_id", chunk.JobID, "error", err)
	}
}

// outcomeOf reconstructs the outcome recorded on a chunk row.
func outcomeOf(chunk *core.Chunk) core.Outcome {
	if chunk.Status == core.ChunkSuccess {
		return core.Succeeded(chunk.ResultPayload)
	}
	return core.Failed(chunk.LastErrorKind, chunk.LastError)
}
