package core

import (
	"context"
	"time"
)

// Storage defines the persistence layer for jobs and chunks.
//
// Row transitions are guarded: the current status acts as an implicit
// optimistic-concurrency check, so duplicate delivery of a worker's
// completion is a no-op rather than a double count.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// CreateJob persists a job and its chunk plan in one transaction.
	CreateJob(ctx context.Context, job *Job, chunks []*Chunk) error

	// Reads
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetChunk(ctx context.Context, chunkID string) (*Chunk, error)
	// GetChunks returns all chunks of a job ordered by chunk index.
	GetChunks(ctx context.Context, jobID string) ([]*Chunk, error)
	GetChunksByStatus(ctx context.Context, jobID string, status ChunkStatus) ([]*Chunk, error)
	// ChunkSummary returns counts by chunk status for one job.
	ChunkSummary(ctx context.Context, jobID string) (map[ChunkStatus]int, error)

	// Chunk transitions (single writer per row per attempt)

	// ClaimChunk moves a pending chunk to processing. Returns false when the
	// chunk is not pending, which makes duplicate task delivery a no-op.
	ClaimChunk(ctx context.Context, chunkID string) (bool, error)
	// CompleteChunk moves a processing chunk to success and stores its
	// payload. Reapplying a terminal status does not change the row.
	CompleteChunk(ctx context.Context, chunkID string, payload []byte) error
	// FailChunk moves a processing chunk to failed with a classified error.
	FailChunk(ctx context.Context, chunkID string, kind ErrorKind, message string) error
	// CancelPendingChunks fails all pending and retry-scheduled chunks of a
	// job with kind cancelled. In-flight attempts are left to finish.
	CancelPendingChunks(ctx context.Context, jobID string, message string) (int64, error)
	// ScheduleRetry moves failed chunks through retry_scheduled back to
	// pending, consuming one retry attempt each. Force skips the per-chunk
	// attempt budget.
	ScheduleRetry(ctx context.Context, chunkIDs []string, force bool) (int64, error)

	// Job transitions (written only by the controller, finalizer, and
	// retry coordinator)

	// SetJobProcessing moves a pending or processing job to processing with
	// the given step label and percent.
	SetJobProcessing(ctx context.Context, jobID string, step string, percent int) error
	// UpdateJobProgress updates the user-facing projection of a live job.
	UpdateJobProgress(ctx context.Context, jobID string, processed int, percent int, step string) error
	// AdvanceRetryRound increments the retry round counter from round-1 to
	// round on a live job. Returns false if the job moved underneath us.
	AdvanceRetryRound(ctx context.Context, jobID string, round int) (bool, error)
	// ReopenJob moves a job (terminal or not) back to processing. Used only
	// by the forced-retry path; prior round history is untouched.
	ReopenJob(ctx context.Context, jobID string) error
	// FinalizeJob writes the job's terminal state. Returns false when the
	// job is no longer live, making the finalizer idempotent.
	FinalizeJob(ctx context.Context, job *Job) (bool, error)
	// CancelJob moves a live job to cancelled. Returns false when the job
	// was already terminal.
	CancelJob(ctx context.Context, jobID string) (bool, error)

	// SweepStaleChunks fails chunks stuck in processing longer than the
	// grace period (kind system, retry-eligible) and returns them.
	SweepStaleChunks(ctx context.Context, grace time.Duration) ([]*Chunk, error)
}
