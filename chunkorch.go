// Package chunkorch orchestrates chunked document-normalization jobs: it
// splits a document into chunks, runs them across a bounded worker pool,
// tracks durable per-chunk state, retries failures under a bounded round
// budget, merges partial results deterministically, and broadcasts progress
// snapshots per job.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and engine
//	db, _ := gorm.Open(sqlite.Open("jobs.db"), &gorm.Config{})
//	store := chunkorch.NewGormStorage(db)
//	store.Migrate(context.Background())
//	eng := chunkorch.NewEngine(store, processor)
//	eng.Start(ctx)
//
//	// Submit a document
//	jobID, _ := eng.CreateJob(ctx, doc, chunkorch.Settings{"tone": "neutral"})
//
//	// Watch progress
//	snapshots, cancel := eng.Broadcaster().Subscribe(jobID)
//	defer cancel()
package chunkorch

import (
	"gorm.io/gorm"

	"github.com/mdresser/chunkorch/pkg/broadcast"
	"github.com/mdresser/chunkorch/pkg/chunker"
	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/dispatch"
	"github.com/mdresser/chunkorch/pkg/engine"
	"github.com/mdresser/chunkorch/pkg/security"
	"github.com/mdresser/chunkorch/pkg/storage"
	"github.com/mdresser/chunkorch/pkg/sweep"
	"github.com/mdresser/chunkorch/pkg/worker"
)

// Type aliases for the public API surface
type (
	// Job tracks one document-normalization request across its chunks.
	Job = core.Job

	// Chunk is one independently processed unit of a document.
	Chunk = core.Chunk

	// JobStatus represents the aggregate state of a job.
	JobStatus = core.JobStatus

	// ChunkStatus represents the state of a single chunk.
	ChunkStatus = core.ChunkStatus

	// ErrorKind classifies a chunk failure for retry decisions.
	ErrorKind = core.ErrorKind

	// Outcome is the normalized result of one chunk attempt.
	Outcome = core.Outcome

	// Storage defines the persistence layer for jobs and chunks.
	Storage = core.Storage

	// Document is the input to a normalization job.
	Document = core.Document

	// Page is one page of a document.
	Page = core.Page

	// Settings carries opaque processing options to the processor.
	Settings = core.Settings

	// Processor is the external text-processing capability.
	Processor = core.Processor

	// Request is one chunk's worth of work handed to the processor.
	Request = core.Request

	// Result is a successful processor response.
	Result = core.Result

	// Usage reports the cost of one processor call.
	Usage = core.Usage

	// ProcessorFunc adapts a function to the Processor interface.
	ProcessorFunc = core.ProcessorFunc

	// Snapshot is the progress wire shape published per job room.
	Snapshot = core.Snapshot

	// JobSnapshot is the job view returned by GetJobStatus.
	JobSnapshot = core.JobSnapshot

	// ChunkStatusReport bundles chunk snapshots with a status summary.
	ChunkStatusReport = core.ChunkStatusReport

	// Engine is the job controller, finalizer, and retry coordinator.
	Engine = engine.Engine

	// RetryReceipt reports the result of a retry request.
	RetryReceipt = engine.RetryReceipt

	// Pool is the bounded worker pool executing chunk tasks.
	Pool = dispatch.Pool

	// Round is the fan-in barrier for one dispatched batch.
	Round = dispatch.Round

	// Broadcaster fans progress snapshots out per job room.
	Broadcaster = broadcast.Broadcaster

	// Planner splits documents into chunk plans.
	Planner = chunker.Planner

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// Sweeper reclaims chunks orphaned by crashed workers.
	Sweeper = sweep.Sweeper
)

// Job status constants
const (
	JobPending             = core.JobPending
	JobProcessing          = core.JobProcessing
	JobCompleted           = core.JobCompleted
	JobCompletedWithErrors = core.JobCompletedWithErrors
	JobFailed              = core.JobFailed
	JobCancelled           = core.JobCancelled
)

// Chunk status constants
const (
	ChunkPending        = core.ChunkPending
	ChunkProcessing     = core.ChunkProcessing
	ChunkSuccess        = core.ChunkSuccess
	ChunkFailed         = core.ChunkFailed
	ChunkRetryScheduled = core.ChunkRetryScheduled
)

// Error kind constants
const (
	KindTransient = core.KindTransient
	KindTimeout   = core.KindTimeout
	KindContent   = core.KindContent
	KindSystem    = core.KindSystem
	KindCancelled = core.KindCancelled
)

// Security limits
const (
	MaxChunkPayloadSize   = security.MaxChunkPayloadSize
	MaxRetries            = security.MaxRetries
	MaxRetryRounds        = security.MaxRetryRounds
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrJobNotFound      = core.ErrJobNotFound
	ErrChunkNotFound    = core.ErrChunkNotFound
	ErrJobTerminal      = core.ErrJobTerminal
	ErrJobCancelled     = core.ErrJobCancelled
	ErrEmptyDocument    = core.ErrEmptyDocument
	ErrChunkTooLarge    = core.ErrChunkTooLarge
	ErrNoEligibleChunks = core.ErrNoEligibleChunks
	ErrRetryBudgetSpent = core.ErrRetryBudgetSpent
)

// NewEngine wires an engine around a store and the external processor.
func NewEngine(store Storage, processor Processor, opts ...engine.Option) *Engine {
	return engine.NewEngine(store, processor, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewBroadcaster creates a progress broadcaster.
func NewBroadcaster(opts ...broadcast.Option) *Broadcaster {
	return broadcast.NewBroadcaster(opts...)
}

// NewPool creates a worker pool.
func NewPool(opts ...dispatch.PoolOption) *Pool {
	return dispatch.NewPool(opts...)
}

// NewPlanner creates a chunk planner.
func NewPlanner(opts ...chunker.Option) *Planner {
	return chunker.NewPlanner(opts...)
}

// NewSweeper creates a stale-chunk sweeper reporting to the engine.
func NewSweeper(store Storage, reconciler sweep.Reconciler, opts ...sweep.Option) *Sweeper {
	return sweep.NewSweeper(store, reconciler, opts...)
}

// Classified-error helpers

// Content wraps an error to mark the chunk's content as unprocessable;
// such failures are not retried.
func Content(err error) error {
	return core.Content(err)
}

// Transient wraps an error to mark it as retryable.
func Transient(err error) error {
	return core.Transient(err)
}

// Engine option functions

// WithPool replaces the engine's default worker pool.
func WithPool(p *Pool) engine.Option {
	return engine.WithPool(p)
}

// WithBroadcaster replaces the engine's default broadcaster.
func WithBroadcaster(b *Broadcaster) engine.Option {
	return engine.WithBroadcaster(b)
}

// WithPlanner replaces the engine's default chunk planner.
func WithPlanner(p *Planner) engine.Option {
	return engine.WithPlanner(p)
}

// MaxJobRetryRounds bounds the automatic retry rounds per job.
func MaxJobRetryRounds(n int) engine.Option {
	return engine.MaxRetryRounds(n)
}

// ChunkMaxRetries sets the per-chunk retry budget.
func ChunkMaxRetries(n int) engine.Option {
	return engine.ChunkMaxRetries(n)
}

// WorkerOptions forwards options to the engine's chunk worker.
func WorkerOptions(opts ...worker.Option) engine.Option {
	return engine.WorkerOptions(opts...)
}

// Pool option functions

// PoolSize sets the number of pool workers.
func PoolSize(n int) dispatch.PoolOption {
	return dispatch.Size(n)
}

// Planner option functions

// MaxChunkBytes sets the payload budget per chunk.
func MaxChunkBytes(n int) chunker.Option {
	return chunker.MaxChunkBytes(n)
}

// PageOverlap repeats trailing pages across chunk boundaries.
func PageOverlap(n int) chunker.Option {
	return chunker.PageOverlap(n)
}
