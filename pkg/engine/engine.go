package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mdresser/chunkorch/pkg/broadcast"
	"github.com/mdresser/chunkorch/pkg/chunker"
	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/dispatch"
	"github.com/mdresser/chunkorch/pkg/worker"
)

// Default retry budgets.
const (
	DefaultMaxRetryRounds  = 3
	DefaultChunkMaxRetries = 3
)

// Engine is the job controller: it owns job creation, round dispatch,
// fan-in finalization, retry coordination, and cancellation.
type Engine struct {
	store       core.Storage
	pool        *dispatch.Pool
	broadcaster *broadcast.Broadcaster
	planner     *chunker.Planner
	worker      *worker.ChunkWorker

	maxRetryRounds  int
	chunkMaxRetries int
	workerOpts      []worker.Option
	logger          *slog.Logger
}

// RetryReceipt reports the result of a retry request.
type RetryReceipt struct {
	RetriedCount int
	Round        *dispatch.Round
}

// NewEngine wires an engine around a store and the external processor.
func NewEngine(store core.Storage, processor core.Processor, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		maxRetryRounds:  DefaultMaxRetryRounds,
		chunkMaxRetries: DefaultChunkMaxRetries,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt.applyEngine(e)
	}
	if e.pool == nil {
		e.pool = dispatch.NewPool()
	}
	if e.broadcaster == nil {
		e.broadcaster = broadcast.NewBroadcaster()
	}
	if e.planner == nil {
		e.planner = chunker.NewPlanner()
	}
	e.worker = worker.NewChunkWorker(store, processor, e.workerOpts...)
	return e
}

// Start launches the engine's worker pool. It returns immediately; workers
// run until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.pool.Start(ctx)
}

// Broadcaster exposes the progress broadcaster for subscribers.
func (e *Engine) Broadcaster() *broadcast.Broadcaster {
	return e.broadcaster
}

// CreateJob computes the chunk plan, persists the job with its chunks, and
// dispatches round one. It returns as soon as the round is dispatched; the
// caller observes completion through the broadcaster or by polling.
// Single-chunk jobs skip the barrier and run inline before returning.
func (e *Engine) CreateJob(ctx context.Context, doc core.Document, settings core.Settings) (string, error) {
	specs, err := e.planner.Plan(doc)
	if err != nil {
		return "", err
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}

	job := &core.Job{
		DocumentID:      doc.ID,
		Status:          core.JobPending,
		Settings:        settingsJSON,
		MaxRetryRounds:  e.maxRetryRounds,
		CurrentStep:     "chunk plan computed",
		ProgressPercent: percentPlanned,
	}
	chunks := make([]*core.Chunk, len(specs))
	for i, spec := range specs {
		chunks[i] = &core.Chunk{
			ChunkIndex: spec.Index,
			PageStart:  spec.PageStart,
			PageEnd:    spec.PageEnd,
			SizeBytes:  spec.SizeBytes,
			Payload:    spec.Payload,
			MaxRetries: e.chunkMaxRetries,
		}
	}
	if err := e.store.CreateJob(ctx, job, chunks); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	e.broadcaster.Publish(job.ID, core.SnapshotOf(job))
	e.logger.Info("job created", "job_id", job.ID, "chunks", len(chunks))

	step := fmt.Sprintf("processing %d chunks", len(chunks))
	if err := e.store.SetJobProcessing(ctx, job.ID, step, percentDispatch); err != nil {
		return "", err
	}
	job.Status = core.JobProcessing
	job.CurrentStep = step
	job.ProgressPercent = percentDispatch
	e.broadcaster.Publish(job.ID, core.SnapshotOf(job))

	if len(chunks) == 1 {
		// No barrier overhead for a single chunk: execute it on the
		// caller's goroutine and finalize with the one-element outcome set.
		e.worker.Run(ctx, chunks[0].ID, settings)
		e.finalizeRound(ctx, job.ID)
		return job.ID, nil
	}

	e.dispatchRound(job.ID, chunks, settings)
	return job.ID, nil
}

// GetJobStatus returns the job's current snapshot.
func (e *Engine) GetJobStatus(ctx context.Context, jobID string) (*core.JobSnapshot, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}
	return &core.JobSnapshot{
		Snapshot:     core.SnapshotOf(job),
		RetryRound:   job.RetryRound,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}, nil
}

// GetChunkStatuses returns per-chunk snapshots ordered by index plus a
// counts-by-status summary.
func (e *Engine) GetChunkStatuses(ctx context.Context, jobID string) (*core.ChunkStatusReport, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}

	chunks, err := e.store.GetChunks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	summary, err := e.store.ChunkSummary(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &core.ChunkStatusReport{
		Chunks:  make([]core.ChunkSnapshot, len(chunks)),
		Summary: summary,
	}
	for i, c := range chunks {
		report.Chunks[i] = core.ChunkSnapshot{
			ID:            c.ID,
			ChunkIndex:    c.ChunkIndex,
			PageStart:     c.PageStart,
			PageEnd:       c.PageEnd,
			SizeBytes:     c.SizeBytes,
			Status:        c.Status,
			Attempts:      c.Attempts,
			MaxRetries:    c.MaxRetries,
			LastError:     c.LastError,
			LastErrorKind: c.LastErrorKind,
			ProcessedAt:   c.ProcessedAt,
		}
	}
	return report, nil
}

// RetryChunks re-dispatches failed chunks on an external trigger. Without
// force it follows the automatic eligibility rules and consumes a retry
// round; with force it bypasses both the per-chunk attempt budget and the
// round budget, re-opens a terminal job, and does not consume the automatic
// round budget.
func (e *Engine) RetryChunks(ctx context.Context, jobID string, chunkIDs []string, force bool) (*RetryReceipt, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}
	if job.Status == core.JobCancelled {
		// Cancellation prevents new rounds, forced or not.
		return nil, core.ErrJobCancelled
	}
	if !force && job.Status.Terminal() {
		return nil, core.ErrJobTerminal
	}
	if !force && job.RetryRound >= job.MaxRetryRounds {
		return nil, core.ErrRetryBudgetSpent
	}

	failed, err := e.store.GetChunksByStatus(ctx, jobID, core.ChunkFailed)
	if err != nil {
		return nil, err
	}
	candidates := failed
	if len(chunkIDs) > 0 {
		wanted := make(map[string]bool, len(chunkIDs))
		for _, id := range chunkIDs {
			wanted[id] = true
		}
		candidates = candidates[:0]
		for _, c := range failed {
			if wanted[c.ID] {
				candidates = append(candidates, c)
			}
		}
	}
	eligible := make([]*core.Chunk, 0, len(candidates))
	for _, c := range candidates {
		if c.RetryEligible(force) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, core.ErrNoEligibleChunks
	}

	if job.Status.Terminal() {
		if err := e.store.ReopenJob(ctx, jobID); err != nil {
			return nil, err
		}
	}

	ids := make([]string, len(eligible))
	for i, c := range eligible {
		ids[i] = c.ID
	}
	scheduled, err := e.store.ScheduleRetry(ctx, ids, force)
	if err != nil {
		return nil, err
	}
	if scheduled == 0 {
		return nil, core.ErrNoEligibleChunks
	}

	round := job.RetryRound
	if !force {
		// Manual non-forced retries share the automatic round accounting.
		round++
		if ok, err := e.store.AdvanceRetryRound(ctx, jobID, round); err != nil {
			return nil, err
		} else if !ok {
			return nil, core.ErrJobTerminal
		}
	}

	step := fmt.Sprintf("retrying %d chunks", scheduled)
	processed := job.TotalChunks - int(scheduled)
	percent := holdPercent(job.ProgressPercent, roundPercent(processed, job.TotalChunks))
	if err := e.store.UpdateJobProgress(ctx, jobID, processed, percent, step); err != nil {
		e.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
	e.publishState(ctx, jobID)

	settings := e.jobSettings(job)
	handle := e.dispatchRound(jobID, eligible, settings)
	e.logger.Info("manual retry dispatched",
		"job_id", jobID, "chunks", scheduled, "force", force, "round", round)
	return &RetryReceipt{RetriedCount: int(scheduled), Round: handle}, nil
}

// CancelJob moves a live job to cancelled and fails its not-yet-started
// chunks. Attempts already in flight finish best-effort; their outcomes are
// recorded but the job stays cancelled and no new rounds are dispatched.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return core.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return core.ErrJobTerminal
	}

	cancelled, err := e.store.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !cancelled {
		return core.ErrJobTerminal
	}
	if _, err := e.store.CancelPendingChunks(ctx, jobID, "job cancelled"); err != nil {
		return err
	}

	e.publishState(ctx, jobID)
	e.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// ReconcileJob re-evaluates a job whose round may have been lost, for
// example after a worker crash surfaced by the stale-chunk sweep or a pool
// shutdown that dropped queued tasks. Chunks parked in pending with no
// attempt in flight are re-dispatched as a fresh round; once every chunk is
// terminal the finalizer runs, which either closes the job or dispatches a
// retry round within the budget.
func (e *Engine) ReconcileJob(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("reconcile: job lookup failed", "job_id", jobID, "error", err)
		return
	}
	if job == nil || job.Status.Terminal() {
		return
	}

	chunks, err := e.store.GetChunks(ctx, jobID)
	if err != nil {
		e.logger.Error("reconcile: chunk load failed", "job_id", jobID, "error", err)
		return
	}
	var parked []*core.Chunk
	for _, c := range chunks {
		switch c.Status {
		case core.ChunkProcessing:
			// An attempt is still in flight; its round's barrier finalizes.
			return
		case core.ChunkPending, core.ChunkRetryScheduled:
			parked = append(parked, c)
		}
	}
	if len(parked) > 0 {
		e.dispatchRound(jobID, parked, e.jobSettings(job))
		e.logger.Info("re-dispatched parked chunks", "job_id", jobID, "chunks", len(parked))
		return
	}

	e.finalizeRound(ctx, jobID)
}

// dispatchRound submits one task per chunk with a fresh barrier whose
// callback is the finalizer.
func (e *Engine) dispatchRound(jobID string, chunks []*core.Chunk, settings core.Settings) *dispatch.Round {
	tasks := make([]dispatch.Task, len(chunks))
	for i, c := range chunks {
		chunkID := c.ID
		tasks[i] = func(ctx context.Context) {
			e.worker.Run(ctx, chunkID, settings)
		}
	}
	return e.pool.Dispatch(tasks, func(ctx context.Context) {
		e.finalizeRound(ctx, jobID)
	})
}

// jobSettings decodes the settings captured at creation.
func (e *Engine) jobSettings(job *core.Job) core.Settings {
	if len(job.Settings) == 0 {
		return nil
	}
	var settings core.Settings
	if err := json.Unmarshal(job.Settings, &settings); err != nil {
		e.logger.Warn("settings decode failed", "job_id", job.ID, "error", err)
		return nil
	}
	return settings
}

// publishState re-reads the job row and broadcasts its snapshot.
func (e *Engine) publishState(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	e.broadcaster.Publish(jobID, core.SnapshotOf(job))
}
