package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mdresser/chunkorch/pkg/core"
)

// resultSeparator joins successful chunk payloads in the merged job result.
const resultSeparator = "\n\n"

// finalizeRound runs when a round's barrier fires: every chunk dispatched in
// the round has reached a terminal state. It merges outcomes in chunk-index
// order (never completion order, so the merge is deterministic under any
// scheduling), then asks the retry coordinator whether another round is
// warranted before declaring the job terminal.
//
// The method is idempotent: the terminal write is guarded on the job still
// being live, so a duplicate barrier delivery with identical outcomes
// changes nothing.
func (e *Engine) finalizeRound(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("finalize: job lookup failed", "job_id", jobID, "error", err)
		return
	}
	if job == nil || job.Status.Terminal() {
		// Already finalized (duplicate delivery) or cancelled mid-round.
		return
	}

	chunks, err := e.store.GetChunks(ctx, jobID)
	if err != nil {
		e.logger.Error("finalize: chunk load failed", "job_id", jobID, "error", err)
		return
	}

	var (
		successes []*core.Chunk
		failures  []*core.Chunk
		processed int
	)
	for _, c := range chunks {
		switch c.Status {
		case core.ChunkSuccess:
			successes = append(successes, c)
			processed++
		case core.ChunkFailed:
			failures = append(failures, c)
			processed++
		}
	}
	if processed < len(chunks) {
		// Chunks from a newer round are still in flight; that round's
		// barrier will finalize.
		return
	}

	if len(failures) > 0 && e.scheduleRetryRound(ctx, job, failures) {
		return
	}

	// Terminal merge, ordered by chunk index.
	job.ProcessedChunks = processed
	failedIndices := make([]int, 0, len(failures))
	for _, c := range failures {
		failedIndices = append(failedIndices, c.ChunkIndex)
	}
	job.SetFailedIndices(failedIndices)

	switch {
	case len(successes) == 0:
		job.Status = core.JobFailed
		job.ErrorMessage = fmt.Sprintf("all %d chunks failed", len(chunks))
		job.CurrentStep = "failed"
		job.ProgressPercent = holdPercent(job.ProgressPercent, percentCeiling)
	case len(failures) == 0:
		job.Status = core.JobCompleted
		job.Result = mergePayloads(successes)
		job.CurrentStep = "completed"
		job.ProgressPercent = percentDone
	default:
		job.Status = core.JobCompletedWithErrors
		job.Result = mergePayloads(successes)
		job.ErrorMessage = fmt.Sprintf("%d of %d chunks failed", len(failures), len(chunks))
		job.CurrentStep = "completed with errors"
		job.ProgressPercent = percentDone
	}

	applied, err := e.store.FinalizeJob(ctx, job)
	if err != nil {
		e.logger.Error("finalize: terminal write failed", "job_id", jobID, "error", err)
		return
	}
	if !applied {
		// Lost the race to another finalizer or a cancellation; nothing to
		// publish from this invocation.
		return
	}

	e.broadcaster.Publish(jobID, core.SnapshotOf(job))
	e.logger.Info("job finalized",
		"job_id", jobID,
		"status", job.Status,
		"retry_round", job.RetryRound,
		"failed_chunks", len(failures))
}

// scheduleRetryRound is the automatic retry coordinator. It reports true
// when a new round was dispatched; false leaves the finalizer's terminal
// decision standing.
func (e *Engine) scheduleRetryRound(ctx context.Context, job *core.Job, failures []*core.Chunk) bool {
	if job.RetryRound >= job.MaxRetryRounds {
		return false
	}
	eligible := make([]*core.Chunk, 0, len(failures))
	for _, c := range failures {
		if c.RetryEligible(false) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return false
	}

	round := job.RetryRound + 1
	advanced, err := e.store.AdvanceRetryRound(ctx, job.ID, round)
	if err != nil {
		e.logger.Error("retry: round advance failed", "job_id", job.ID, "error", err)
		return false
	}
	if !advanced {
		// Another finalizer invocation already claimed this round.
		return true
	}

	ids := make([]string, len(eligible))
	for i, c := range eligible {
		ids[i] = c.ID
	}
	scheduled, err := e.store.ScheduleRetry(ctx, ids, false)
	if err != nil || scheduled == 0 {
		e.logger.Error("retry: scheduling failed", "job_id", job.ID, "error", err)
		return false
	}

	processed := job.TotalChunks - int(scheduled)
	percent := holdPercent(job.ProgressPercent, roundPercent(processed, job.TotalChunks))
	step := fmt.Sprintf("retry round %d: %d chunks", round, scheduled)
	if err := e.store.UpdateJobProgress(ctx, job.ID, processed, percent, step); err != nil {
		e.logger.Warn("retry: progress update failed", "job_id", job.ID, "error", err)
	}
	e.publishState(ctx, job.ID)

	e.dispatchRound(job.ID, eligible, e.jobSettings(job))
	e.logger.Info("retry round dispatched",
		"job_id", job.ID, "round", round, "chunks", scheduled)
	return true
}

// mergePayloads joins successful payloads; callers pass chunks already
// ordered by index.
func mergePayloads(successes []*core.Chunk) []byte {
	var buf bytes.Buffer
	for i, c := range successes {
		if i > 0 {
			buf.WriteString(resultSeparator)
		}
		buf.Write(c.ResultPayload)
	}
	return buf.Bytes()
}
