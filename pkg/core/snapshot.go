package core

import "time"

// Snapshot is the progress wire shape published to a job's room at
// well-defined checkpoints: job start, chunk plan computed, round dispatch,
// round completion, and job terminal. Per-chunk events are deliberately not
// published during a parallel round; only round-boundary snapshots are
// required to be accurate.
type Snapshot struct {
	JobID              string    `json:"job_id"`
	Status             JobStatus `json:"status"`
	ProgressPercent    int       `json:"progress_percent"`
	CurrentStep        string    `json:"current_step"`
	ProcessedChunks    int       `json:"processed_chunks"`
	TotalChunks        int       `json:"total_chunks"`
	FailedChunkIndices []int     `json:"failed_chunk_indices"`
}

// SnapshotOf projects a job row into its wire shape.
func SnapshotOf(job *Job) Snapshot {
	return Snapshot{
		JobID:              job.ID,
		Status:             job.Status,
		ProgressPercent:    job.ProgressPercent,
		CurrentStep:        job.CurrentStep,
		ProcessedChunks:    job.ProcessedChunks,
		TotalChunks:        job.TotalChunks,
		FailedChunkIndices: job.FailedIndices(),
	}
}

// JobSnapshot is the job view returned to callers polling job state.
type JobSnapshot struct {
	Snapshot
	RetryRound   int        `json:"retry_round"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ChunkSnapshot is the chunk view returned by GetChunkStatuses.
type ChunkSnapshot struct {
	ID            string      `json:"id"`
	ChunkIndex    int         `json:"chunk_index"`
	PageStart     int         `json:"page_start"`
	PageEnd       int         `json:"page_end"`
	SizeBytes     int         `json:"size_bytes"`
	Status        ChunkStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	MaxRetries    int         `json:"max_retries"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind ErrorKind   `json:"last_error_kind,omitempty"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// ChunkStatusReport bundles per-chunk snapshots with a counts-by-status
// summary.
type ChunkStatusReport struct {
	Chunks  []ChunkSnapshot     `json:"chunks"`
	Summary map[ChunkStatus]int `json:"summary"`
}
