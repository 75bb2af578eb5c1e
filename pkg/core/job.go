package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the aggregate state of a chunked job.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobProcessing          JobStatus = "processing"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
	JobCancelled           JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable
// except through a forced retry, which re-opens the job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job tracks one document-normalization request across all of its chunks.
// Its status is derived from the chunk statuses and the retry-round counter
// by the finalizer; it is never written independently.
type Job struct {
	ID         string    `gorm:"primaryKey;size:36"`
	DocumentID string    `gorm:"index;size:255"`
	Status     JobStatus `gorm:"index;size:32;default:'pending'"`

	// Settings is the JSON-encoded processing settings captured at creation,
	// replayed on every retry round.
	Settings []byte `gorm:"type:bytes"`

	TotalChunks     int       `gorm:"default:0"`
	ProcessedChunks int       `gorm:"default:0"`

	// FailedChunkIndices is a JSON-encoded ordered []int. Use FailedIndices
	// and SetFailedIndices instead of touching the column directly.
	FailedChunkIndices string `gorm:"type:text"`

	RetryRound     int `gorm:"default:0"`
	MaxRetryRounds int `gorm:"default:3"`

	// User-facing projection, monotonically non-decreasing within a round.
	ProgressPercent int    `gorm:"default:0"`
	CurrentStep     string `gorm:"size:255"`

	// Result is the ordered merge of successful chunk payloads, present
	// only once at least one chunk has succeeded.
	Result       []byte `gorm:"type:bytes"`
	ErrorMessage string `gorm:"type:text"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	CompletedAt *time.Time
}

// FailedIndices decodes the ordered failed chunk index set.
func (j *Job) FailedIndices() []int {
	if j.FailedChunkIndices == "" {
		return nil
	}
	var indices []int
	if err := json.Unmarshal([]byte(j.FailedChunkIndices), &indices); err != nil {
		return nil
	}
	return indices
}

// SetFailedIndices encodes the ordered failed chunk index set.
func (j *Job) SetFailedIndices(indices []int) {
	if len(indices) == 0 {
		j.FailedChunkIndices = ""
		return
	}
	data, _ := json.Marshal(indices)
	j.FailedChunkIndices = string(data)
}

// ChunkStatus represents the state of a single chunk attempt.
type ChunkStatus string

const (
	ChunkPending        ChunkStatus = "pending"
	ChunkProcessing     ChunkStatus = "processing"
	ChunkSuccess        ChunkStatus = "success"
	ChunkFailed         ChunkStatus = "failed"
	ChunkRetryScheduled ChunkStatus = "retry_scheduled"
)

// Terminal reports whether the chunk has reached a final state for the
// current round.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkSuccess || s == ChunkFailed
}

// Chunk is one independently processed unit of a document. The
// (job_id, chunk_index) pair is unique; indices are 0-based and dense.
type Chunk struct {
	ID         string `gorm:"primaryKey;size:36"`
	JobID      string `gorm:"index;index:idx_chunk_job_status;uniqueIndex:uq_chunk_job_index;size:36;not null"`
	ChunkIndex int    `gorm:"uniqueIndex:uq_chunk_job_index;not null"`

	PageStart int
	PageEnd   int
	SizeBytes int
	Payload   []byte `gorm:"type:bytes"`

	Status ChunkStatus `gorm:"index:idx_chunk_job_status;size:20;default:'pending'"`

	// Attempts counts retry attempts consumed; the initial dispatch is not
	// a retry. It never exceeds MaxRetries unless a forced retry was used.
	Attempts   int `gorm:"default:0"`
	MaxRetries int `gorm:"default:3"`

	LastError     string    `gorm:"type:text"`
	LastErrorKind ErrorKind `gorm:"size:20"`

	// ResultPayload is set if and only if Status == ChunkSuccess.
	ResultPayload []byte `gorm:"type:bytes"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	ProcessedAt *time.Time
}

// RetryEligible reports whether the chunk qualifies for another attempt.
// A forced retry qualifies unconditionally.
func (c *Chunk) RetryEligible(force bool) bool {
	if force {
		return true
	}
	return c.Status == ChunkFailed &&
		c.Attempts < c.MaxRetries &&
		c.LastErrorKind.Retryable()
}
