package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/security"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Chunk{})
}

// CreateJob persists a job and its chunk plan in one transaction.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.Job, chunks []*core.Chunk) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.JobPending
	}
	job.TotalChunks = len(chunks)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		for _, c := range chunks {
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			c.JobID = job.ID
			if c.Status == "" {
				c.Status = core.ChunkPending
			}
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(chunks).Error
	})
}

// GetJob retrieves a job by ID. Returns nil when not found.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetChunk retrieves a chunk by ID. Returns nil when not found.
func (s *GormStorage) GetChunk(ctx context.Context, chunkID string) (*core.Chunk, error) {
	var chunk core.Chunk
	err := s.db.WithContext(ctx).First(&chunk, "id = ?", chunkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunks returns all chunks of a job ordered by chunk index.
func (s *GormStorage) GetChunks(ctx context.Context, jobID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

// GetChunksByStatus returns a job's chunks in one status, ordered by index.
func (s *GormStorage) GetChunksByStatus(ctx context.Context, jobID string, status core.ChunkStatus) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, status).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

// ChunkSummary returns counts by chunk status for one job.
func (s *GormStorage) ChunkSummary(ctx context.Context, jobID string) (map[core.ChunkStatus]int, error) {
	type row struct {
		Status core.ChunkStatus
		N      int
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Chunk{}).
		Select("status, count(*) as n").
		Where("job_id = ?", jobID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	summary := make(map[core.ChunkStatus]int, len(rows))
	for _, r := range rows {
		summary[r.Status] = r.N
	}
	return summary, nil
}

// ClaimChunk moves a pending chunk to processing. The status condition makes
// duplicate task delivery a no-op.
func (s *GormStorage) ClaimChunk(ctx context.Context, chunkID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Chunk{}).
		Where("id = ? AND status = ?", chunkID, core.ChunkPending).
		Update("status", core.ChunkProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteChunk moves a processing chunk to success and stores its payload.
func (s *GormStorage) CompleteChunk(ctx context.Context, chunkID string, payload []byte) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Chunk{}).
		Where("id = ? AND status = ?", chunkID, core.ChunkProcessing).
		Updates(map[string]any{
			"status":          core.ChunkSuccess,
			"result_payload":  payload,
			"last_error":      "",
			"last_error_kind": "",
			"processed_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrChunkNotClaimable
	}
	return nil
}

// FailChunk moves a processing chunk to failed with a classified error.
// Error messages are sanitized before storage.
func (s *GormStorage) FailChunk(ctx context.Context, chunkID string, kind core.ErrorKind, message string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Chunk{}).
		Where("id = ? AND status = ?", chunkID, core.ChunkProcessing).
		Updates(map[string]any{
			"status":          core.ChunkFailed,
			"last_error":      security.SanitizeErrorMessage(message),
			"last_error_kind": kind,
			"processed_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrChunkNotClaimable
	}
	return nil
}

// CancelPendingChunks fails all pending and retry-scheduled chunks of a job
// with kind cancelled. Chunks already in flight are left to finish.
func (s *GormStorage) CancelPendingChunks(ctx context.Context, jobID string, message string) (int64, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Chunk{}).
		Where("job_id = ? AND status IN ?", jobID,
			[]core.ChunkStatus{core.ChunkPending, core.ChunkRetryScheduled}).
		Updates(map[string]any{
			"status":          core.ChunkFailed,
			"last_error":      security.SanitizeErrorMessage(message),
			"last_error_kind": core.KindCancelled,
			"processed_at":    now,
		})
	return result.RowsAffected, result.Error
}

// ScheduleRetry moves failed chunks through retry_scheduled back to pending,
// consuming one retry attempt each. Without force, the per-chunk attempt
// budget and the error-kind eligibility are enforced in the update condition
// so concurrent schedulers cannot over-consume attempts.
func (s *GormStorage) ScheduleRetry(ctx context.Context, chunkIDs []string, force bool) (int64, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	var scheduled int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&core.Chunk{}).
			Where("id IN ? AND status = ?", chunkIDs, core.ChunkFailed)
		if !force {
			q = q.Where("attempts < max_retries").
				Where("last_error_kind IN ?",
					[]core.ErrorKind{core.KindTransient, core.KindTimeout, core.KindSystem})
		}
		result := q.Updates(map[string]any{
			"status":   core.ChunkRetryScheduled,
			"attempts": gorm.Expr("attempts + 1"),
		})
		if result.Error != nil {
			return result.Error
		}
		scheduled = result.RowsAffected
		if scheduled == 0 {
			return nil
		}
		return tx.Model(&core.Chunk{}).
			Where("id IN ? AND status = ?", chunkIDs, core.ChunkRetryScheduled).
			Update("status", core.ChunkPending).Error
	})
	return scheduled, err
}

// SetJobProcessing moves a pending or processing job to processing with the
// given step label and percent.
func (s *GormStorage) SetJobProcessing(ctx context.Context, jobID string, step string, percent int) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]core.JobStatus{core.JobPending, core.JobProcessing}).
		Updates(map[string]any{
			"status":           core.JobProcessing,
			"current_step":     security.TruncateStep(step),
			"progress_percent": security.ClampPercent(percent),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobTerminal
	}
	return nil
}

// UpdateJobProgress updates the user-facing projection of a live job.
func (s *GormStorage) UpdateJobProgress(ctx context.Context, jobID string, processed int, percent int, step string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.JobProcessing).
		Updates(map[string]any{
			"processed_chunks": processed,
			"progress_percent": security.ClampPercent(percent),
			"current_step":     security.TruncateStep(step),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobTerminal
	}
	return nil
}

// AdvanceRetryRound increments the retry round counter from round-1 to round
// on a live job.
func (s *GormStorage) AdvanceRetryRound(ctx context.Context, jobID string, round int) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ? AND retry_round = ?", jobID, core.JobProcessing, round-1).
		Update("retry_round", round)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReopenJob moves a job back to processing regardless of its current status.
// Only the forced-retry path uses this; round history is untouched.
func (s *GormStorage) ReopenJob(ctx context.Context, jobID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        core.JobProcessing,
			"completed_at":  nil,
			"error_message": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// FinalizeJob writes the job's terminal state. The status condition makes
// the finalizer idempotent: a second invocation for the same round finds the
// job already terminal and reports false.
func (s *GormStorage) FinalizeJob(ctx context.Context, job *core.Job) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", job.ID, core.JobProcessing).
		Updates(map[string]any{
			"status":               job.Status,
			"processed_chunks":     job.ProcessedChunks,
			"failed_chunk_indices": job.FailedChunkIndices,
			"progress_percent":     security.ClampPercent(job.ProgressPercent),
			"current_step":         security.TruncateStep(job.CurrentStep),
			"result":               job.Result,
			"error_message":        security.SanitizeErrorMessage(job.ErrorMessage),
			"completed_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CancelJob moves a live job to cancelled.
func (s *GormStorage) CancelJob(ctx context.Context, jobID string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]core.JobStatus{core.JobPending, core.JobProcessing}).
		Updates(map[string]any{
			"status":       core.JobCancelled,
			"current_step": "cancelled",
			"completed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SweepStaleChunks fails chunks stuck in processing longer than the grace
// period. A stale chunk is treated as a crashed worker: kind system, which
// keeps it retry-eligible.
func (s *GormStorage) SweepStaleChunks(ctx context.Context, grace time.Duration) ([]*core.Chunk, error) {
	cutoff := time.Now().Add(-grace)
	var stale []*core.Chunk

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ? AND updated_at < ?", core.ChunkProcessing, cutoff).
			Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]string, len(stale))
		for i, c := range stale {
			ids[i] = c.ID
		}
		now := time.Now()
		return tx.Model(&core.Chunk{}).
			Where("id IN ? AND status = ?", ids, core.ChunkProcessing).
			Updates(map[string]any{
				"status":          core.ChunkFailed,
				"last_error":      "worker did not report completion within the grace period",
				"last_error_kind": core.KindSystem,
				"processed_at":    now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	for _, c := range stale {
		c.Status = core.ChunkFailed
		c.LastErrorKind = core.KindSystem
	}
	return stale, nil
}
