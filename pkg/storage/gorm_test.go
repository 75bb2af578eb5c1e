package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdresser/chunkorch/pkg/core"
)

// newTestStorage creates a fresh migrated storage instance for each test.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestJob builds a job with n pending chunks and persists it.
func newTestJob(t *testing.T, s *GormStorage, n int) (*core.Job, []*core.Chunk) {
	t.Helper()
	job := &core.Job{DocumentID: "doc-1", MaxRetryRounds: 3}
	chunks := make([]*core.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = &core.Chunk{
			ChunkIndex: i,
			PageStart:  i + 1,
			PageEnd:    i + 1,
			SizeBytes:  64,
			Payload:    []byte("payload"),
			MaxRetries: 3,
		}
	}
	require.NoError(t, s.CreateJob(context.Background(), job, chunks))
	return job, chunks
}

func TestCreateJobPersistsChunkPlan(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job, _ := newTestJob(t, s, 3)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.TotalChunks)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.JobPending, got.Status)

	chunks, err := s.GetChunks(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunks ordered by index")
		assert.Equal(t, core.ChunkPending, c.Status)
		assert.Equal(t, job.ID, c.JobID)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStorage(t)
	job, err := s.GetJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimChunkOnlyOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 1)

	claimed, err := s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Duplicate delivery: the second claim is a no-op.
	claimed, err = s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCompleteChunkRequiresProcessing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 1)
	id := chunks[0].ID

	// Completing a pending chunk is rejected.
	err := s.CompleteChunk(ctx, id, []byte("out"))
	assert.ErrorIs(t, err, core.ErrChunkNotClaimable)

	_, err = s.ClaimChunk(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.CompleteChunk(ctx, id, []byte("out")))

	got, err := s.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkSuccess, got.Status)
	assert.Equal(t, []byte("out"), got.ResultPayload)
	assert.NotNil(t, got.ProcessedAt)

	// Reapplying a terminal status does not change the row.
	err = s.CompleteChunk(ctx, id, []byte("other"))
	assert.ErrorIs(t, err, core.ErrChunkNotClaimable)
	got, err = s.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), got.ResultPayload)
}

func TestFailChunkRecordsKind(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 1)
	id := chunks[0].ID

	_, err := s.ClaimChunk(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.FailChunk(ctx, id, core.KindTransient, "rate limited"))

	got, err := s.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkFailed, got.Status)
	assert.Equal(t, core.KindTransient, got.LastErrorKind)
	assert.Equal(t, "rate limited", got.LastError)
	assert.Nil(t, got.ResultPayload)
}

func TestScheduleRetryConsumesAttempts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 2)

	for _, c := range chunks {
		_, err := s.ClaimChunk(ctx, c.ID)
		require.NoError(t, err)
		require.NoError(t, s.FailChunk(ctx, c.ID, core.KindTransient, "boom"))
	}

	ids := []string{chunks[0].ID, chunks[1].ID}
	n, err := s.ScheduleRetry(ctx, ids, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range ids {
		got, err := s.GetChunk(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.ChunkPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
	}
}

func TestScheduleRetryEnforcesBudgetAndKind(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 2)

	// Chunk 0: content failure, never eligible without force.
	_, err := s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	require.NoError(t, s.FailChunk(ctx, chunks[0].ID, core.KindContent, "empty"))

	// Chunk 1: transient but attempt budget spent.
	for i := 0; i < 3; i++ {
		if i > 0 {
			_, err := s.ScheduleRetry(ctx, []string{chunks[1].ID}, true)
			require.NoError(t, err)
		}
		_, err := s.ClaimChunk(ctx, chunks[1].ID)
		require.NoError(t, err)
		require.NoError(t, s.FailChunk(ctx, chunks[1].ID, core.KindTransient, "boom"))
	}
	got, err := s.GetChunk(ctx, chunks[1].ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	_, err = s.ScheduleRetry(ctx, []string{chunks[1].ID}, true)
	require.NoError(t, err)
	_, err = s.ClaimChunk(ctx, chunks[1].ID)
	require.NoError(t, err)
	require.NoError(t, s.FailChunk(ctx, chunks[1].ID, core.KindTransient, "boom"))

	// attempts == max_retries now; neither chunk is eligible.
	n, err := s.ScheduleRetry(ctx, []string{chunks[0].ID, chunks[1].ID}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// Force bypasses both conditions.
	n, err = s.ScheduleRetry(ctx, []string{chunks[0].ID, chunks[1].ID}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCancelPendingChunks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, chunks := newTestJob(t, s, 3)

	// One chunk in flight stays untouched.
	_, err := s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)

	n, err := s.CancelPendingChunks(ctx, job.ID, "job cancelled")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.GetChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkProcessing, got.Status)

	for _, c := range chunks[1:] {
		got, err := s.GetChunk(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, core.ChunkFailed, got.Status)
		assert.Equal(t, core.KindCancelled, got.LastErrorKind)
	}
}

func TestChunkSummary(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, chunks := newTestJob(t, s, 4)

	_, err := s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteChunk(ctx, chunks[0].ID, []byte("ok")))
	_, err = s.ClaimChunk(ctx, chunks[1].ID)
	require.NoError(t, err)
	require.NoError(t, s.FailChunk(ctx, chunks[1].ID, core.KindTransient, "boom"))
	_, err = s.ClaimChunk(ctx, chunks[2].ID)
	require.NoError(t, err)

	summary, err := s.ChunkSummary(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, map[core.ChunkStatus]int{
		core.ChunkSuccess:    1,
		core.ChunkFailed:     1,
		core.ChunkProcessing: 1,
		core.ChunkPending:    1,
	}, summary)
}

func TestFinalizeJobIsGuarded(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, _ := newTestJob(t, s, 1)

	require.NoError(t, s.SetJobProcessing(ctx, job.ID, "processing 1 chunks", 15))

	final := &core.Job{
		ID:              job.ID,
		Status:          core.JobCompleted,
		ProcessedChunks: 1,
		ProgressPercent: 100,
		CurrentStep:     "completed",
		Result:          []byte("merged"),
	}
	applied, err := s.FinalizeJob(ctx, final)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second finalization finds the job already terminal.
	applied, err = s.FinalizeJob(ctx, final)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Equal(t, []byte("merged"), got.Result)
	assert.NotNil(t, got.CompletedAt)
}

func TestAdvanceRetryRoundIsCompareAndSet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, _ := newTestJob(t, s, 1)
	require.NoError(t, s.SetJobProcessing(ctx, job.ID, "processing", 15))

	ok, err := s.AdvanceRetryRound(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second finalizer racing for the same round loses.
	ok, err = s.AdvanceRetryRound(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceRetryRound(ctx, job.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelJobOnlyWhenLive(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, _ := newTestJob(t, s, 1)

	ok, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, got.Status)

	ok, err = s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "terminal job is immutable")
}

func TestReopenJobClearsTerminalState(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, _ := newTestJob(t, s, 1)
	require.NoError(t, s.SetJobProcessing(ctx, job.ID, "processing", 15))
	_, err := s.FinalizeJob(ctx, &core.Job{
		ID:           job.ID,
		Status:       core.JobFailed,
		ErrorMessage: "all 1 chunks failed",
		CurrentStep:  "failed",
	})
	require.NoError(t, err)

	require.NoError(t, s.ReopenJob(ctx, job.ID))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobProcessing, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
}

func TestSweepStaleChunks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, chunks := newTestJob(t, s, 2)

	_, err := s.ClaimChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	_, err = s.ClaimChunk(ctx, chunks[1].ID)
	require.NoError(t, err)

	// Nothing is stale within the grace period.
	stale, err := s.SweepStaleChunks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// With a zero-width grace period both in-flight chunks are reclaimed.
	time.Sleep(20 * time.Millisecond)
	stale, err = s.SweepStaleChunks(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	for _, c := range chunks {
		got, err := s.GetChunk(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, core.ChunkFailed, got.Status)
		assert.Equal(t, core.KindSystem, got.LastErrorKind)
	}
}

func TestUpdateJobProgressRejectsTerminal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job, _ := newTestJob(t, s, 1)

	_, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	err = s.UpdateJobProgress(ctx, job.ID, 1, 50, "late update")
	assert.ErrorIs(t, err, core.ErrJobTerminal)
}
