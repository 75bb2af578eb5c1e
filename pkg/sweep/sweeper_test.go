package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/storage"
)

type recordingReconciler struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingReconciler) ReconcileJob(ctx context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobID)
}

func (r *recordingReconciler) reconciled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func newTestStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func claimableJob(t *testing.T, s *storage.GormStorage, chunkCount int) (*core.Job, []*core.Chunk) {
	t.Helper()
	job := &core.Job{DocumentID: "doc", Status: core.JobProcessing, MaxRetryRounds: 3}
	chunks := make([]*core.Chunk, chunkCount)
	for i := range chunks {
		chunks[i] = &core.Chunk{ChunkIndex: i, Payload: []byte("text"), MaxRetries: 3}
	}
	require.NoError(t, s.CreateJob(context.Background(), job, chunks))
	return job, chunks
}

func TestSweepOnceReclaimsOrphanedChunks(t *testing.T) {
	s := newTestStore(t)
	job, chunks := claimableJob(t, s, 2)

	// Claim one chunk and never report back, as a crashed worker would.
	claimed, err := s.ClaimChunk(context.Background(), chunks[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	rec := &recordingReconciler{}
	sw := NewSweeper(s, rec, Grace(time.Nanosecond))

	time.Sleep(5 * time.Millisecond)
	swept, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, []string{job.ID}, rec.reconciled())

	got, err := s.GetChunk(context.Background(), chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkFailed, got.Status)
	assert.Equal(t, core.KindSystem, got.LastErrorKind, "reclaimed chunks stay retry-eligible")

	// The unclaimed chunk is untouched.
	other, err := s.GetChunk(context.Background(), chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkPending, other.Status)
}

func TestSweepOnceLeavesRecentChunksAlone(t *testing.T) {
	s := newTestStore(t)
	_, chunks := claimableJob(t, s, 1)

	claimed, err := s.ClaimChunk(context.Background(), chunks[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	rec := &recordingReconciler{}
	sw := NewSweeper(s, rec, Grace(time.Hour))

	swept, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Empty(t, rec.reconciled())
}

func TestSweepOnceReconcilesEachJobOnce(t *testing.T) {
	s := newTestStore(t)
	job, chunks := claimableJob(t, s, 3)
	for _, c := range chunks {
		claimed, err := s.ClaimChunk(context.Background(), c.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	rec := &recordingReconciler{}
	sw := NewSweeper(s, rec, Grace(time.Nanosecond))

	time.Sleep(5 * time.Millisecond)
	swept, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, swept)
	assert.Equal(t, []string{job.ID}, rec.reconciled(),
		"one reconcile per job regardless of chunk count")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestStore(t)
	rec := &recordingReconciler{}
	sw := NewSweeper(s, rec, WithSchedule(Every(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
