package pending

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func correction(jobID, ctype string) model.PendingCorrection {
	return model.PendingCorrection{
		JobID:     jobID,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Correction: model.Correction{
			Type: ctype,
			Data: map[string]any{"timer_started_at": "2026-08-30T09:00:00Z"},
		},
	}
}

func TestEnqueueAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "start_timer")))
	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "complete_job")))
	require.NoError(t, s.Enqueue(ctx, correction("JOB-2", "start_timer")))

	got, err := s.ListByJob(ctx, "JOB-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "JOB-1", got[0].JobID)
	assert.Equal(t, "2026-08-30T09:00:00Z", got[0].Correction.Data["timer_started_at"])
}

func TestEnqueueDeduplicatesByJobAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := correction("JOB-1", "start_timer")
	require.NoError(t, s.Enqueue(ctx, first))

	second := correction("JOB-1", "start_timer")
	second.Correction.Data = map[string]any{"timer_started_at": "2026-08-31T10:00:00Z"}
	require.NoError(t, s.Enqueue(ctx, second))

	got, err := s.ListByJob(ctx, "JOB-1")
	require.NoError(t, err)
	require.Len(t, got, 1, "same (job, type) must collapse to one row")
	assert.Equal(t, "2026-08-31T10:00:00Z", got[0].Correction.Data["timer_started_at"], "newest payload wins")
}

func TestDeleteRemovesSingleCorrection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "start_timer")))
	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "complete_job")))

	require.NoError(t, s.Delete(ctx, "JOB-1", "start_timer"))

	got, err := s.ListByJob(ctx, "JOB-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "complete_job", got[0].Correction.Type)
}

func TestPurgeJobLeavesOtherJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "start_timer")))
	require.NoError(t, s.Enqueue(ctx, correction("JOB-2", "start_timer")))

	require.NoError(t, s.PurgeJob(ctx, "JOB-1"))

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"JOB-2"}, jobs)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, correction("JOB-1", "start_timer")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.ListByJob(ctx, "JOB-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "start_timer", got[0].Correction.Type)
}

func TestConcurrentEnqueueSameJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- s.Enqueue(ctx, correction("JOB-1", "start_timer"))
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	got, err := s.ListByJob(ctx, "JOB-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
