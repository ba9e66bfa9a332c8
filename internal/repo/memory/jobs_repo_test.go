package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/repo/memory"
)

func claimOne(t *testing.T, repo *memory.JobsRepo, workerID string) job.Job {
	t.Helper()

	batch, err := repo.ClaimBatch(context.Background(), workerID, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func enqueue(t *testing.T, repo *memory.JobsRepo) job.Job {
	t.Helper()

	j, err := repo.Create(context.Background(), job.CreateRequest{
		AttendeeID: uuid.NewString(),
		TenantID:   uuid.NewString(),
	})
	require.NoError(t, err)
	return j
}

// Terminal rows are immutable: once a job is completed or failed, late
// write-backs must bounce off ErrNotProcessing without touching the row.
func TestTerminalJobRejectsLateWritebacks(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		repo := memory.NewJobsRepo()
		j := enqueue(t, repo)
		claimOne(t, repo, "worker-a")

		require.NoError(t, repo.MarkCompleted(ctx, j.ID, "worker-a", job.CompletionUpdate{
			CardID: uuid.NewString(),
			QRURL:  "https://cards.example.com/qr",
		}))

		before, err := repo.GetByID(ctx, j.ID)
		require.NoError(t, err)
		require.Equal(t, job.StatusCompleted, before.Status)

		assert.ErrorIs(t, repo.MarkCompleted(ctx, j.ID, "worker-a", job.CompletionUpdate{CardID: "other"}), job.ErrNotProcessing)
		assert.ErrorIs(t, repo.MarkFailed(ctx, j.ID, "worker-a", "late failure", job.ProgressUpdate{}), job.ErrNotProcessing)
		assert.ErrorIs(t, repo.Reschedule(ctx, j.ID, "worker-a", time.Now().UTC(), "late retry", job.ProgressUpdate{}), job.ErrNotProcessing)

		after, err := repo.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after, "rejected write-backs must leave the row untouched")
	})

	t.Run("failed", func(t *testing.T) {
		repo := memory.NewJobsRepo()
		j := enqueue(t, repo)
		claimOne(t, repo, "worker-a")

		require.NoError(t, repo.MarkFailed(ctx, j.ID, "worker-a", "pipeline exploded", job.ProgressUpdate{}))

		before, err := repo.GetByID(ctx, j.ID)
		require.NoError(t, err)
		require.Equal(t, job.StatusFailed, before.Status)
		require.Equal(t, 1, before.RetryCount)

		assert.ErrorIs(t, repo.MarkCompleted(ctx, j.ID, "worker-a", job.CompletionUpdate{CardID: "other"}), job.ErrNotProcessing)
		assert.ErrorIs(t, repo.MarkFailed(ctx, j.ID, "worker-a", "again", job.ProgressUpdate{}), job.ErrNotProcessing)
		assert.ErrorIs(t, repo.Reschedule(ctx, j.ID, "worker-a", time.Now().UTC(), "again", job.ProgressUpdate{}), job.ErrNotProcessing)

		after, err := repo.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, 1, after.RetryCount, "rejected write-backs must not burn a retry")
	})
}

// A claimer whose lock was reclaimed and handed to another worker has
// lost ownership: its write-backs must be rejected even while the job
// is processing again under the new claimer.
func TestWritebacksRequireClaimOwnership(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewJobsRepo()
	j := enqueue(t, repo)

	claimOne(t, repo, "worker-a")

	// worker-a stalls past the lock TTL
	stale, err := repo.GetByID(ctx, j.ID)
	require.NoError(t, err)
	started := time.Now().UTC().Add(-10 * time.Minute)
	stale.StartedAt = &started
	repo.Put(stale)

	reclaimed, err := repo.ReclaimStale(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), reclaimed)

	reclaimedJob := claimOne(t, repo, "worker-b")
	require.Equal(t, j.ID, reclaimedJob.ID)

	// worker-a wakes up and tries to write back its stale attempt
	assert.ErrorIs(t, repo.Reschedule(ctx, j.ID, "worker-a", time.Now().UTC(), "stale retry", job.ProgressUpdate{}), job.ErrNotProcessing)
	assert.ErrorIs(t, repo.MarkCompleted(ctx, j.ID, "worker-a", job.CompletionUpdate{CardID: "stale"}), job.ErrNotProcessing)
	assert.ErrorIs(t, repo.MarkFailed(ctx, j.ID, "worker-a", "stale failure", job.ProgressUpdate{}), job.ErrNotProcessing)

	got, err := repo.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "worker-b", *got.LockedBy)
	assert.Equal(t, 0, got.RetryCount, "a stale claimer must not burn the new claimer's retry")

	// the current claimer's write-back still lands
	require.NoError(t, repo.MarkCompleted(ctx, j.ID, "worker-b", job.CompletionUpdate{
		CardID: uuid.NewString(),
		QRURL:  "https://cards.example.com/qr",
	}))

	got, err = repo.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
}
