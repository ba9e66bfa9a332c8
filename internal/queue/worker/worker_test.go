package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/issuance"
	"github.com/outreachpass/passhub/internal/notifications"
	"github.com/outreachpass/passhub/internal/passes"
	"github.com/outreachpass/passhub/internal/queue/worker"
	"github.com/outreachpass/passhub/internal/repo/memory"
)

type stubQR struct {
	fail error
}

func (s *stubQR) GenerateQR(ctx context.Context, tenantID, cardID string) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	return "https://cards.example.com/" + tenantID + "/" + cardID, nil
}

type stubBuilder struct{}

func (stubBuilder) BuildPass(ctx context.Context, cardID string, platform passes.Platform) (string, error) {
	return "https://wallet.example.com/" + string(platform) + "/" + cardID, nil
}

type stubNotifier struct{}

func (stubNotifier) SendPassIssued(ctx context.Context, in notifications.SendPassIssuedInput) error {
	return nil
}

type noFlags struct{}

func (noFlags) WalletPlatforms(ctx context.Context, tenantID string) ([]passes.Platform, error) {
	return nil, nil
}

type workerEnv struct {
	jobs      *memory.JobsRepo
	attendees *memory.AttendeesRepo
	cards     *memory.CardsRepo
	qr        *stubQR
	worker    *worker.Worker
}

func newWorkerEnv(t *testing.T, cfg worker.Config) *workerEnv {
	t.Helper()

	env := &workerEnv{
		jobs:      memory.NewJobsRepo(),
		attendees: memory.NewAttendeesRepo(),
		qr:        &stubQR{},
	}
	env.cards = memory.NewCardsRepo(env.attendees)

	pipeline := issuance.New(
		env.attendees,
		env.cards,
		env.qr,
		stubBuilder{},
		stubNotifier{},
		noFlags{},
		nil,
	)

	if cfg.WorkerID == "" {
		cfg.WorkerID = "test-worker-1"
	}

	env.worker = worker.New(cfg, env.jobs, pipeline, nil, nil)

	return env
}

func (env *workerEnv) seedAttendee(t *testing.T) attendee.Attendee {
	t.Helper()

	a := attendee.Attendee{
		ID:       uuid.NewString(),
		EventID:  uuid.NewString(),
		TenantID: uuid.NewString(),
		Email:    "casey@example.com",
	}
	env.attendees.Put(a)
	return a
}

func (env *workerEnv) enqueueJob(t *testing.T, attendeeID, tenantID string) job.Job {
	t.Helper()

	j, err := env.jobs.Create(context.Background(), job.CreateRequest{
		AttendeeID: attendeeID,
		TenantID:   tenantID,
	})
	require.NoError(t, err)
	return j
}

// makeClaimable clears the backoff window so the next RunOnce picks the
// job up without the test sleeping through real delays.
func (env *workerEnv) makeClaimable(t *testing.T, id string) {
	t.Helper()

	j, err := env.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)

	if j.Status != job.StatusPending {
		return
	}
	j.NotBefore = time.Now().UTC().Add(-time.Second)
	env.jobs.Put(j)
}

func TestRunOnceCompletesPendingJob(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5, Concurrency: 2})
	a := env.seedAttendee(t)
	j := env.enqueueJob(t, a.ID, a.TenantID)

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Completed)

	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.CardID)
	require.NotNil(t, got.QRURL)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRunOnceEmptyQueueIsNoop(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{})

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.BatchResult{}, res)
}

func TestTransientFailureRetriesThenDeadLetters(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5})
	a := env.seedAttendee(t)
	j := env.enqueueJob(t, a.ID, a.TenantID)

	env.qr.fail = errors.New("qr service down")

	for attempt := 1; attempt <= job.DefaultMaxRetries; attempt++ {
		res, err := env.worker.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Claimed, "attempt %d should claim the job", attempt)

		got, gerr := env.jobs.GetByID(context.Background(), j.ID)
		require.NoError(t, gerr)
		assert.Equal(t, attempt, got.RetryCount)

		if attempt < job.DefaultMaxRetries {
			require.Equal(t, 1, res.Retried)
			assert.Equal(t, job.StatusPending, got.Status)
			assert.True(t, got.NotBefore.After(time.Now().UTC()), "backoff must push not_before forward")
			require.NotNil(t, got.ErrorMessage)
			assert.Contains(t, *got.ErrorMessage, "qr service down")

			env.makeClaimable(t, j.ID)
		} else {
			require.Equal(t, 1, res.DeadLettered)
			assert.Equal(t, job.StatusFailed, got.Status)
		}
	}

	// terminal: nothing left to claim even with the window cleared
	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)

	// partial progress from the first attempt survived every write-back
	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CardID)
	assert.NotEmpty(t, *got.CardID)
}

func TestRetryResumesFromFirstIncompleteStep(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5})
	a := env.seedAttendee(t)
	j := env.enqueueJob(t, a.ID, a.TenantID)

	env.qr.fail = errors.New("qr service down")

	_, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)

	afterFirst, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	require.NotNil(t, afterFirst.CardID)
	cardsBefore := env.cards.EnsureCalls

	// recover and retry
	env.qr.fail = nil
	env.makeClaimable(t, j.ID)

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Completed)

	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, cardsBefore, env.cards.EnsureCalls, "card step must not rerun")
	require.NotNil(t, got.CardID)
	assert.Equal(t, *afterFirst.CardID, *got.CardID)
}

func TestPermanentFailureSkipsRemainingRetries(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5})

	// attendee never seeded: the pipeline reports a permanent error
	j, err := env.jobs.Create(context.Background(), job.CreateRequest{
		AttendeeID: uuid.NewString(),
		TenantID:   uuid.NewString(),
	})
	require.NoError(t, err)

	res, rerr := env.worker.RunOnce(context.Background())
	require.NoError(t, rerr)
	assert.Equal(t, 1, res.DeadLettered)

	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount, "no second attempt for permanent failures")
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "attendee")
}

func TestBatchSizeBoundsClaim(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 20, Concurrency: 8})

	for i := 0; i < 25; i++ {
		a := env.seedAttendee(t)
		env.enqueueJob(t, a.ID, a.TenantID)
	}

	first, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, first.Claimed)
	assert.Equal(t, 20, first.Completed)

	second, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, second.Claimed)
	assert.Equal(t, 5, second.Completed)

	third, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, third.Claimed)
}

func TestConcurrentInvocationsClaimEachJobOnce(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 10, Concurrency: 2})

	const jobCount = 30
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		a := env.seedAttendee(t)
		ids = append(ids, env.enqueueJob(t, a.ID, a.TenantID).ID)
	}

	const invocations = 8
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		total worker.BatchResult
	)

	for i := 0; i < invocations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := env.worker.RunOnce(context.Background())
			if err != nil {
				t.Errorf("run once: %v", err)
				return
			}

			mu.Lock()
			total.Claimed += res.Claimed
			total.Completed += res.Completed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, jobCount, total.Claimed, "each job must be claimed by exactly one invocation")
	assert.Equal(t, jobCount, total.Completed)

	for _, id := range ids {
		got, err := env.jobs.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
	}
}

func TestTwoTransientFailuresThenSuccess(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5})
	a := env.seedAttendee(t)
	j := env.enqueueJob(t, a.ID, a.TenantID)

	env.qr.fail = errors.New("qr service down")

	for attempt := 1; attempt <= 2; attempt++ {
		res, err := env.worker.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Retried, "attempt %d should reschedule", attempt)

		env.makeClaimable(t, j.ID)
	}

	env.qr.fail = nil

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Completed)

	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.RetryCount, "a successful attempt must not consume a retry")
	assert.Nil(t, got.ErrorMessage)
}

func TestOneBadJobDoesNotPoisonTheBatch(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 10, Concurrency: 4})

	good := make([]job.Job, 0, 4)
	for i := 0; i < 4; i++ {
		a := env.seedAttendee(t)
		good = append(good, env.enqueueJob(t, a.ID, a.TenantID))
	}

	// one job whose attendee does not exist
	bad, err := env.jobs.Create(context.Background(), job.CreateRequest{
		AttendeeID: uuid.NewString(),
		TenantID:   uuid.NewString(),
	})
	require.NoError(t, err)

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Claimed)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, res.DeadLettered)

	for _, g := range good {
		got, gerr := env.jobs.GetByID(context.Background(), g.ID)
		require.NoError(t, gerr)
		assert.Equal(t, job.StatusCompleted, got.Status)
	}

	gotBad, err := env.jobs.GetByID(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, gotBad.Status)
}

func TestStaleProcessingJobIsReclaimed(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{BatchSize: 5, LockTTL: time.Minute})
	a := env.seedAttendee(t)

	// simulate a crashed invocation: claimed long ago, never written back
	j := job.New(job.CreateRequest{AttendeeID: a.ID, TenantID: a.TenantID})
	j.Status = job.StatusProcessing
	started := time.Now().UTC().Add(-10 * time.Minute)
	j.StartedAt = &started
	deadWorker := "crashed-worker"
	j.LockedBy = &deadWorker
	env.jobs.Put(j)

	res, err := env.worker.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.StaleReclaimed)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Completed)

	got, err := env.jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func TestDuplicateEnqueueWhileActive(t *testing.T) {
	env := newWorkerEnv(t, worker.Config{})
	a := env.seedAttendee(t)
	env.enqueueJob(t, a.ID, a.TenantID)

	_, err := env.jobs.Create(context.Background(), job.CreateRequest{
		AttendeeID: a.ID,
		TenantID:   a.TenantID,
	})
	assert.ErrorIs(t, err, job.ErrActiveJob)
}
