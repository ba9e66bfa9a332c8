package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/outreachpass/passhub/internal/domain/job"
)

// JobsRepo is the in-memory job store used by unit tests. It mirrors
// the postgres repo's conditional-update semantics exactly: write-backs
// only land when the row is still in the expected prior status and
// still locked by the writing worker.
type JobsRepo struct {
	mu    sync.Mutex
	items map[string]job.Job
}

func NewJobsRepo() *JobsRepo {
	return &JobsRepo{
		items: make(map[string]job.Job),
	}
}

func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.items {
		if j.AttendeeID == req.AttendeeID && !j.Status.IsTerminal() {
			return job.Job{}, job.ErrActiveJob
		}
	}

	j := job.New(req)
	r.items[j.ID] = j
	return j, nil
}

func (r *JobsRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]job.Job, error) {
	if batchSize <= 0 {
		batchSize = 20
	}

	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := make([]job.Job, 0)

	for _, j := range r.items {
		if j.Status == job.StatusPending && !j.NotBefore.After(now) && j.RetryCount < j.MaxRetries {
			eligible = append(eligible, j)
		}
	}

	// oldest first
	sort.Slice(eligible, func(i, k int) bool {
		return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	out := make([]job.Job, 0, len(eligible))

	for _, j := range eligible {
		j.Status = job.StatusProcessing
		started := now
		j.StartedAt = &started
		wid := workerID
		j.LockedBy = &wid
		r.items[j.ID] = j
		out = append(out, j)
	}

	return out, nil
}

func (r *JobsRepo) ReclaimStale(ctx context.Context, lockTTL time.Duration) (int64, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64

	for id, j := range r.items {
		if j.Status != job.StatusProcessing || j.StartedAt == nil {
			continue
		}
		if now.Sub(*j.StartedAt) <= lockTTL {
			continue
		}
		j.Status = job.StatusPending
		j.LockedBy = nil
		r.items[id] = j
		count++
	}

	return count, nil
}

func (r *JobsRepo) MarkCompleted(ctx context.Context, id, lockedBy string, res job.CompletionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing || j.LockedBy == nil || *j.LockedBy != lockedBy {
		return job.ErrNotProcessing
	}

	j.Status = job.StatusCompleted
	if j.CardID == nil {
		cardID := res.CardID
		j.CardID = &cardID
	}
	if j.QRURL == nil {
		qr := res.QRURL
		j.QRURL = &qr
	}
	if len(res.WalletPassURLs) > 0 {
		j.WalletPassURLs = res.WalletPassURLs
	}
	if len(res.Metadata) > 0 {
		j.Metadata = res.Metadata
	}
	j.ErrorMessage = nil
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.LockedBy = nil

	r.items[id] = j
	return nil
}

func (r *JobsRepo) Reschedule(ctx context.Context, id, lockedBy string, notBefore time.Time, errMsg string, partial job.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing || j.LockedBy == nil || *j.LockedBy != lockedBy {
		return job.ErrNotProcessing
	}

	j.Status = job.StatusPending
	j.RetryCount++
	j.NotBefore = notBefore
	msg := errMsg
	j.ErrorMessage = &msg
	applyProgress(&j, partial)
	j.LockedBy = nil

	r.items[id] = j
	return nil
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id, lockedBy string, errMsg string, partial job.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing || j.LockedBy == nil || *j.LockedBy != lockedBy {
		return job.ErrNotProcessing
	}

	j.Status = job.StatusFailed
	j.RetryCount++
	msg := errMsg
	j.ErrorMessage = &msg
	applyProgress(&j, partial)
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.LockedBy = nil

	r.items[id] = j
	return nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

func (r *JobsRepo) GetActiveByAttendee(ctx context.Context, attendeeID string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.items {
		if j.AttendeeID == attendeeID && !j.Status.IsTerminal() {
			return j, nil
		}
	}
	return job.Job{}, job.ErrJobNotFound
}

// Put force-sets a job, bypassing invariants. Test setup only.
func (r *JobsRepo) Put(j job.Job) {
	r.mu.Lock()
	r.items[j.ID] = j
	r.mu.Unlock()
}

func applyProgress(j *job.Job, partial job.ProgressUpdate) {
	if j.CardID == nil && partial.CardID != nil {
		j.CardID = partial.CardID
	}
	if j.QRURL == nil && partial.QRURL != nil {
		j.QRURL = partial.QRURL
	}
	if len(partial.WalletPassURLs) > 0 {
		j.WalletPassURLs = json.RawMessage(partial.WalletPassURLs)
	}
	if len(partial.Metadata) > 0 {
		j.Metadata = partial.Metadata
	}
}
