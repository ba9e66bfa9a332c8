package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/observability"
	"github.com/outreachpass/passhub/internal/utils"
)

var ErrJobNotFailed = errors.New("job is not failed")

const jobColumns = `id, attendee_id, tenant_id, status,
	card_id, qr_url, wallet_pass_url,
	error_message, retry_count, max_retries,
	not_before, created_at, started_at, completed_at,
	locked_by, metadata`

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

// Create inserts a pending job. The partial unique index on
// (attendee_id) WHERE status IN ('pending','processing') makes this an
// insert-if-absent: a second insert while a job is still live fails
// with a unique violation, mapped to job.ErrActiveJob.
func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	op := "jobs.create"

	var err error

	err = r.observe(op, func() error {
		_, err = r.pool.Exec(ctx, `INSERT INTO pass_generation_jobs(
		id, attendee_id, tenant_id, status,
		error_message, retry_count, max_retries,
		not_before, created_at, metadata
	 ) VALUES (
		$1,$2,$3,$4,
		$5,$6,$7,
		$8,$9,$10
	 )
	 `, j.ID, j.AttendeeID, j.TenantID, string(j.Status),
			j.ErrorMessage, j.RetryCount, j.MaxRetries,
			j.NotBefore, j.CreatedAt, j.Metadata)

		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return job.Job{}, job.ErrActiveJob
		}
		return job.Job{}, err
	}

	return j, nil
}

// CreateCompleted records a terminal job for an attendee whose card
// already exists, so the trigger endpoint always has a job to return.
func (r *JobsRepo) CreateCompleted(ctx context.Context, attendeeID, tenantID, cardID string) (job.Job, error) {
	j := job.New(job.CreateRequest{AttendeeID: attendeeID, TenantID: tenantID})
	j.Status = job.StatusCompleted
	j.CardID = &cardID
	now := j.CreatedAt
	j.StartedAt = &now
	j.CompletedAt = &now

	op := "jobs.create_completed"
	var err error

	err = r.observe(op, func() error {
		_, err = r.pool.Exec(ctx, `INSERT INTO pass_generation_jobs(
		id, attendee_id, tenant_id, status,
		card_id, retry_count, max_retries,
		not_before, created_at, started_at, completed_at, metadata
	 ) VALUES (
		$1,$2,$3,$4,
		$5,$6,$7,
		$8,$9,$10,$11,$12
	 )
	 `, j.ID, j.AttendeeID, j.TenantID, string(j.Status),
			j.CardID, j.RetryCount, j.MaxRetries,
			j.NotBefore, j.CreatedAt, j.StartedAt, j.CompletedAt, j.Metadata)
		return err
	})

	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// ClaimBatch atomically moves up to batchSize eligible jobs from
// pending to processing. Oldest first so nothing starves. SKIP LOCKED
// makes concurrent invocations race-free: a row is handed to exactly
// one claimer, losers silently see fewer rows.
func (r *JobsRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]job.Job, error) {
	if batchSize <= 0 {
		batchSize = 20
	}

	var rows pgx.Rows
	var err error

	op := "jobs.claim_batch"

	err = r.observe(op, func() error {
		rows, err = r.pool.Query(ctx, `
		WITH batch AS (
			SELECT id
			FROM pass_generation_jobs
			WHERE status = 'pending'
			  AND not_before <= NOW()
			  AND retry_count < max_retries
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE pass_generation_jobs
		SET status = 'processing',
		    started_at = NOW(),
		    locked_by = $1
		WHERE id IN (SELECT id FROM batch)
		RETURNING `+jobColumns+`
	`, workerID, batchSize)
		return err
	})

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job

	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, j)
	}

	return out, rows.Err()
}

// ReclaimStale returns processing jobs whose claim outlived the lock
// TTL (crashed or timed-out invocation) to pending. There is no
// heartbeat; started_at age is the only liveness signal.
func (r *JobsRepo) ReclaimStale(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 300
	}

	var count int64
	op := "jobs.reclaim_stale"

	err := r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE pass_generation_jobs
		SET status = 'pending',
		    locked_by = NULL
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND started_at < NOW() - ($1 * INTERVAL '1 second')
	`, secs)

		if err != nil {
			return err
		}
		count = tag.RowsAffected()
		return nil
	})

	return count, err
}

// MarkCompleted is the terminal-success write-back. Conditional on the
// row still being processing and still locked by this claimer: losing
// either condition means another invocation already moved the job, and
// this write must not land.
func (r *JobsRepo) MarkCompleted(ctx context.Context, id, lockedBy string, res job.CompletionUpdate) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.mark_completed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
		UPDATE pass_generation_jobs
		SET status = 'completed',
		    card_id = COALESCE(card_id, $2),
		    qr_url = COALESCE(qr_url, $3),
		    wallet_pass_url = COALESCE($4, wallet_pass_url),
		    metadata = COALESCE($5, metadata),
		    error_message = NULL,
		    completed_at = NOW(),
		    locked_by = NULL
		WHERE id = $1
		  AND status = 'processing'
		  AND locked_by = $6
	`, id, res.CardID, res.QRURL, res.WalletPassURLs, res.Metadata, lockedBy)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotProcessing
	}
	return nil
}

// Reschedule re-queues a failed attempt: one retry consumed, back to
// pending, eligible again at notBefore. Partial outputs are persisted
// so the next attempt resumes mid-pipeline.
func (r *JobsRepo) Reschedule(ctx context.Context, id, lockedBy string, notBefore time.Time, errMsg string, partial job.ProgressUpdate) error {
	var tag pgconn.CommandTag
	var err error

	op := "jobs.reschedule"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
		UPDATE pass_generation_jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    not_before = $2,
		    error_message = $3,
		    card_id = COALESCE(card_id, $4),
		    qr_url = COALESCE(qr_url, $5),
		    wallet_pass_url = COALESCE($6, wallet_pass_url),
		    metadata = COALESCE($7, metadata),
		    locked_by = NULL
		WHERE id = $1
		  AND status = 'processing'
		  AND locked_by = $8
	`, id, notBefore, errMsg, partial.CardID, partial.QRURL, partial.WalletPassURLs, partial.Metadata, lockedBy)

		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotProcessing
	}
	return nil
}

// MarkFailed is the dead-letter write-back: retries exhausted (or a
// permanent failure), terminal failed, completed_at marks it finished
// though not successful.
func (r *JobsRepo) MarkFailed(ctx context.Context, id, lockedBy string, errMsg string, partial job.ProgressUpdate) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.mark_failed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
		UPDATE pass_generation_jobs
		SET status = 'failed',
		    retry_count = retry_count + 1,
		    error_message = $2,
		    card_id = COALESCE(card_id, $3),
		    qr_url = COALESCE(qr_url, $4),
		    wallet_pass_url = COALESCE($5, wallet_pass_url),
		    metadata = COALESCE($6, metadata),
		    completed_at = NOW(),
		    locked_by = NULL
		WHERE id = $1
		  AND status = 'processing'
		  AND locked_by = $7
	`, id, errMsg, partial.CardID, partial.QRURL, partial.WalletPassURLs, partial.Metadata, lockedBy)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotProcessing
	}
	return nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.get_by_id"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM pass_generation_jobs
		WHERE id = $1
	`, id)
		j, err = scanJob(row)
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

// GetActiveByAttendee returns the attendee's live (pending or
// processing) job, if any.
func (r *JobsRepo) GetActiveByAttendee(ctx context.Context, attendeeID string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.get_active_by_attendee"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM pass_generation_jobs
		WHERE attendee_id = $1
		  AND status IN ('pending','processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, attendeeID)
		j, err = scanJob(row)
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

// LatestCompletedByAttendee backs the trigger endpoint's shortcut for
// attendees whose pass was already issued.
func (r *JobsRepo) LatestCompletedByAttendee(ctx context.Context, attendeeID string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.latest_completed_by_attendee"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM pass_generation_jobs
		WHERE attendee_id = $1
		  AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, attendeeID)
		j, err = scanJob(row)
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

// Admin ops endpoints

func (r *JobsRepo) ListCursor(
	ctx context.Context,
	status *string,
	tenantID *string,
	limit int,
	afterCreatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	op := "jobs.admin.list_cursor"

	base := `
		SELECT ` + jobColumns + `
		FROM pass_generation_jobs
	`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	if tenantID != nil {
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", argsPos))
		args = append(args, *tenantID)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterCreatedAt, afterID)
	argsPos += 2

	q := base + " WHERE " + strings.Join(conds, " AND ")

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows

	err = r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)

	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, j)
	}

	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeJobCursor(last.CreatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

// Retry is the manual re-trigger for a dead-lettered job: admin-only,
// resets the retry budget.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var status string

	var err error
	op := "jobs.admin.retry.check_status"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM pass_generation_jobs WHERE id = $1`, id).Scan(&status)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrJobNotFound
		}
		return err
	}

	if status != string(job.StatusFailed) {
		return ErrJobNotFailed
	}

	requeueOp := "jobs.admin.retry.requeue"

	return r.observe(requeueOp, func() error {
		_, e := r.pool.Exec(ctx, `
		UPDATE pass_generation_jobs
		SET status = 'pending',
		    retry_count = 0,
		    not_before = NOW(),
		    error_message = NULL,
		    completed_at = NULL,
		    locked_by = NULL
		WHERE id = $1
		  AND status = 'failed'
	`, id)
		return e
	})
}

// POST /admin/jobs/reprocess-dead?limit=50
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	var tag pgconn.CommandTag
	op := "jobs.admin.retry_many_failed"
	var err error

	if limit <= 0 {
		limit = 50
	}

	if limit > 500 {
		limit = 500
	}

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx,
			`
		WITH picked AS (
			SELECT id
			FROM pass_generation_jobs
			WHERE status = 'failed'
			ORDER BY completed_at DESC
			LIMIT $1
		)
		UPDATE pass_generation_jobs
		SET status = 'pending',
		    retry_count = 0,
		    not_before = NOW(),
		    error_message = NULL,
		    completed_at = NULL,
		    locked_by = NULL
		WHERE id IN (SELECT id FROM picked)
		`, limit)

		return err
	})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string

	err := row.Scan(
		&j.ID, &j.AttendeeID, &j.TenantID, &status,
		&j.CardID, &j.QRURL, &j.WalletPassURLs,
		&j.ErrorMessage, &j.RetryCount, &j.MaxRetries,
		&j.NotBefore, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
		&j.LockedBy, &j.Metadata,
	)
	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	return j, nil
}
