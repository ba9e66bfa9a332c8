package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/issuance"
	"github.com/outreachpass/passhub/internal/observability"
	"github.com/outreachpass/passhub/internal/passes"
)

type JobsRepository interface {
	ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]job.Job, error)
	ReclaimStale(ctx context.Context, lockTTL time.Duration) (int64, error)
	MarkCompleted(ctx context.Context, id, lockedBy string, res job.CompletionUpdate) error
	Reschedule(ctx context.Context, id, lockedBy string, notBefore time.Time, errMsg string, partial job.ProgressUpdate) error
	MarkFailed(ctx context.Context, id, lockedBy string, errMsg string, partial job.ProgressUpdate) error
}

type Config struct {
	WorkerID      string
	BatchSize     int
	Concurrency   int
	PollInterval  time.Duration
	LockTTL       time.Duration
	ShutdownGrace time.Duration
}

// BatchResult is the summary of one invocation, mirrored into metrics
// and the invocation log line.
type BatchResult struct {
	StaleReclaimed int64
	Claimed        int
	Completed      int
	Retried        int
	DeadLettered   int
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	pipeline *issuance.Pipeline
	log      *slog.Logger
	prom     *observability.Prom
	metrics  *observability.JobMetrics

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, pipeline *issuance.Pipeline, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		pipeline: pipeline,
		log:      log,
		prom:     prom,
		metrics:  observability.NewJobMetrics(),
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

// RunOnce drives one stateless processing pass: reclaim stale claims,
// claim one batch, run the pipeline per job on a bounded pool, write
// back each outcome. Safe to run from overlapping invocations; all
// coordination lives in the job store's conditional updates.
func (w *Worker) RunOnce(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	reclaimed, err := w.repo.ReclaimStale(ctx, w.cfg.LockTTL)

	if err != nil {
		return res, fmt.Errorf("reclaim stale: %w", err)
	}

	res.StaleReclaimed = reclaimed

	if reclaimed > 0 {
		w.metrics.AddStaleReaped(uint64(reclaimed))
		if w.prom != nil {
			w.prom.StaleReaped.Add(float64(reclaimed))
		}
		w.log.WarnContext(ctx, "jobs.stale_reclaimed", "count", reclaimed)
	}

	batch, err := w.repo.ClaimBatch(ctx, w.cfg.WorkerID, w.cfg.BatchSize)

	if err != nil {
		return res, fmt.Errorf("claim batch: %w", err)
	}

	res.Claimed = len(batch)

	if len(batch) == 0 {
		return res, nil
	}

	// Jobs are independent after claiming; the pool is throughput
	// tuning, not a correctness requirement.
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.cfg.Concurrency)
	)

	for _, j := range batch {
		w.metrics.IncClaimed()

		wg.Add(1)
		sem <- struct{}{}

		go func(j job.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := w.processOne(ctx, j)

			mu.Lock()
			switch outcome {
			case resultCompleted:
				res.Completed++
			case resultRetried:
				res.Retried++
			case resultDeadLettered:
				res.DeadLettered++
			}
			mu.Unlock()
		}(j)
	}

	wg.Wait()

	w.log.InfoContext(ctx, "jobs.batch_complete",
		"worker_id", w.cfg.WorkerID,
		"claimed", res.Claimed,
		"completed", res.Completed,
		"retried", res.Retried,
		"dead_lettered", res.DeadLettered,
	)

	return res, nil
}

type result int

const (
	resultSkipped result = iota
	resultCompleted
	resultRetried
	resultDeadLettered
)

// processOne runs the pipeline for a single claimed job and reconciles
// its outcome. Panics and errors are contained here: one bad job never
// takes down its batch siblings.
func (w *Worker) processOne(ctx context.Context, j job.Job) (outcome result) {
	start := time.Now()

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	var out issuance.Outcome
	var runErr error

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("pipeline panic: %v", rec)
			}
		}()
		out, runErr = w.pipeline.Run(ctx, j)
	}()

	dur := time.Since(start)
	w.metrics.ObserveDuration(dur)

	if runErr == nil {
		outcome = w.reconcileSuccess(ctx, j, out)
	} else {
		outcome = w.reconcileFailure(ctx, j, out, runErr)
	}

	if w.prom != nil {
		label := "completed"
		switch outcome {
		case resultRetried:
			label = "retry"
		case resultDeadLettered:
			label = "failed"
		case resultSkipped:
			label = "skipped"
		}
		w.prom.JobResults.WithLabelValues(label).Inc()
		w.prom.JobDuration.WithLabelValues(label).Observe(dur.Seconds())
	}

	return outcome
}

func (w *Worker) reconcileSuccess(ctx context.Context, j job.Job, out issuance.Outcome) result {
	walletRaw, metaRaw := encodeOutcome(out)

	err := w.repo.MarkCompleted(ctx, j.ID, w.cfg.WorkerID, job.CompletionUpdate{
		CardID:         out.CardID,
		QRURL:          out.QRURL,
		WalletPassURLs: walletRaw,
		Metadata:       metaRaw,
	})

	if err != nil {
		// lost ownership: another invocation already moved the job.
		w.log.WarnContext(ctx, "jobs.completed_writeback_skipped",
			"job_id", j.ID, "error", err.Error())
		return resultSkipped
	}

	w.metrics.IncCompleted()
	w.log.InfoContext(ctx, "jobs.completed",
		"job_id", j.ID,
		"attendee_id", j.AttendeeID,
		"card_id", out.CardID,
		"retry_count", j.RetryCount,
	)
	return resultCompleted
}

func (w *Worker) reconcileFailure(ctx context.Context, j job.Job, out issuance.Outcome, runErr error) result {
	partial := progressFrom(out)
	errMsg := runErr.Error()

	attempt := j.RetryCount + 1
	dead := attempt >= j.MaxRetries || issuance.IsPermanent(runErr)

	if dead {
		if err := w.repo.MarkFailed(ctx, j.ID, w.cfg.WorkerID, errMsg, partial); err != nil {
			w.log.WarnContext(ctx, "jobs.failed_writeback_skipped",
				"job_id", j.ID, "error", err.Error())
			return resultSkipped
		}

		w.metrics.IncDeadLettered()
		w.log.ErrorContext(ctx, "jobs.dead_lettered",
			"job_id", j.ID,
			"attendee_id", j.AttendeeID,
			"retry_count", attempt,
			"permanent", issuance.IsPermanent(runErr),
			"error", errMsg,
		)
		return resultDeadLettered
	}

	notBefore := time.Now().UTC().Add(RetryBackoff(j.RetryCount))

	if err := w.repo.Reschedule(ctx, j.ID, w.cfg.WorkerID, notBefore, errMsg, partial); err != nil {
		w.log.WarnContext(ctx, "jobs.retry_writeback_skipped",
			"job_id", j.ID, "error", err.Error())
		return resultSkipped
	}

	w.metrics.IncRetried()
	w.log.WarnContext(ctx, "jobs.retry_scheduled",
		"job_id", j.ID,
		"attendee_id", j.AttendeeID,
		"retry_count", attempt,
		"max_retries", j.MaxRetries,
		"not_before", notBefore,
		"error", errMsg,
	)
	return resultRetried
}

// Run is the long-lived driver: one RunOnce per tick. Deployments with
// an external scheduler call RunOnce directly instead.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")
			return nil

		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.ErrorContext(ctx, "jobs.invocation_failed", "error", err.Error())
			}
		}
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func encodeOutcome(out issuance.Outcome) (wallet, meta []byte) {
	if raw, err := passes.EncodeWalletPasses(out.WalletPasses); err == nil {
		wallet = raw
	}
	if raw, err := out.Metadata.JSON(); err == nil {
		meta = raw
	}
	return wallet, meta
}

func progressFrom(out issuance.Outcome) job.ProgressUpdate {
	var p job.ProgressUpdate

	if out.CardID != "" {
		cardID := out.CardID
		p.CardID = &cardID
	}
	if out.QRURL != "" {
		qrURL := out.QRURL
		p.QRURL = &qrURL
	}

	p.WalletPassURLs, p.Metadata = encodeOutcome(out)
	return p
}
