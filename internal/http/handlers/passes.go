package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/outreachpass/passhub/internal/config"
	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/http/middlewares"
	"github.com/outreachpass/passhub/internal/passes"
	"github.com/outreachpass/passhub/internal/queue/amqppub"
	"github.com/outreachpass/passhub/internal/utils"
)

type PassJobsRepo interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
	CreateCompleted(ctx context.Context, attendeeID, tenantID, cardID string) (job.Job, error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	GetActiveByAttendee(ctx context.Context, attendeeID string) (job.Job, error)
	LatestCompletedByAttendee(ctx context.Context, attendeeID string) (job.Job, error)
}

type AttendeeReader interface {
	GetByID(ctx context.Context, id string) (attendee.Attendee, error)
}

type PassesHandler struct {
	jobs      PassJobsRepo
	attendees AttendeeReader
	pub       amqppub.Publisher
}

func NewPassesHandler(jobs PassJobsRepo, attendees AttendeeReader, pub amqppub.Publisher) *PassesHandler {
	if pub == nil {
		pub = amqppub.NopPublisher{}
	}

	return &PassesHandler{
		jobs:      jobs,
		attendees: attendees,
		pub:       pub,
	}
}

type IssuePassRequest struct {
	Platforms []string `json:"platforms" binding:"omitempty,dive,oneof=apple google"`
}

// POST /attendees/:id/issue
//
// The insert is the whole trigger: a partial unique index keeps one
// live job per attendee, so racing calls all converge on the same job.
func (h *PassesHandler) IssuePass(ctx *gin.Context) {
	attendeeID := ctx.Param("id")

	if !utils.IsUUID(attendeeID) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	var req IssuePassRequest

	// body is optional
	if ctx.Request.ContentLength > 0 {
		if !BindJSON(ctx, &req) {
			return
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	att, err := h.attendees.GetByID(cctx, attendeeID)

	if err != nil {
		if errors.Is(err, attendee.ErrNotFound) {
			RespondNotFound(ctx, "Attendee not found")
			return
		}

		RespondInternal(ctx, "Could not issue pass")
		return
	}

	// attendee already carries a card: nothing to generate, answer with
	// a completed job so the caller always polls the same shape.
	if att.CardID != nil && *att.CardID != "" {
		done, err := h.jobs.LatestCompletedByAttendee(cctx, attendeeID)

		if err != nil {
			if !errors.Is(err, job.ErrJobNotFound) {
				RespondInternal(ctx, "Could not issue pass")
				return
			}

			done, err = h.jobs.CreateCompleted(cctx, attendeeID, att.TenantID, *att.CardID)

			if err != nil {
				RespondInternal(ctx, "Could not issue pass")
				return
			}
		}

		ctx.Set(middlewares.CtxJobID, done.ID)
		ctx.JSON(http.StatusOK, gin.H{
			"jobId":         done.ID,
			"status":        done.Status,
			"cardId":        att.CardID,
			"alreadyIssued": true,
		})
		return
	}

	meta := passes.Metadata{RequestedBy: requesterFrom(ctx)}

	for _, p := range req.Platforms {
		meta.Platforms = append(meta.Platforms, passes.Platform(p))
	}

	rawMeta, err := meta.JSON()

	if err != nil {
		RespondInternal(ctx, "Could not issue pass")
		return
	}

	j, err := h.jobs.Create(cctx, job.CreateRequest{
		AttendeeID: attendeeID,
		TenantID:   att.TenantID,
		Metadata:   rawMeta,
	})

	if err != nil {
		if errors.Is(err, job.ErrActiveJob) {
			active, gerr := h.jobs.GetActiveByAttendee(cctx, attendeeID)

			if gerr != nil {
				RespondInternal(ctx, "Could not issue pass")
				return
			}

			ctx.Set(middlewares.CtxJobID, active.ID)
			ctx.JSON(http.StatusAccepted, gin.H{
				"jobId":         active.ID,
				"status":        active.Status,
				"alreadyQueued": true,
			})
			return
		}

		RespondInternal(ctx, "Could not issue pass")
		return
	}

	// best-effort nudge, the worker polls regardless
	if perr := h.pub.JobQueued(cctx, j); perr != nil {
		slog.Default().WarnContext(cctx, "pass.job.nudge_failed",
			"job_id", j.ID,
			"error", perr.Error(),
		)
	}

	ctx.Set(middlewares.CtxJobID, j.ID)
	slog.Default().InfoContext(cctx, "pass.job.enqueue",
		"request_id", requestIDFrom(ctx),
		"job_id", j.ID,
		"attendee_id", attendeeID,
	)

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":  j.ID,
		"status": j.Status,
	})
}

// GET /passes/jobs/:id

func (h *PassesHandler) GetJob(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	j, err := h.jobs.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}

		RespondInternal(ctx, "Could not fetch job")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"job":             j,
		"progressMessage": progressMessage(j),
	})
}

func progressMessage(j job.Job) string {
	switch j.Status {
	case job.StatusPending:
		return "Pass generation queued, waiting to be processed"
	case job.StatusProcessing:
		return "Generating pass and QR code..."
	case job.StatusCompleted:
		return "Pass generated successfully"
	case job.StatusFailed:
		if j.ErrorMessage != nil && *j.ErrorMessage != "" {
			return "Pass generation failed: " + *j.ErrorMessage
		}
		return "Pass generation failed"
	default:
		return "Status: " + string(j.Status)
	}
}

func requesterFrom(ctx *gin.Context) string {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		return ""
	}
	return id
}
