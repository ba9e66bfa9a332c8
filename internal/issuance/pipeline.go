package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/issuance/qr"
	"github.com/outreachpass/passhub/internal/issuance/wallet"
	"github.com/outreachpass/passhub/internal/notifications"
	"github.com/outreachpass/passhub/internal/passes"
)

// Keep these interfaces small so tests can fake them easily.

type AttendeeSource interface {
	GetByID(ctx context.Context, id string) (attendee.Attendee, error)
}

type CardIssuer interface {
	EnsureForAttendee(ctx context.Context, a attendee.Attendee) (string, error)
}

// PlatformFlags resolves which wallet platforms a tenant has enabled.
// Workers resolve flags per job tenant, never across tenants.
type PlatformFlags interface {
	WalletPlatforms(ctx context.Context, tenantID string) ([]passes.Platform, error)
}

// Outcome carries everything a pipeline attempt produced, including
// partial progress when the attempt failed. The worker persists it
// either way, so a retry resumes at the first incomplete step.
type Outcome struct {
	CardID       string
	QRURL        string
	WalletPasses []passes.WalletPass
	Metadata     passes.Metadata
}

type Pipeline struct {
	attendees AttendeeSource
	cards     CardIssuer
	qrgen     qr.Generator
	builder   wallet.Builder
	notifier  notifications.Notifier
	flags     PlatformFlags
	log       *slog.Logger
}

func New(
	attendees AttendeeSource,
	cards CardIssuer,
	qrgen qr.Generator,
	builder wallet.Builder,
	notifier notifications.Notifier,
	flags PlatformFlags,
	log *slog.Logger,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		attendees: attendees,
		cards:     cards,
		qrgen:     qrgen,
		builder:   builder,
		notifier:  notifier,
		flags:     flags,
		log:       log,
	}
}

// Run executes the per-job issuance sequence:
// ensure card -> generate QR -> wallet pass(es) -> notify.
// Steps whose output is already on the job are skipped, which is what
// makes re-running a partially complete job safe. Notify is
// best-effort and never fails the attempt.
func (p *Pipeline) Run(ctx context.Context, j job.Job) (Outcome, error) {
	out := Outcome{}

	meta, err := passes.DecodeMetadata(j.Metadata)

	if err != nil {
		return out, Permanent(fmt.Errorf("decode metadata: %w", err))
	}
	out.Metadata = meta

	// Step 0: attendee must exist and be issuable at all.
	a, err := p.attendees.GetByID(ctx, j.AttendeeID)

	if err != nil {
		if errors.Is(err, attendee.ErrNotFound) {
			return out, Permanent(fmt.Errorf("attendee %s: %w", j.AttendeeID, err))
		}
		return out, fmt.Errorf("fetch attendee: %w", err)
	}

	if !a.HasContact() {
		return out, Permanent(fmt.Errorf("attendee %s has no usable contact data", a.ID))
	}

	// Step 1: ensure card. The attendee's card_id is authoritative;
	// EnsureForAttendee reuses it and never creates a second card.
	if j.CardID != nil && *j.CardID != "" {
		out.CardID = *j.CardID
	} else {
		cardID, err := p.cards.EnsureForAttendee(ctx, a)

		if err != nil {
			if errors.Is(err, attendee.ErrNotFound) {
				return out, Permanent(err)
			}
			return out, fmt.Errorf("ensure card: %w", err)
		}
		out.CardID = cardID
	}

	// Step 2: QR code for the card's public view.
	if j.QRURL != nil && *j.QRURL != "" {
		out.QRURL = *j.QRURL
	} else {
		qrURL, err := p.qrgen.GenerateQR(ctx, j.TenantID, out.CardID)

		if err != nil {
			return out, fmt.Errorf("generate qr: %w", err)
		}
		out.QRURL = qrURL
	}

	// Step 3: wallet passes, one per requested platform. A platform
	// failing is recorded against that platform and does not block the
	// others; the attempt as a whole still fails so the missing
	// platform gets retried.
	existing, err := passes.DecodeWalletPasses(j.WalletPassURLs)

	if err != nil {
		return out, Permanent(fmt.Errorf("decode wallet passes: %w", err))
	}
	out.WalletPasses = existing

	platforms, err := p.requestedPlatforms(ctx, meta, j.TenantID)

	if err != nil {
		return out, fmt.Errorf("resolve platforms: %w", err)
	}

	var walletErr error

	for _, platform := range platforms {
		if passes.HasPlatform(out.WalletPasses, platform) {
			continue
		}

		url, err := p.builder.BuildPass(ctx, out.CardID, platform)

		if err != nil {
			if out.Metadata.PlatformErrors == nil {
				out.Metadata.PlatformErrors = make(map[passes.Platform]string)
			}
			out.Metadata.PlatformErrors[platform] = err.Error()

			p.log.WarnContext(ctx, "wallet.pass_failed",
				"job_id", j.ID,
				"card_id", out.CardID,
				"platform", platform,
				"error", err.Error(),
			)

			walletErr = fmt.Errorf("wallet pass %s: %w", platform, err)
			continue
		}

		delete(out.Metadata.PlatformErrors, platform)
		out.WalletPasses = append(out.WalletPasses, passes.WalletPass{Platform: platform, URL: url})
	}

	if walletErr != nil {
		return out, walletErr
	}

	// Step 4: notify. Failure is recorded on the job's metadata and
	// recovered locally; issuance still counts as completed.
	if a.Email != "" {
		err := p.notifier.SendPassIssued(ctx, notifications.SendPassIssuedInput{
			Email:    a.Email,
			Name:     a.DisplayName(),
			CardID:   out.CardID,
			QRURL:    out.QRURL,
			PassURLs: out.WalletPasses,
		})

		if err != nil {
			out.Metadata.NotifyError = err.Error()

			p.log.WarnContext(ctx, "notification.pass_issued_failed",
				"job_id", j.ID,
				"attendee_id", a.ID,
				"error", err.Error(),
			)
		} else {
			now := time.Now().UTC()
			out.Metadata.NotifiedAt = &now
			out.Metadata.NotifyError = ""
		}
	}

	return out, nil
}

func (p *Pipeline) requestedPlatforms(ctx context.Context, meta passes.Metadata, tenantID string) ([]passes.Platform, error) {
	if len(meta.Platforms) > 0 {
		return meta.Platforms, nil
	}

	if p.flags == nil {
		return nil, nil
	}

	return p.flags.WalletPlatforms(ctx, tenantID)
}
