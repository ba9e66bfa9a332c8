package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal statuses never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNotProcessing = errors.New("job is not processing")
	ErrActiveJob     = errors.New("attendee already has an active job")
)

const DefaultMaxRetries = 3

// a Job is one unit of pass-issuance work for a single attendee.
// this maps to the pass_generation_jobs table.
// Output fields (CardID, QRURL, WalletPassURLs) fill in as the pipeline
// progresses; a retry resumes at the first empty one.

type Job struct {
	ID         string `json:"id"`
	AttendeeID string `json:"attendeeId"`
	TenantID   string `json:"tenantId"`
	Status     Status `json:"status"`

	CardID         *string         `json:"cardId,omitempty"`
	QRURL          *string         `json:"qrUrl,omitempty"`
	WalletPassURLs json.RawMessage `json:"walletPassUrls,omitempty"` // raw json list

	ErrorMessage *string `json:"errorMessage,omitempty"`
	RetryCount   int     `json:"retryCount"`
	MaxRetries   int     `json:"maxRetries"`

	NotBefore   time.Time  `json:"notBefore"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	LockedBy *string `json:"lockedBy,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type CreateRequest struct {
	AttendeeID string
	TenantID   string
	MaxRetries int
	Metadata   json.RawMessage
}

//  creation of a new pending job with defaults.

func New(req CreateRequest) Job {
	now := time.Now().UTC()

	maxR := req.MaxRetries

	if maxR <= 0 {
		maxR = DefaultMaxRetries
	}

	meta := req.Metadata

	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	return Job{
		ID:         uuid.NewString(),
		AttendeeID: req.AttendeeID,
		TenantID:   req.TenantID,
		Status:     StatusPending,
		RetryCount: 0,
		MaxRetries: maxR,
		NotBefore:  now,
		CreatedAt:  now,
		Metadata:   meta,
	}
}

// AttemptsLeft reports whether another automatic attempt is allowed
// after the current one fails.
func (j Job) AttemptsLeft() bool {
	return j.RetryCount+1 < j.MaxRetries
}
