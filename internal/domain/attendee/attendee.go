package attendee

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("attendee not found")

// an Attendee belongs to exactly one event and one tenant.
// CardID is the single authoritative attendee -> card link; it is set
// once by the issuance transaction and never overwritten.

type Attendee struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	TenantID    string    `json:"tenantId"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	OrgName     string    `json:"orgName,omitempty"`
	Title       string    `json:"title,omitempty"`
	LinkedInURL string    `json:"linkedinUrl,omitempty"`
	CardID      *string   `json:"cardId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DisplayName is the name printed on the issued card. Falls back to the
// email when no name fields are set.
func (a Attendee) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))

	if name != "" {
		return name
	}

	if a.Email != "" {
		return a.Email
	}

	return "Attendee"
}

// HasContact reports whether the attendee carries enough contact data to
// issue a card at all.
func (a Attendee) HasContact() bool {
	return strings.TrimSpace(a.Email) != "" ||
		strings.TrimSpace(a.Phone) != "" ||
		strings.TrimSpace(a.FirstName) != "" ||
		strings.TrimSpace(a.LastName) != ""
}
