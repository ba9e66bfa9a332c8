package card

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpass/passhub/internal/domain/attendee"
)

var ErrNotFound = errors.New("card not found")

// a Card is the digital contact card issued to an attendee. Event cards
// are snapshots of attendee contact fields at issuance time.

type Card struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	OwnerAttendeeID *string         `json:"ownerAttendeeId,omitempty"`
	DisplayName     string          `json:"displayName"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	OrgName         string          `json:"orgName,omitempty"`
	Title           string          `json:"title,omitempty"`
	Links           json.RawMessage `json:"links,omitempty"`
	IsPersonal      bool            `json:"isPersonal"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// A factory to build an event card from attendee contact fields.

func NewFromAttendee(a attendee.Attendee) Card {
	now := time.Now().UTC()

	links := map[string]string{}

	if a.LinkedInURL != "" {
		links["linkedin"] = a.LinkedInURL
	}

	raw, _ := json.Marshal(links)

	attendeeID := a.ID

	return Card{
		ID:              uuid.NewString(),
		TenantID:        a.TenantID,
		OwnerAttendeeID: &attendeeID,
		DisplayName:     a.DisplayName(),
		Email:           a.Email,
		Phone:           a.Phone,
		OrgName:         a.OrgName,
		Title:           a.Title,
		Links:           raw,
		IsPersonal:      false, // event-temporary card
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
