package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/observability"
)

type AttendeesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAttendeesRepo(pool *pgxpool.Pool, prom *observability.Prom) *AttendeesRepo {
	return &AttendeesRepo{pool: pool, prom: prom}
}

func (r *AttendeesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const attendeeColumns = `id, event_id, tenant_id, email, phone,
	first_name, last_name, org_name, title, linkedin_url,
	card_id, created_at, updated_at`

func (r *AttendeesRepo) GetByID(ctx context.Context, id string) (attendee.Attendee, error) {
	var a attendee.Attendee
	var err error
	op := "attendees.get_by_id"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
		SELECT `+attendeeColumns+`
		FROM attendees
		WHERE id = $1
	`, id)
		a, err = scanAttendee(row)
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return attendee.Attendee{}, attendee.ErrNotFound
		}
		return attendee.Attendee{}, err
	}

	return a, nil
}

func scanAttendee(row pgx.Row) (attendee.Attendee, error) {
	var a attendee.Attendee
	var email, phone, first, last, org, title, linkedin *string

	err := row.Scan(
		&a.ID, &a.EventID, &a.TenantID, &email, &phone,
		&first, &last, &org, &title, &linkedin,
		&a.CardID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return attendee.Attendee{}, err
	}

	a.Email = deref(email)
	a.Phone = deref(phone)
	a.FirstName = deref(first)
	a.LastName = deref(last)
	a.OrgName = deref(org)
	a.Title = deref(title)
	a.LinkedInURL = deref(linkedin)

	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
