package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/card"
	"github.com/outreachpass/passhub/internal/observability"
)

type CardsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCardsRepo(pool *pgxpool.Pool, prom *observability.Prom) *CardsRepo {
	return &CardsRepo{pool: pool, prom: prom}
}

func (r *CardsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// EnsureForAttendee creates the attendee's card and sets the
// attendee.card_id link in one transaction. The link update is
// conditional on card_id still being NULL: if a concurrent issuance
// won, the new card row is rolled back and the winner's card id is
// returned instead. At most one card per attendee, ever.
func (r *CardsRepo) EnsureForAttendee(ctx context.Context, a attendee.Attendee) (string, error) {
	if a.CardID != nil && *a.CardID != "" {
		return *a.CardID, nil
	}

	c := card.NewFromAttendee(a)

	op := "cards.ensure_for_attendee"
	var cardID string

	err := r.observe(op, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `INSERT INTO cards(
		id, tenant_id, owner_attendee_id, display_name,
		email, phone, org_name, title, links, is_personal,
		created_at, updated_at
	 ) VALUES (
		$1,$2,$3,$4,
		$5,$6,$7,$8,$9,$10,
		$11,$12
	 )
	 `, c.ID, c.TenantID, c.OwnerAttendeeID, c.DisplayName,
			nullable(c.Email), nullable(c.Phone), nullable(c.OrgName), nullable(c.Title), c.Links, c.IsPersonal,
			c.CreatedAt, c.UpdatedAt)

		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
		UPDATE attendees
		SET card_id = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND card_id IS NULL
	`, a.ID, c.ID)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			// lost the race; discard our card and read the winner's
			var existing *string

			err = tx.QueryRow(ctx, `SELECT card_id FROM attendees WHERE id = $1`, a.ID).Scan(&existing)

			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return attendee.ErrNotFound
				}
				return err
			}

			if existing == nil {
				return errors.New("attendee card link missing after race")
			}

			cardID = *existing
			return tx.Rollback(ctx)
		}

		cardID = c.ID
		return tx.Commit(ctx)
	})

	if err != nil {
		return "", err
	}

	return cardID, nil
}

func (r *CardsRepo) GetByID(ctx context.Context, id string) (card.Card, error) {
	var c card.Card
	var email, phone, org, title *string
	var err error
	op := "cards.get_by_id"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, owner_attendee_id, display_name,
		       email, phone, org_name, title, links, is_personal,
		       created_at, updated_at
		FROM cards
		WHERE id = $1
	`, id).Scan(
			&c.ID, &c.TenantID, &c.OwnerAttendeeID, &c.DisplayName,
			&email, &phone, &org, &title, &c.Links, &c.IsPersonal,
			&c.CreatedAt, &c.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return card.Card{}, card.ErrNotFound
		}
		return card.Card{}, err
	}

	c.Email = deref(email)
	c.Phone = deref(phone)
	c.OrgName = deref(org)
	c.Title = deref(title)

	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
