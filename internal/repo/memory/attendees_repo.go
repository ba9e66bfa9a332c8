package memory

import (
	"context"
	"sync"

	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/card"
)

type AttendeesRepo struct {
	mu    sync.RWMutex
	items map[string]attendee.Attendee
}

func NewAttendeesRepo() *AttendeesRepo {
	return &AttendeesRepo{
		items: make(map[string]attendee.Attendee),
	}
}

func (r *AttendeesRepo) Put(a attendee.Attendee) {
	r.mu.Lock()
	r.items[a.ID] = a
	r.mu.Unlock()
}

func (r *AttendeesRepo) GetByID(ctx context.Context, id string) (attendee.Attendee, error) {
	r.mu.RLock()
	a, ok := r.items[id]
	r.mu.RUnlock()

	if !ok {
		return attendee.Attendee{}, attendee.ErrNotFound
	}
	return a, nil
}

// CardsRepo pairs with AttendeesRepo so EnsureForAttendee can maintain
// the attendee -> card link the way the postgres transaction does.
type CardsRepo struct {
	mu        sync.Mutex
	attendees *AttendeesRepo
	items     map[string]card.Card

	EnsureCalls int
}

func NewCardsRepo(attendees *AttendeesRepo) *CardsRepo {
	return &CardsRepo{
		attendees: attendees,
		items:     make(map[string]card.Card),
	}
}

func (r *CardsRepo) EnsureForAttendee(ctx context.Context, a attendee.Attendee) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.EnsureCalls++

	current, err := r.attendees.GetByID(ctx, a.ID)
	if err != nil {
		return "", err
	}

	if current.CardID != nil && *current.CardID != "" {
		return *current.CardID, nil
	}

	c := card.NewFromAttendee(current)
	r.items[c.ID] = c

	current.CardID = &c.ID
	r.attendees.Put(current)

	return c.ID, nil
}

func (r *CardsRepo) GetByID(ctx context.Context, id string) (card.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[id]
	if !ok {
		return card.Card{}, card.ErrNotFound
	}
	return c, nil
}

func (r *CardsRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
