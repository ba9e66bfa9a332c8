package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outreachpass/passhub/internal/observability"
)

var ErrAdminUserNotFound = errors.New("admin user not found")

type AdminUserRow struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type AdminUsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAdminUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *AdminUsersRepo {
	return &AdminUsersRepo{pool: pool, prom: prom}
}

func (r *AdminUsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *AdminUsersRepo) GetByEmail(ctx context.Context, email string) (AdminUserRow, error) {
	op := "admin_users.get_by_email"

	var row AdminUserRow

	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, email, password_hash, created_at
			 FROM admin_users
			 WHERE email = $1`,
			email,
		).Scan(&row.ID, &row.Email, &row.PasswordHash, &row.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminUserRow{}, ErrAdminUserNotFound
		}
		return AdminUserRow{}, err
	}

	return row, nil
}
