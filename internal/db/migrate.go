package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the idempotent schema. The partial unique index on
// pass_generation_jobs enforces at most one live job per attendee at
// the database level, which is what makes job creation a true
// insert-if-absent under concurrent triggers.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attendees (
			id UUID PRIMARY KEY,
			event_id UUID NOT NULL,
			tenant_id UUID NOT NULL,
			email TEXT,
			phone TEXT,
			first_name TEXT,
			last_name TEXT,
			org_name TEXT,
			title TEXT,
			linkedin_url TEXT,
			card_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			owner_attendee_id UUID,
			display_name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			org_name TEXT,
			title TEXT,
			links JSONB NOT NULL DEFAULT '{}',
			is_personal BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS pass_generation_jobs (
			id UUID PRIMARY KEY,
			attendee_id UUID NOT NULL,
			tenant_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			card_id UUID,
			qr_url TEXT,
			wallet_pass_url JSONB,
			error_message TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 3,
			not_before TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			locked_by TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS pass_jobs_one_active_per_attendee
			ON pass_generation_jobs (attendee_id)
			WHERE status IN ('pending','processing')`,
		`CREATE INDEX IF NOT EXISTS pass_jobs_claim_order
			ON pass_generation_jobs (created_at)
			WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS pass_jobs_status
			ON pass_generation_jobs (status, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS admin_users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
