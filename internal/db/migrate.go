package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the schema. Statements are idempotent so startup can run
// this unconditionally when database.migrate is enabled.
func Migrate(ctx context.Context, pool *sql.DB) error {
	for _, stmt := range schema {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hosts (
		id BIGSERIAL PRIMARY KEY,
		owner_user_id BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL DEFAULT 'pending',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		price_per_kwh BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
		amount BIGINT NOT NULL CHECK (amount >= 0),
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		reference_id TEXT NOT NULL UNIQUE,
		booking_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user
		ON wallet_transactions (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS booking_requests (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		host_id BIGINT NOT NULL,
		vehicle_number TEXT NOT NULL,
		scheduled_time TIMESTAMPTZ NOT NULL,
		estimated_duration_minutes INT NOT NULL,
		estimated_cost BIGINT NOT NULL,
		instant BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'declined', 'expired', 'cancelled')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_requests_pending
		ON booking_requests (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS charging_sessions (
		id BIGSERIAL PRIMARY KEY,
		booking_id BIGINT NOT NULL REFERENCES booking_requests (id),
		request_id TEXT NOT NULL,
		user_id BIGINT NOT NULL,
		host_id BIGINT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		duration_minutes INT NOT NULL DEFAULT 0,
		energy_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('ongoing', 'completed', 'cancelled')),
		transaction_id BIGINT,
		flagged BOOLEAN NOT NULL DEFAULT FALSE,
		rating INT CHECK (rating BETWEEN 1 AND 5),
		review TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_charging_sessions_host_ongoing
		ON charging_sessions (host_id) WHERE status = 'ongoing'`,
	`CREATE INDEX IF NOT EXISTS idx_charging_sessions_user
		ON charging_sessions (user_id, start_time DESC)`,
}
