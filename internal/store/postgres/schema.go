package postgres

import (
	"context"
	"fmt"
)

// Amounts are BIGINT cents. Balance and earnings floors are enforced by the database as
// well as by the ledger.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		referral_code TEXT NOT NULL UNIQUE,
		referred_by BIGINT REFERENCES users(id),
		referred_by_code TEXT NOT NULL DEFAULT '',
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_referral_earnings BIGINT NOT NULL DEFAULT 0 CHECK (total_referral_earnings >= 0),
		total_miners INT NOT NULL DEFAULT 0 CHECK (total_miners >= 0),
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (referred_by IS NULL OR referred_by <> id)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (lower(username));`,
	`CREATE INDEX IF NOT EXISTS users_referred_by_idx ON users (referred_by);`,
	`CREATE TABLE IF NOT EXISTS deposit_requests (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		local_amount BIGINT NOT NULL,
		method TEXT NOT NULL CHECK (method IN ('easypaisa', 'jazzcash', 'crypto', 'bank')),
		transaction_ref TEXT NOT NULL,
		screenshot_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		reviewed_by BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS deposit_requests_user_idx ON deposit_requests (user_id, id DESC);`,
	`CREATE INDEX IF NOT EXISTS deposit_requests_status_idx ON deposit_requests (status, id DESC);`,
	`CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		local_amount BIGINT NOT NULL,
		method TEXT NOT NULL CHECK (method IN ('easypaisa', 'jazzcash', 'crypto', 'bank')),
		account_title TEXT NOT NULL,
		account_number TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		reviewed_by BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS withdrawal_requests_user_idx ON withdrawal_requests (user_id, id DESC);`,
	`CREATE INDEX IF NOT EXISTS withdrawal_requests_status_idx ON withdrawal_requests (status, id DESC);`,
	`CREATE TABLE IF NOT EXISTS mining_claims (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		claim_key TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		machine_count INT NOT NULL CHECK (machine_count > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, claim_key)
	);`,
	`CREATE INDEX IF NOT EXISTS mining_claims_user_idx ON mining_claims (user_id, created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS commission_entries (
		id BIGSERIAL PRIMARY KEY,
		beneficiary_id BIGINT NOT NULL REFERENCES users(id),
		source_user_id BIGINT NOT NULL REFERENCES users(id),
		level SMALLINT NOT NULL CHECK (level IN (1, 2)),
		source_type TEXT NOT NULL CHECK (source_type IN ('daily_claim', 'deposit')),
		source_ref TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (beneficiary_id, source_ref),
		CHECK (beneficiary_id <> source_user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		delta BIGINT NOT NULL CHECK (delta <> 0),
		reason TEXT NOT NULL,
		reference TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_user_idx ON ledger_entries (user_id, id DESC);`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}
