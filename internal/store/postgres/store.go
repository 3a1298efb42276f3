// Package postgres is the pgx-backed ledger store. Balance-affecting work runs in READ
// COMMITTED transactions that lock user rows with SELECT ... FOR UPDATE in ascending id
// order, so a waiting transaction always re-reads the committed balance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

var _ store.Store = (*Store)(nil)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type Store struct {
	db DB
}

// Open connects to databaseURL, verifies the connection and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := New(pool)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool without migrating.
func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

// InTx runs fn in a READ COMMITTED transaction. Writes are never retried; a failed fn
// rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ptx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = ptx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &tx{tx: ptx}); err != nil {
		closed = true
		if rbErr := ptx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("tx rollback failed: %w", rbErr))
		}
		return err
	}

	err = ptx.Commit(ctx)
	closed = true
	if err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

const userColumns = `id, username, phone_number, password_hash, referral_code, referred_by, referred_by_code,
	balance, total_referral_earnings, total_miners, is_admin, created_at`

const (
	queryInsertUser = `INSERT INTO users (username, phone_number, password_hash, referral_code, referred_by, referred_by_code, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	queryUserByID       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	queryUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	queryUserByCode     = `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	queryUpdatePassword = `UPDATE users SET password_hash = $1 WHERE id = $2`
	queryReferees       = `SELECT ` + userColumns + ` FROM users WHERE referred_by = $1 ORDER BY id`

	queryClaimsByUser      = `SELECT ` + claimColumns + ` FROM mining_claims WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	queryCommissionsByUser = `SELECT ` + commissionColumns + ` FROM commission_entries WHERE beneficiary_id = $1 ORDER BY id DESC`
	queryEntriesByUser     = `SELECT id, user_id, delta, reason, reference, created_at FROM ledger_entries WHERE user_id = $1 ORDER BY id DESC`
)

func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, queryInsertUser,
		u.Username, u.PhoneNumber, u.PasswordHash, u.ReferralCode, u.ReferredBy, u.ReferredByCode, u.IsAdmin, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return domain.User{}, mapWriteErr(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return retryRead(ctx, func() (domain.User, error) {
		return scanUser(s.db.QueryRow(ctx, queryUserByID, id))
	})
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return retryRead(ctx, func() (domain.User, error) {
		return scanUser(s.db.QueryRow(ctx, queryUserByUsername, username))
	})
}

func (s *Store) FindUserByReferralCode(ctx context.Context, code string) (domain.User, error) {
	return retryRead(ctx, func() (domain.User, error) {
		return scanUser(s.db.QueryRow(ctx, queryUserByCode, code))
	})
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := s.db.Exec(ctx, queryUpdatePassword, hash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListReferees(ctx context.Context, uplineID int64) ([]domain.User, error) {
	return retryRead(ctx, func() ([]domain.User, error) {
		rows, err := s.db.Query(ctx, queryReferees, uplineID)
		return collectRows(rows, err, scanUser)
	})
}

func (s *Store) ListDeposits(ctx context.Context, f store.RequestFilter) ([]domain.DepositRequest, error) {
	query, args := filtered(`SELECT `+depositColumns+` FROM deposit_requests`, f)
	return retryRead(ctx, func() ([]domain.DepositRequest, error) {
		rows, err := s.db.Query(ctx, query, args...)
		return collectRows(rows, err, scanDeposit)
	})
}

func (s *Store) ListWithdrawals(ctx context.Context, f store.RequestFilter) ([]domain.WithdrawalRequest, error) {
	query, args := filtered(`SELECT `+withdrawalColumns+` FROM withdrawal_requests`, f)
	return retryRead(ctx, func() ([]domain.WithdrawalRequest, error) {
		rows, err := s.db.Query(ctx, query, args...)
		return collectRows(rows, err, scanWithdrawal)
	})
}

func (s *Store) ListMiningClaims(ctx context.Context, userID int64) ([]domain.MiningClaim, error) {
	return retryRead(ctx, func() ([]domain.MiningClaim, error) {
		rows, err := s.db.Query(ctx, queryClaimsByUser, userID)
		return collectRows(rows, err, scanClaim)
	})
}

func (s *Store) ListCommissions(ctx context.Context, beneficiaryID int64) ([]domain.CommissionEntry, error) {
	return retryRead(ctx, func() ([]domain.CommissionEntry, error) {
		rows, err := s.db.Query(ctx, queryCommissionsByUser, beneficiaryID)
		return collectRows(rows, err, scanCommission)
	})
}

func (s *Store) ListEntries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	return retryRead(ctx, func() ([]domain.LedgerEntry, error) {
		rows, err := s.db.Query(ctx, queryEntriesByUser, userID)
		return collectRows(rows, err, scanEntry)
	})
}

// filtered appends the WHERE, ORDER BY and LIMIT clauses for a request listing.
func filtered(base string, f store.RequestFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	var b strings.Builder
	b.WriteString(base)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// mapWriteErr translates constraint violations into store sentinels.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return store.ErrAlreadyExists
		case "23503": // foreign_key_violation
			return store.ErrNotFound
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
