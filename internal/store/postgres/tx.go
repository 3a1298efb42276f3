package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const (
	queryLockUser    = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	queryUplineOf    = `SELECT referred_by FROM users WHERE id = $1`
	queryAddBalance  = `UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`
	queryAddEarnings = `UPDATE users SET total_referral_earnings = total_referral_earnings + $1 WHERE id = $2`
	querySetMiners   = `UPDATE users SET total_miners = $1 WHERE id = $2`
	queryInsertEntry = `INSERT INTO ledger_entries (user_id, delta, reason, reference, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`

	queryInsertClaim = `INSERT INTO mining_claims (user_id, claim_key, amount, machine_count, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	queryFindClaim   = `SELECT ` + claimColumns + ` FROM mining_claims WHERE user_id = $1 AND claim_key = $2`
	queryLastClaim   = `SELECT ` + claimColumns + ` FROM mining_claims WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	queryInsertCommission = `INSERT INTO commission_entries (beneficiary_id, source_user_id, level, source_type, source_ref, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	queryInsertDeposit = `INSERT INTO deposit_requests (user_id, amount, local_amount, method, transaction_ref, screenshot_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`

	queryLockDeposit   = `SELECT ` + depositColumns + ` FROM deposit_requests WHERE id = $1 FOR UPDATE`
	queryDecideDeposit = `UPDATE deposit_requests SET status = $1, reviewed_by = $2, updated_at = $3 WHERE id = $4`

	queryInsertWithdrawal = `INSERT INTO withdrawal_requests (user_id, amount, local_amount, method, account_title, account_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`

	queryLockWithdrawal   = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
	queryDecideWithdrawal = `UPDATE withdrawal_requests SET status = $1, reviewed_by = $2, updated_at = $3 WHERE id = $4`
)

// tx implements store.Tx over a pgx transaction.
type tx struct {
	tx pgx.Tx
}

// LockUsers takes row locks one id at a time in ascending order (deadlock prevention).
func (t *tx) LockUsers(ctx context.Context, ids ...int64) (map[int64]domain.User, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[int64]domain.User, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		u, err := scanUser(t.tx.QueryRow(ctx, queryLockUser, id))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		out[id] = u
	}
	return out, nil
}

func (t *tx) UplineOf(ctx context.Context, userID int64) (int64, bool, error) {
	var parent *int64
	if err := t.tx.QueryRow(ctx, queryUplineOf, userID).Scan(&parent); err != nil {
		return 0, false, scanErr(err, "upline")
	}
	if parent == nil {
		return 0, false, nil
	}
	return *parent, true, nil
}

func (t *tx) AddBalance(ctx context.Context, userID int64, delta money.Amount) (money.Amount, error) {
	var balance int64
	if err := t.tx.QueryRow(ctx, queryAddBalance, int64(delta), userID).Scan(&balance); err != nil {
		return 0, scanErr(err, "balance")
	}
	return money.Amount(balance), nil
}

func (t *tx) AddReferralEarnings(ctx context.Context, userID int64, amount money.Amount) error {
	tag, err := t.tx.Exec(ctx, queryAddEarnings, int64(amount), userID)
	if err != nil {
		return fmt.Errorf("add referral earnings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) SetTotalMiners(ctx context.Context, userID int64, n int) error {
	tag, err := t.tx.Exec(ctx, querySetMiners, n, userID)
	if err != nil {
		return fmt.Errorf("set total miners: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	e.CreatedAt = orNow(e.CreatedAt)
	err := t.tx.QueryRow(ctx, queryInsertEntry, e.UserID, int64(e.Delta), string(e.Reason), e.Reference, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", mapWriteErr(err))
	}
	return nil
}

func (t *tx) InsertMiningClaim(ctx context.Context, c *domain.MiningClaim) error {
	c.CreatedAt = orNow(c.CreatedAt)
	err := t.tx.QueryRow(ctx, queryInsertClaim, c.UserID, c.ClaimKey, int64(c.Amount), c.MachineCount, c.CreatedAt).Scan(&c.ID)
	return mapWriteErr(err)
}

func (t *tx) FindMiningClaim(ctx context.Context, userID int64, key string) (domain.MiningClaim, error) {
	return scanClaim(t.tx.QueryRow(ctx, queryFindClaim, userID, key))
}

func (t *tx) LastMiningClaim(ctx context.Context, userID int64) (domain.MiningClaim, error) {
	return scanClaim(t.tx.QueryRow(ctx, queryLastClaim, userID))
}

func (t *tx) InsertCommission(ctx context.Context, c *domain.CommissionEntry) error {
	c.CreatedAt = orNow(c.CreatedAt)
	err := t.tx.QueryRow(ctx, queryInsertCommission,
		c.BeneficiaryID, c.SourceUserID, c.Level, string(c.SourceType), c.SourceRef, int64(c.Amount), c.CreatedAt,
	).Scan(&c.ID)
	return mapWriteErr(err)
}

func (t *tx) InsertDeposit(ctx context.Context, d *domain.DepositRequest) error {
	d.CreatedAt = orNow(d.CreatedAt)
	d.UpdatedAt = d.CreatedAt
	err := t.tx.QueryRow(ctx, queryInsertDeposit,
		d.UserID, int64(d.Amount), int64(d.LocalAmount), string(d.Method), d.TransactionRef, d.ScreenshotURL, string(d.Status), d.CreatedAt,
	).Scan(&d.ID)
	return mapWriteErr(err)
}

func (t *tx) LockDeposit(ctx context.Context, id int64) (domain.DepositRequest, error) {
	return scanDeposit(t.tx.QueryRow(ctx, queryLockDeposit, id))
}

func (t *tx) UpdateDepositStatus(ctx context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error {
	return t.decide(ctx, queryDecideDeposit, id, status, reviewer, at)
}

func (t *tx) InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	w.CreatedAt = orNow(w.CreatedAt)
	w.UpdatedAt = w.CreatedAt
	err := t.tx.QueryRow(ctx, queryInsertWithdrawal,
		w.UserID, int64(w.Amount), int64(w.LocalAmount), string(w.Method), w.AccountTitle, w.AccountNumber, string(w.Status), w.CreatedAt,
	).Scan(&w.ID)
	return mapWriteErr(err)
}

func (t *tx) LockWithdrawal(ctx context.Context, id int64) (domain.WithdrawalRequest, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx, queryLockWithdrawal, id))
}

func (t *tx) UpdateWithdrawalStatus(ctx context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error {
	return t.decide(ctx, queryDecideWithdrawal, id, status, reviewer, at)
}

func (t *tx) decide(ctx context.Context, query string, id int64, status domain.Status, reviewer int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, query, string(status), reviewer, at, id)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
