package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const (
	depositColumns = `id, user_id, amount, local_amount, method, transaction_ref, screenshot_url,
	status, reviewed_by, created_at, updated_at`

	withdrawalColumns = `id, user_id, amount, local_amount, method, account_title, account_number,
	status, reviewed_by, created_at, updated_at`

	claimColumns      = `id, user_id, claim_key, amount, machine_count, created_at`
	commissionColumns = `id, beneficiary_id, source_user_id, level, source_type, source_ref, amount, created_at`
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Columns are scanned into plain types first; domain types are converted afterwards.

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u                 domain.User
		balance, earnings int64
		referredBy        *int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PhoneNumber, &u.PasswordHash, &u.ReferralCode, &referredBy,
		&u.ReferredByCode, &balance, &earnings, &u.TotalMiners, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return domain.User{}, scanErr(err, "user")
	}
	u.ReferredBy = referredBy
	u.Balance = money.Amount(balance)
	u.TotalReferralEarnings = money.Amount(earnings)
	return u, nil
}

func scanDeposit(row rowScanner) (domain.DepositRequest, error) {
	var (
		d              domain.DepositRequest
		amount, local  int64
		method, status string
		reviewedBy     *int64
	)
	err := row.Scan(&d.ID, &d.UserID, &amount, &local, &method, &d.TransactionRef, &d.ScreenshotURL,
		&status, &reviewedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.DepositRequest{}, scanErr(err, "deposit request")
	}
	d.Amount, d.LocalAmount = money.Amount(amount), money.Amount(local)
	d.Method, d.Status, d.ReviewedBy = domain.PaymentMethod(method), domain.Status(status), reviewedBy
	return d, nil
}

func scanWithdrawal(row rowScanner) (domain.WithdrawalRequest, error) {
	var (
		w              domain.WithdrawalRequest
		amount, local  int64
		method, status string
		reviewedBy     *int64
	)
	err := row.Scan(&w.ID, &w.UserID, &amount, &local, &method, &w.AccountTitle, &w.AccountNumber,
		&status, &reviewedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return domain.WithdrawalRequest{}, scanErr(err, "withdrawal request")
	}
	w.Amount, w.LocalAmount = money.Amount(amount), money.Amount(local)
	w.Method, w.Status, w.ReviewedBy = domain.PaymentMethod(method), domain.Status(status), reviewedBy
	return w, nil
}

func scanClaim(row rowScanner) (domain.MiningClaim, error) {
	var (
		c      domain.MiningClaim
		amount int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.ClaimKey, &amount, &c.MachineCount, &c.CreatedAt); err != nil {
		return domain.MiningClaim{}, scanErr(err, "mining claim")
	}
	c.Amount = money.Amount(amount)
	return c, nil
}

func scanCommission(row rowScanner) (domain.CommissionEntry, error) {
	var (
		c          domain.CommissionEntry
		amount     int64
		sourceType string
	)
	err := row.Scan(&c.ID, &c.BeneficiaryID, &c.SourceUserID, &c.Level, &sourceType, &c.SourceRef, &amount, &c.CreatedAt)
	if err != nil {
		return domain.CommissionEntry{}, scanErr(err, "commission entry")
	}
	c.SourceType = domain.SourceType(sourceType)
	c.Amount = money.Amount(amount)
	return c, nil
}

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e      domain.LedgerEntry
		delta  int64
		reason string
	)
	if err := row.Scan(&e.ID, &e.UserID, &delta, &reason, &e.Reference, &e.CreatedAt); err != nil {
		return domain.LedgerEntry{}, scanErr(err, "ledger entry")
	}
	e.Delta = money.Amount(delta)
	e.Reason = domain.EntryReason(reason)
	return e, nil
}

// collectRows drains rows with scan. A query error passed in is returned as is.
func collectRows[T any](rows pgx.Rows, err error, scan func(rowScanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
