// Package ledger applies balance mutations. Every operation runs inside the caller's
// store.Tx so that it commits, or rolls back, together with the rest of the unit of work.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

var balanceMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_balance_mutations_total",
	Help: "Committed balance mutations, labeled by reason",
}, []string{"reason"})

// Observe counts n committed mutations for reason. Callers invoke it once the
// transaction that applied them has committed, never from inside it.
func Observe(reason domain.EntryReason, n int) {
	if n > 0 {
		balanceMutations.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// Credit locks userID and increases its balance by amount.
func Credit(ctx context.Context, tx store.Tx, userID int64, amount money.Amount, reason domain.EntryReason, ref string) error {
	if !amount.IsPositive() {
		return domain.Errorf(domain.KindInvalidAmount, "credit amount must be positive, got %s", amount)
	}
	u, err := lockOne(ctx, tx, userID)
	if err != nil {
		return err
	}
	if _, err := u.Balance.Add(amount); err != nil {
		return domain.Errorf(domain.KindInvalidAmount, "credit of %s would exceed the maximum balance", amount)
	}
	if _, err := tx.AddBalance(ctx, userID, amount); err != nil {
		return fmt.Errorf("credit user %d: %w", userID, err)
	}
	return journal(ctx, tx, userID, amount, reason, ref)
}

// Debit locks userID and decreases its balance by amount. The balance check happens
// under the row lock, so concurrent debits cannot jointly overdraw.
func Debit(ctx context.Context, tx store.Tx, userID int64, amount money.Amount, reason domain.EntryReason, ref string) error {
	if !amount.IsPositive() {
		return domain.Errorf(domain.KindInvalidAmount, "debit amount must be positive, got %s", amount)
	}
	u, err := lockOne(ctx, tx, userID)
	if err != nil {
		return err
	}
	if u.Balance < amount {
		return domain.Errorf(domain.KindInsufficientFunds, "balance %s is below requested %s", u.Balance, amount)
	}
	if _, err := tx.AddBalance(ctx, userID, -amount); err != nil {
		return fmt.Errorf("debit user %d: %w", userID, err)
	}
	return journal(ctx, tx, userID, -amount, reason, ref)
}

// RecordMiningClaim appends the claim row and credits its amount. A reused claim key
// fails with store.ErrAlreadyExists before any balance change.
func RecordMiningClaim(ctx context.Context, tx store.Tx, claim *domain.MiningClaim) error {
	if !claim.Amount.IsPositive() {
		return domain.Errorf(domain.KindInvalidAmount, "claim amount must be positive, got %s", claim.Amount)
	}
	if claim.MachineCount <= 0 {
		return domain.Errorf(domain.KindValidation, "machine count must be positive")
	}
	if err := tx.InsertMiningClaim(ctx, claim); err != nil {
		return fmt.Errorf("insert mining claim: %w", err)
	}
	return Credit(ctx, tx, claim.UserID, claim.Amount, domain.ReasonMiningClaim, ClaimRef(claim.ID))
}

// RecordCommission appends the commission row, credits the beneficiary and raises their
// referral earnings counter. A second entry for the same (beneficiary, source) fails with
// store.ErrAlreadyExists.
func RecordCommission(ctx context.Context, tx store.Tx, entry *domain.CommissionEntry) error {
	if !entry.Amount.IsPositive() {
		return domain.Errorf(domain.KindInvalidAmount, "commission amount must be positive, got %s", entry.Amount)
	}
	if entry.Level != 1 && entry.Level != 2 {
		return domain.Errorf(domain.KindValidation, "commission level must be 1 or 2, got %d", entry.Level)
	}
	if entry.BeneficiaryID == entry.SourceUserID {
		return domain.Errorf(domain.KindReferralCycle, "user %d cannot earn commission on itself", entry.SourceUserID)
	}
	if err := tx.InsertCommission(ctx, entry); err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	if err := Credit(ctx, tx, entry.BeneficiaryID, entry.Amount, domain.ReasonCommission, entry.SourceRef); err != nil {
		return err
	}
	if err := tx.AddReferralEarnings(ctx, entry.BeneficiaryID, entry.Amount); err != nil {
		return fmt.Errorf("add referral earnings: %w", err)
	}
	return nil
}

func DepositRef(id int64) string    { return fmt.Sprintf("deposit:%d", id) }
func WithdrawalRef(id int64) string { return fmt.Sprintf("withdrawal:%d", id) }
func ClaimRef(id int64) string      { return fmt.Sprintf("claim:%d", id) }

func lockOne(ctx context.Context, tx store.Tx, userID int64) (domain.User, error) {
	users, err := tx.LockUsers(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "user %d not found", userID)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return users[userID], nil
}

func journal(ctx context.Context, tx store.Tx, userID int64, delta money.Amount, reason domain.EntryReason, ref string) error {
	if err := tx.AppendEntry(ctx, &domain.LedgerEntry{
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		Reference: ref,
	}); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}
