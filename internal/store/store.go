// Package store defines the persistence ports of the ledger. Balance-affecting work happens
// inside Tx, which implementations back with row-level locking.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// RequestFilter narrows deposit and withdrawal listings. Zero values match everything.
type RequestFilter struct {
	UserID int64
	Status domain.Status
	Limit  int
}

// Tx is a unit of work. Every mutation made through it commits or rolls back together.
type Tx interface {
	// LockUsers acquires row locks on the given users in ascending id order and returns them.
	// It fails with ErrNotFound if any id is unknown.
	LockUsers(ctx context.Context, ids ...int64) (map[int64]domain.User, error)
	// UplineOf returns the referrer of userID, if any.
	UplineOf(ctx context.Context, userID int64) (int64, bool, error)
	// AddBalance applies a signed delta to a locked user and returns the new balance.
	AddBalance(ctx context.Context, userID int64, delta money.Amount) (money.Amount, error)
	AddReferralEarnings(ctx context.Context, userID int64, amount money.Amount) error
	// SetTotalMiners records how many mining machines a locked user owns.
	SetTotalMiners(ctx context.Context, userID int64, n int) error
	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error

	// InsertMiningClaim fails with ErrAlreadyExists when (UserID, ClaimKey) is taken.
	InsertMiningClaim(ctx context.Context, c *domain.MiningClaim) error
	FindMiningClaim(ctx context.Context, userID int64, key string) (domain.MiningClaim, error)
	LastMiningClaim(ctx context.Context, userID int64) (domain.MiningClaim, error)
	// InsertCommission fails with ErrAlreadyExists when (BeneficiaryID, SourceRef) is taken.
	InsertCommission(ctx context.Context, c *domain.CommissionEntry) error

	InsertDeposit(ctx context.Context, d *domain.DepositRequest) error
	LockDeposit(ctx context.Context, id int64) (domain.DepositRequest, error)
	UpdateDepositStatus(ctx context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error

	InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id int64) (domain.WithdrawalRequest, error)
	UpdateWithdrawalStatus(ctx context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error
}

// Store is the full persistence surface used by services.
type Store interface {
	// InTx runs fn in a transaction, committing if it returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// CreateUser fails with ErrAlreadyExists on a duplicate username or referral code.
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (domain.User, error)
	FindUserByReferralCode(ctx context.Context, code string) (domain.User, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	ListReferees(ctx context.Context, uplineID int64) ([]domain.User, error)

	ListDeposits(ctx context.Context, f RequestFilter) ([]domain.DepositRequest, error)
	ListWithdrawals(ctx context.Context, f RequestFilter) ([]domain.WithdrawalRequest, error)
	ListMiningClaims(ctx context.Context, userID int64) ([]domain.MiningClaim, error)
	ListCommissions(ctx context.Context, beneficiaryID int64) ([]domain.CommissionEntry, error)
	ListEntries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error)

	Close()
}
