package service

import (
	"context"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const defaultListLimit = 100

// Deposits lists a user's deposit requests, newest first.
func (w *Workflow) Deposits(ctx context.Context, p domain.Principal, userID int64) ([]domain.DepositRequest, error) {
	if err := requireAccess(p, userID); err != nil {
		return nil, err
	}
	out, err := w.store.ListDeposits(ctx, store.RequestFilter{UserID: userID, Limit: defaultListLimit})
	return nonNil(out), err
}

// Withdrawals lists a user's withdrawal requests, newest first.
func (w *Workflow) Withdrawals(ctx context.Context, p domain.Principal, userID int64) ([]domain.WithdrawalRequest, error) {
	if err := requireAccess(p, userID); err != nil {
		return nil, err
	}
	out, err := w.store.ListWithdrawals(ctx, store.RequestFilter{UserID: userID, Limit: defaultListLimit})
	return nonNil(out), err
}

// ReviewDeposits lists deposit requests across users for the admin queue. An empty
// status means pending.
func (w *Workflow) ReviewDeposits(ctx context.Context, admin domain.Principal, status domain.Status) ([]domain.DepositRequest, error) {
	f, err := reviewFilter(admin, status)
	if err != nil {
		return nil, err
	}
	out, err := w.store.ListDeposits(ctx, f)
	return nonNil(out), err
}

func (w *Workflow) ReviewWithdrawals(ctx context.Context, admin domain.Principal, status domain.Status) ([]domain.WithdrawalRequest, error) {
	f, err := reviewFilter(admin, status)
	if err != nil {
		return nil, err
	}
	out, err := w.store.ListWithdrawals(ctx, f)
	return nonNil(out), err
}

func (w *Workflow) MiningClaims(ctx context.Context, p domain.Principal, userID int64) ([]domain.MiningClaim, error) {
	if err := requireAccess(p, userID); err != nil {
		return nil, err
	}
	out, err := w.store.ListMiningClaims(ctx, userID)
	return nonNil(out), err
}

func (w *Workflow) Commissions(ctx context.Context, p domain.Principal, userID int64) ([]domain.CommissionEntry, error) {
	if err := requireAccess(p, userID); err != nil {
		return nil, err
	}
	out, err := w.store.ListCommissions(ctx, userID)
	return nonNil(out), err
}

// Entries returns the balance journal of a user.
func (w *Workflow) Entries(ctx context.Context, p domain.Principal, userID int64) ([]domain.LedgerEntry, error) {
	if err := requireAccess(p, userID); err != nil {
		return nil, err
	}
	out, err := w.store.ListEntries(ctx, userID)
	return nonNil(out), err
}

func reviewFilter(admin domain.Principal, status domain.Status) (store.RequestFilter, error) {
	if err := requireAdmin(admin); err != nil {
		return store.RequestFilter{}, err
	}
	if status == "" {
		status = domain.StatusPending
	}
	if !status.Valid() {
		return store.RequestFilter{}, domain.Errorf(domain.KindValidation, "unknown status %q", status)
	}
	return store.RequestFilter{Status: status, Limit: defaultListLimit}, nil
}

// nonNil keeps empty listings rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
