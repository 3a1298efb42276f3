// Package memory is an in-process store for local development and tests. Transactions
// are serialized and applied copy-on-commit, so a failed unit of work leaves no trace.
// State does not survive a restart; production deployments use the postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/referral"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type state struct {
	users       *referral.Forest
	byUsername  map[string]int64
	byCode      map[string]int64
	nextUserID  int64
	deposits    []domain.DepositRequest
	withdrawals []domain.WithdrawalRequest
	claims      []domain.MiningClaim
	commissions []domain.CommissionEntry
	entries     []domain.LedgerEntry
}

func (s *state) clone() *state {
	c := &state{
		users:       s.users.Clone(),
		byUsername:  make(map[string]int64, len(s.byUsername)),
		byCode:      make(map[string]int64, len(s.byCode)),
		nextUserID:  s.nextUserID,
		deposits:    append([]domain.DepositRequest(nil), s.deposits...),
		withdrawals: append([]domain.WithdrawalRequest(nil), s.withdrawals...),
		claims:      append([]domain.MiningClaim(nil), s.claims...),
		commissions: append([]domain.CommissionEntry(nil), s.commissions...),
		entries:     append([]domain.LedgerEntry(nil), s.entries...),
	}
	for k, v := range s.byUsername {
		c.byUsername[k] = v
	}
	for k, v := range s.byCode {
		c.byCode[k] = v
	}
	return c
}

// Store keeps all ledger state in memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: &state{
		users:      referral.NewForest(),
		byUsername: make(map[string]int64),
		byCode:     make(map[string]int64),
		nextUserID: 1,
	}}
}

func (s *Store) Close() {}

// InTx holds the write lock for the whole unit of work and swaps in the modified copy
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	if _, ok := st.byUsername[strings.ToLower(u.Username)]; ok {
		return domain.User{}, store.ErrAlreadyExists
	}
	if _, ok := st.byCode[u.ReferralCode]; ok {
		return domain.User{}, store.ErrAlreadyExists
	}
	u.ID = st.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := st.users.Add(u); err != nil {
		return domain.User{}, fmt.Errorf("add user: %w", err)
	}
	st.nextUserID++
	st.byUsername[strings.ToLower(u.Username)] = u.ID
	st.byCode[u.ReferralCode] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.st.users.Get(id)
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return *u, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	id, ok := s.st.byUsername[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) FindUserByReferralCode(ctx context.Context, code string) (domain.User, error) {
	s.mu.RLock()
	id, ok := s.st.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users.Get(userID)
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *Store) ListReferees(_ context.Context, uplineID int64) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, id := range s.st.users.Children(uplineID) {
		u, _ := s.st.users.Get(id)
		out = append(out, *u)
	}
	return out, nil
}

func (s *Store) ListDeposits(_ context.Context, f store.RequestFilter) ([]domain.DepositRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DepositRequest
	for i := len(s.st.deposits) - 1; i >= 0; i-- {
		d := s.st.deposits[i]
		if matches(f, d.UserID, d.Status) {
			out = append(out, d)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListWithdrawals(_ context.Context, f store.RequestFilter) ([]domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WithdrawalRequest
	for i := len(s.st.withdrawals) - 1; i >= 0; i-- {
		w := s.st.withdrawals[i]
		if matches(f, w.UserID, w.Status) {
			out = append(out, w)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListMiningClaims(_ context.Context, userID int64) ([]domain.MiningClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MiningClaim
	for i := len(s.st.claims) - 1; i >= 0; i-- {
		if s.st.claims[i].UserID == userID {
			out = append(out, s.st.claims[i])
		}
	}
	return out, nil
}

func (s *Store) ListCommissions(_ context.Context, beneficiaryID int64) ([]domain.CommissionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CommissionEntry
	for i := len(s.st.commissions) - 1; i >= 0; i-- {
		if s.st.commissions[i].BeneficiaryID == beneficiaryID {
			out = append(out, s.st.commissions[i])
		}
	}
	return out, nil
}

func (s *Store) ListEntries(_ context.Context, userID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for i := len(s.st.entries) - 1; i >= 0; i-- {
		if s.st.entries[i].UserID == userID {
			out = append(out, s.st.entries[i])
		}
	}
	return out, nil
}

func matches(f store.RequestFilter, userID int64, status domain.Status) bool {
	if f.UserID != 0 && f.UserID != userID {
		return false
	}
	return f.Status == "" || f.Status == status
}

// tx mutates a private copy of the state; the Store swaps it in on success.
type tx struct {
	st *state
}

func (t *tx) LockUsers(_ context.Context, ids ...int64) (map[int64]domain.User, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[int64]domain.User, len(sorted))
	for _, id := range sorted {
		u, ok := t.st.users.Get(id)
		if !ok {
			return nil, store.ErrNotFound
		}
		out[id] = *u
	}
	return out, nil
}

func (t *tx) UplineOf(ctx context.Context, userID int64) (int64, bool, error) {
	if _, ok := t.st.users.Get(userID); !ok {
		return 0, false, store.ErrNotFound
	}
	return t.st.users.UplineOf(ctx, userID)
}

func (t *tx) AddBalance(_ context.Context, userID int64, delta money.Amount) (money.Amount, error) {
	u, ok := t.st.users.Get(userID)
	if !ok {
		return 0, store.ErrNotFound
	}
	if u.Balance+delta < 0 {
		return 0, fmt.Errorf("balance of user %d would become negative", userID)
	}
	u.Balance += delta
	return u.Balance, nil
}

func (t *tx) AddReferralEarnings(_ context.Context, userID int64, amount money.Amount) error {
	u, ok := t.st.users.Get(userID)
	if !ok {
		return store.ErrNotFound
	}
	if amount < 0 {
		return fmt.Errorf("referral earnings cannot decrease")
	}
	u.TotalReferralEarnings += amount
	return nil
}

func (t *tx) SetTotalMiners(_ context.Context, userID int64, n int) error {
	u, ok := t.st.users.Get(userID)
	if !ok {
		return store.ErrNotFound
	}
	if n < 0 {
		return fmt.Errorf("machine count cannot be negative")
	}
	u.TotalMiners = n
	return nil
}

func (t *tx) AppendEntry(_ context.Context, e *domain.LedgerEntry) error {
	e.ID = int64(len(t.st.entries) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) InsertMiningClaim(_ context.Context, c *domain.MiningClaim) error {
	for _, existing := range t.st.claims {
		if existing.UserID == c.UserID && existing.ClaimKey == c.ClaimKey {
			return store.ErrAlreadyExists
		}
	}
	c.ID = int64(len(t.st.claims) + 1)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.st.claims = append(t.st.claims, *c)
	return nil
}

func (t *tx) FindMiningClaim(_ context.Context, userID int64, key string) (domain.MiningClaim, error) {
	for _, c := range t.st.claims {
		if c.UserID == userID && c.ClaimKey == key {
			return c, nil
		}
	}
	return domain.MiningClaim{}, store.ErrNotFound
}

func (t *tx) LastMiningClaim(_ context.Context, userID int64) (domain.MiningClaim, error) {
	for i := len(t.st.claims) - 1; i >= 0; i-- {
		if t.st.claims[i].UserID == userID {
			return t.st.claims[i], nil
		}
	}
	return domain.MiningClaim{}, store.ErrNotFound
}

func (t *tx) InsertCommission(_ context.Context, c *domain.CommissionEntry) error {
	for _, existing := range t.st.commissions {
		if existing.BeneficiaryID == c.BeneficiaryID && existing.SourceRef == c.SourceRef {
			return store.ErrAlreadyExists
		}
	}
	c.ID = int64(len(t.st.commissions) + 1)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.st.commissions = append(t.st.commissions, *c)
	return nil
}

func (t *tx) InsertDeposit(_ context.Context, d *domain.DepositRequest) error {
	if _, ok := t.st.users.Get(d.UserID); !ok {
		return store.ErrNotFound
	}
	d.ID = int64(len(t.st.deposits) + 1)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	t.st.deposits = append(t.st.deposits, *d)
	return nil
}

func (t *tx) LockDeposit(_ context.Context, id int64) (domain.DepositRequest, error) {
	if id <= 0 || id > int64(len(t.st.deposits)) {
		return domain.DepositRequest{}, store.ErrNotFound
	}
	return t.st.deposits[id-1], nil
}

func (t *tx) UpdateDepositStatus(_ context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error {
	if id <= 0 || id > int64(len(t.st.deposits)) {
		return store.ErrNotFound
	}
	d := &t.st.deposits[id-1]
	d.Status = status
	d.ReviewedBy = &reviewer
	d.UpdatedAt = at
	return nil
}

func (t *tx) InsertWithdrawal(_ context.Context, w *domain.WithdrawalRequest) error {
	if _, ok := t.st.users.Get(w.UserID); !ok {
		return store.ErrNotFound
	}
	w.ID = int64(len(t.st.withdrawals) + 1)
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	w.UpdatedAt = w.CreatedAt
	t.st.withdrawals = append(t.st.withdrawals, *w)
	return nil
}

func (t *tx) LockWithdrawal(_ context.Context, id int64) (domain.WithdrawalRequest, error) {
	if id <= 0 || id > int64(len(t.st.withdrawals)) {
		return domain.WithdrawalRequest{}, store.ErrNotFound
	}
	return t.st.withdrawals[id-1], nil
}

func (t *tx) UpdateWithdrawalStatus(_ context.Context, id int64, status domain.Status, reviewer int64, at time.Time) error {
	if id <= 0 || id > int64(len(t.st.withdrawals)) {
		return store.ErrNotFound
	}
	w := &t.st.withdrawals[id-1]
	w.Status = status
	w.ReviewedBy = &reviewer
	w.UpdatedAt = at
	return nil
}
