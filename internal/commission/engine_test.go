package commission_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/rewardledger/internal/commission"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/store"
	"github.com/punchamoorthee/rewardledger/internal/store/memory"
)

// chain creates users named in order, each referred by the previous one.
func chain(t *testing.T, s *memory.Store, names ...string) []domain.User {
	t.Helper()
	var out []domain.User
	for i, name := range names {
		u := domain.User{Username: name, ReferralCode: "C" + name}
		if i > 0 {
			parent := out[i-1].ID
			u.ReferredBy = &parent
		}
		created, err := s.CreateUser(context.Background(), u)
		require.NoError(t, err)
		out = append(out, created)
	}
	return out
}

func post(t *testing.T, s *memory.Store, e *commission.Engine, ev commission.Event) ([]domain.CommissionEntry, error) {
	t.Helper()
	var entries []domain.CommissionEntry
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		f, err := e.Prepare(ctx, tx, ev.SourceUserID)
		if err != nil {
			return err
		}
		entries, err = e.Post(ctx, tx, f, ev)
		return err
	})
	return entries, err
}

func TestPostTwoLevels(t *testing.T) {
	s := memory.New()
	users := chain(t, s, "root", "c", "b", "a")
	root, c, b, a := users[0], users[1], users[2], users[3]
	e := commission.NewEngine(commission.DefaultRates())

	entries, err := post(t, s, e, commission.Event{
		SourceUserID: a.ID,
		SourceType:   domain.SourceDeposit,
		SourceRef:    "deposit:1",
		Amount:       money.Dollars(20),
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, b.ID, entries[0].BeneficiaryID)
	assert.Equal(t, 1, entries[0].Level)
	assert.Equal(t, money.MustParse("2.00"), entries[0].Amount)
	assert.Equal(t, c.ID, entries[1].BeneficiaryID)
	assert.Equal(t, 2, entries[1].Level)
	assert.Equal(t, money.MustParse("0.80"), entries[1].Amount)

	ctx := context.Background()
	for id, want := range map[int64]money.Amount{b.ID: money.MustParse("2.00"), c.ID: money.MustParse("0.80"), root.ID: 0, a.ID: 0} {
		u, err := s.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, u.Balance, "user %s", u.Username)
		assert.Equal(t, want, u.TotalReferralEarnings, "user %s", u.Username)
	}
}

func TestPostMissingUplines(t *testing.T) {
	s := memory.New()
	users := chain(t, s, "b", "a")
	loner := chain(t, s, "solo")[0]
	e := commission.NewEngine(commission.DefaultRates())

	entries, err := post(t, s, e, commission.Event{
		SourceUserID: users[1].ID,
		SourceType:   domain.SourceDailyClaim,
		SourceRef:    "claim:1",
		Amount:       money.MustParse("12.50"),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, money.MustParse("1.25"), entries[0].Amount)

	entries, err = post(t, s, e, commission.Event{
		SourceUserID: loner.ID,
		SourceType:   domain.SourceDailyClaim,
		SourceRef:    "claim:2",
		Amount:       money.Dollars(10),
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostReplayFails(t *testing.T) {
	s := memory.New()
	users := chain(t, s, "c", "b", "a")
	e := commission.NewEngine(commission.DefaultRates())
	ev := commission.Event{SourceUserID: users[2].ID, SourceType: domain.SourceDeposit, SourceRef: "deposit:7", Amount: money.Dollars(50)}

	_, err := post(t, s, e, ev)
	require.NoError(t, err)
	_, err = post(t, s, e, ev)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.ListCommissions(context.Background(), users[1].ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPlanSkipsZeroCents(t *testing.T) {
	e := commission.NewEngine(commission.DefaultRates())
	f := commission.Fanout{Source: 3, Uplines: []int64{2, 1}}

	// 0.10 * 0.04 = 0.004 rounds to zero; 0.10 * 0.10 = 0.01 survives
	entries, err := e.Plan(f, commission.Event{SourceUserID: 3, Amount: money.MustParse("0.10")})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Level)
	assert.Equal(t, money.Amount(1), entries[0].Amount)

	entries, err = e.Plan(commission.Fanout{Source: 3, Uplines: []int64{2, 1, 0}}, commission.Event{SourceUserID: 3, Amount: money.Dollars(100)})
	require.NoError(t, err)
	assert.Len(t, entries, 2, "never more than two levels")
}

func TestPostRejectsMismatchedFanout(t *testing.T) {
	s := memory.New()
	users := chain(t, s, "b", "a")
	e := commission.NewEngine(commission.DefaultRates())

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		f, err := e.Prepare(ctx, tx, users[1].ID)
		if err != nil {
			return err
		}
		_, err = e.Post(ctx, tx, f, commission.Event{SourceUserID: users[0].ID, SourceRef: "x", Amount: 100})
		return err
	})
	assert.Error(t, err)
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		size  int
		name  string
		bonus money.Amount
	}{
		{-1, "New Partner", 0},
		{0, "New Partner", 0},
		{29, "New Partner", 0},
		{30, "Junior Partner", money.Dollars(2)},
		{99, "Intermediate Partner", money.Dollars(5)},
		{100, "Senior Partner", money.Dollars(10)},
		{499, "Regional Partner", money.Dollars(15)},
		{500, "City Partner", money.Dollars(30)},
		{2499, "Executive Partner", money.Dollars(100)},
		{2500, "Corporate Partner", money.Dollars(1000)},
		{5000, "Consultant", money.Dollars(15000)},
		{1 << 20, "Consultant", money.Dollars(15000)},
	}
	for _, tt := range tests {
		got := commission.TierFor(tt.size)
		assert.Equal(t, tt.name, got.Name, "size %d", tt.size)
		assert.Equal(t, tt.bonus, got.Bonus, "size %d", tt.size)
	}

	for i := 1; i < len(commission.Tiers); i++ {
		assert.Equal(t, commission.Tiers[i-1].Max+1, commission.Tiers[i].Min, "tiers must be contiguous")
	}
}
