package commission

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/store"
	"github.com/punchamoorthee/rewardledger/internal/store/memory"
)

func TestPostedCountedAfterCommit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	parent, err := s.CreateUser(ctx, domain.User{Username: "parent", ReferralCode: "PARENT01"})
	require.NoError(t, err)
	child, err := s.CreateUser(ctx, domain.User{Username: "child", ReferralCode: "CHILD001", ReferredBy: &parent.ID})
	require.NoError(t, err)

	e := NewEngine(DefaultRates())
	counter := postedTotal.WithLabelValues("1", string(domain.SourceDailyClaim))
	before := testutil.ToFloat64(counter)

	var entries []domain.CommissionEntry
	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		f, err := e.Prepare(ctx, tx, child.ID)
		if err != nil {
			return err
		}
		if _, err := e.Post(ctx, tx, f, Event{SourceUserID: child.ID, SourceType: domain.SourceDailyClaim, SourceRef: "claim:1", Amount: money.Dollars(10)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, testutil.ToFloat64(counter), "rolled back entries are not counted")

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		f, err := e.Prepare(ctx, tx, child.ID)
		if err != nil {
			return err
		}
		entries, err = e.Post(ctx, tx, f, Event{SourceUserID: child.ID, SourceType: domain.SourceDailyClaim, SourceRef: "claim:2", Amount: money.Dollars(10)})
		return err
	}))
	require.Len(t, entries, 1)
	assert.Equal(t, before, testutil.ToFloat64(counter))

	Observe(entries)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestPlanRejectsOutOfRangeCommission(t *testing.T) {
	e := NewEngine(Rates{LevelOne: money.Max.Decimal(), LevelTwo: DefaultRates().LevelTwo})
	_, err := e.Plan(Fanout{Source: 2, Uplines: []int64{1}}, Event{SourceUserID: 2, Amount: money.Dollars(1000)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
