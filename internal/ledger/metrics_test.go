package ledger

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

func TestMutationsCountedOnlyWhenObserved(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, domain.User{Username: "nadia", ReferralCode: "NADIA001"})
	require.NoError(t, err)

	counter := balanceMutations.WithLabelValues(string(domain.ReasonWithdrawalRefund))
	before := testutil.ToFloat64(counter)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := Credit(ctx, tx, u.ID, money.Dollars(5), domain.ReasonWithdrawalRefund, "withdrawal:1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, testutil.ToFloat64(counter), "rolled back work is not counted")

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return Credit(ctx, tx, u.ID, money.Dollars(5), domain.ReasonWithdrawalRefund, "withdrawal:2")
	}))
	assert.Equal(t, before, testutil.ToFloat64(counter))

	Observe(domain.ReasonWithdrawalRefund, 1)
	Observe(domain.ReasonWithdrawalRefund, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
