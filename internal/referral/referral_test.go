package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

// forestDirectory serves Directory reads from a Forest.
type forestDirectory struct {
	f       *Forest
	lookups int
}

func (d *forestDirectory) FindUserByReferralCode(_ context.Context, code string) (domain.User, error) {
	d.lookups++
	for _, u := range d.f.Users() {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return domain.User{}, store.ErrNotFound
}

func (d *forestDirectory) ListReferees(_ context.Context, uplineID int64) ([]domain.User, error) {
	var out []domain.User
	for _, id := range d.f.Children(uplineID) {
		u, _ := d.f.Get(id)
		out = append(out, *u)
	}
	return out, nil
}

func ptr(v int64) *int64 { return &v }

// buildTree:
//
//	1 ─┬─ 2 ─┬─ 4
//	   │     └─ 5 ── 7
//	   └─ 3 ── 6
func buildTree(t *testing.T) *Forest {
	t.Helper()
	f := NewForest()
	users := []domain.User{
		{ID: 1, ReferralCode: "AAAA0001"},
		{ID: 2, ReferralCode: "AAAA0002", ReferredBy: ptr(1)},
		{ID: 3, ReferralCode: "AAAA0003", ReferredBy: ptr(1)},
		{ID: 4, ReferralCode: "AAAA0004", ReferredBy: ptr(2)},
		{ID: 5, ReferralCode: "AAAA0005", ReferredBy: ptr(2)},
		{ID: 6, ReferralCode: "AAAA0006", ReferredBy: ptr(3)},
		{ID: 7, ReferralCode: "AAAA0007", ReferredBy: ptr(5)},
	}
	for _, u := range users {
		require.NoError(t, f.Add(u))
	}
	return f
}

func ids(users []domain.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestForestAdd(t *testing.T) {
	f := buildTree(t)
	assert.Equal(t, 7, f.Len())

	assert.Error(t, f.Add(domain.User{ID: 3}), "duplicate id")
	assert.ErrorIs(t, f.Add(domain.User{ID: 9, ReferredBy: ptr(9)}), domain.ErrReferralCycle)
	assert.Error(t, f.Add(domain.User{ID: 10, ReferredBy: ptr(99)}), "unknown upline")

	parent, ok := f.Parent(7)
	assert.True(t, ok)
	assert.Equal(t, int64(5), parent)
	_, ok = f.Parent(1)
	assert.False(t, ok)
	assert.Equal(t, []int64{4, 5}, f.Children(2))
}

func TestForestCloneIsIndependent(t *testing.T) {
	f := buildTree(t)
	c := f.Clone()
	u, _ := c.Get(1)
	u.Balance = 500
	require.NoError(t, c.Add(domain.User{ID: 8, ReferredBy: ptr(1)}))

	orig, _ := f.Get(1)
	assert.Zero(t, orig.Balance)
	assert.Equal(t, []int64{2, 3}, f.Children(1))
	assert.Equal(t, 7, f.Len())
}

func TestAncestors(t *testing.T) {
	f := buildTree(t)

	got, err := f.Ancestors(7, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2}, got)

	got, err = f.Ancestors(4, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, got)

	got, err = f.Ancestors(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)

	got, err = f.Ancestors(1, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type cyclicLookup map[int64]int64

func (c cyclicLookup) UplineOf(_ context.Context, id int64) (int64, bool, error) {
	p, ok := c[id]
	return p, ok, nil
}

func TestUplinesFailsClosedOnCycle(t *testing.T) {
	// 1 -> 2 -> 1 can only exist through corrupted data.
	_, err := Uplines(context.Background(), cyclicLookup{1: 2, 2: 1}, 1, 2)
	assert.ErrorIs(t, err, domain.ErrReferralCycle)

	_, err = Uplines(context.Background(), cyclicLookup{1: 1}, 1, 2)
	assert.ErrorIs(t, err, domain.ErrReferralCycle)
}

func TestResolverLevels(t *testing.T) {
	f := buildTree(t)
	r := NewResolver(&forestDirectory{f: f})
	ctx := context.Background()

	first, err := r.LevelOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(first))

	second, err := r.LevelTwo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, ids(second))

	team, err := r.Team(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, ids(team.LevelOne))
	assert.Equal(t, []int64{7}, ids(team.LevelTwo))
	assert.Equal(t, 3, team.Size)

	leaf, err := r.Team(ctx, 7)
	require.NoError(t, err)
	assert.NotNil(t, leaf.LevelOne)
	assert.Zero(t, leaf.Size)
}

func TestResolveCode(t *testing.T) {
	r := NewResolver(&forestDirectory{f: buildTree(t)})
	ctx := context.Background()

	u, err := r.ResolveCode(ctx, " aaaa0003 ")
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.ID)

	_, err = r.ResolveCode(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUplineFor(t *testing.T) {
	r := NewResolver(&forestDirectory{f: buildTree(t)})
	ctx := context.Background()

	up, err := r.UplineFor(ctx, "AAAA0002", "NEWCODE1")
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, int64(2), up.ID)

	for _, code := range []string{"", "UNKNOWN1", "newcode1"} {
		up, err := r.UplineFor(ctx, code, "NEWCODE1")
		assert.NoError(t, err)
		assert.Nil(t, up, code)
	}
}

func TestGenerateUniqueCode(t *testing.T) {
	dir := &forestDirectory{f: buildTree(t)}
	r := NewResolver(dir)

	code, err := r.GenerateUniqueCode(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.Equal(t, NormalizeCode(code), code)

	taken := []string{"AAAA0001", "AAAA0002", "FREECODE"}
	r.newCode = func() string {
		c := taken[0]
		taken = taken[1:]
		return c
	}
	code, err = r.GenerateUniqueCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FREECODE", code)

	dir.lookups = 0
	r.newCode = func() string { return "AAAA0001" }
	_, err = r.GenerateUniqueCode(context.Background())
	assert.True(t, errors.Is(err, domain.ErrCodeGeneration))
	assert.Equal(t, MaxCodeAttempts, dir.lookups)
}
