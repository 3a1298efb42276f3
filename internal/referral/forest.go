package referral

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/rewardledger/internal/domain"
)

// Forest is the referral relation as an arena of users with an id index and a parent
// pointer per user. A parent must be added before its children, which keeps the
// relation acyclic by construction.
type Forest struct {
	users    []domain.User
	index    map[int64]int
	children map[int64][]int64
}

func NewForest() *Forest {
	return &Forest{
		index:    make(map[int64]int),
		children: make(map[int64][]int64),
	}
}

// Add appends u to the arena. It rejects duplicate ids, self-referral and unknown parents.
func (f *Forest) Add(u domain.User) error {
	if _, ok := f.index[u.ID]; ok {
		return fmt.Errorf("user %d already in forest", u.ID)
	}
	if u.ReferredBy != nil {
		parent := *u.ReferredBy
		if parent == u.ID {
			return domain.ErrReferralCycle
		}
		if _, ok := f.index[parent]; !ok {
			return fmt.Errorf("upline %d of user %d not in forest", parent, u.ID)
		}
		f.children[parent] = append(f.children[parent], u.ID)
	}
	f.index[u.ID] = len(f.users)
	f.users = append(f.users, u)
	return nil
}

// Get returns a pointer into the arena; mutations through it are visible to the forest.
// The pointer is invalidated by the next Add.
func (f *Forest) Get(id int64) (*domain.User, bool) {
	i, ok := f.index[id]
	if !ok {
		return nil, false
	}
	return &f.users[i], true
}

// Users returns the arena in insertion order.
func (f *Forest) Users() []domain.User {
	return f.users
}

func (f *Forest) Len() int { return len(f.users) }

// Parent returns the upline of id.
func (f *Forest) Parent(id int64) (int64, bool) {
	u, ok := f.Get(id)
	if !ok || u.ReferredBy == nil {
		return 0, false
	}
	return *u.ReferredBy, true
}

// Children returns the direct referees of id in insertion order.
func (f *Forest) Children(id int64) []int64 {
	return f.children[id]
}

// UplineOf adapts the forest to ParentLookup.
func (f *Forest) UplineOf(_ context.Context, id int64) (int64, bool, error) {
	p, ok := f.Parent(id)
	return p, ok, nil
}

// Ancestors returns up to depth uplines of id, nearest first.
func (f *Forest) Ancestors(id int64, depth int) ([]int64, error) {
	return Uplines(context.Background(), f, id, depth)
}

// Clone returns an independent copy of the forest.
func (f *Forest) Clone() *Forest {
	c := &Forest{
		users:    make([]domain.User, len(f.users)),
		index:    make(map[int64]int, len(f.index)),
		children: make(map[int64][]int64, len(f.children)),
	}
	copy(c.users, f.users)
	for k, v := range f.index {
		c.index[k] = v
	}
	for k, v := range f.children {
		c.children[k] = append([]int64(nil), v...)
	}
	return c
}

// ParentLookup resolves the upline of a user. Storage transactions implement it.
type ParentLookup interface {
	UplineOf(ctx context.Context, userID int64) (int64, bool, error)
}

// Uplines walks parent pointers from userID and returns at most depth ancestors, nearest
// first. A walk that revisits a user fails with ErrReferralCycle instead of looping.
func Uplines(ctx context.Context, lookup ParentLookup, userID int64, depth int) ([]int64, error) {
	seen := map[int64]bool{userID: true}
	out := make([]int64, 0, depth)
	current := userID
	for len(out) < depth {
		parent, ok, err := lookup.UplineOf(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if seen[parent] {
			return nil, domain.Errorf(domain.KindReferralCycle, "user %d appears twice in the upline chain of %d", parent, userID)
		}
		seen[parent] = true
		out = append(out, parent)
		current = parent
	}
	return out, nil
}
