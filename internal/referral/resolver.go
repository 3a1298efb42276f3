// Package referral resolves the two-level referral tree and allocates referral codes.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const (
	// CodeLength is the length of generated referral codes.
	CodeLength = 8
	// MaxCodeAttempts bounds the retry-on-collision loop in GenerateUniqueCode.
	MaxCodeAttempts = 5
)

// Directory is the read side of the user table the resolver needs.
type Directory interface {
	FindUserByReferralCode(ctx context.Context, code string) (domain.User, error)
	ListReferees(ctx context.Context, uplineID int64) ([]domain.User, error)
}

// Team is a user's downline split by level.
type Team struct {
	LevelOne []domain.User `json:"levelOne"`
	LevelTwo []domain.User `json:"levelTwo"`
	Size     int           `json:"size"`
}

type Resolver struct {
	dir     Directory
	newCode func() string
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir, newCode: randomCode}
}

// ResolveCode returns the owner of a referral code.
func (r *Resolver) ResolveCode(ctx context.Context, code string) (domain.User, error) {
	code = NormalizeCode(code)
	if code == "" {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "referral code is empty")
	}
	u, err := r.dir.FindUserByReferralCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "referral code %s not found", code)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve referral code: %w", err)
	}
	return u, nil
}

// LevelOne returns the direct referees of userID.
func (r *Resolver) LevelOne(ctx context.Context, userID int64) ([]domain.User, error) {
	users, err := r.dir.ListReferees(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list level one of %d: %w", userID, err)
	}
	return users, nil
}

// LevelTwo returns the referees of every level-one referee, deduplicated, never including userID.
func (r *Resolver) LevelTwo(ctx context.Context, userID int64) ([]domain.User, error) {
	first, err := r.LevelOne(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.levelTwoOf(ctx, userID, first)
}

func (r *Resolver) levelTwoOf(ctx context.Context, userID int64, first []domain.User) ([]domain.User, error) {
	seen := map[int64]bool{userID: true}
	var out []domain.User
	for _, member := range first {
		referees, err := r.dir.ListReferees(ctx, member.ID)
		if err != nil {
			return nil, fmt.Errorf("list level two of %d: %w", userID, err)
		}
		for _, u := range referees {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}

// Team returns both downline levels of userID.
func (r *Resolver) Team(ctx context.Context, userID int64) (Team, error) {
	first, err := r.LevelOne(ctx, userID)
	if err != nil {
		return Team{}, err
	}
	second, err := r.levelTwoOf(ctx, userID, first)
	if err != nil {
		return Team{}, err
	}
	if first == nil {
		first = []domain.User{}
	}
	if second == nil {
		second = []domain.User{}
	}
	return Team{LevelOne: first, LevelTwo: second, Size: len(first) + len(second)}, nil
}

// GenerateUniqueCode returns a code no existing user owns. Exhausting MaxCodeAttempts
// is an operational problem (keyspace pressure), reported as ErrCodeGeneration.
func (r *Resolver) GenerateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code := r.newCode()
		_, err := r.dir.FindUserByReferralCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
	}
	return "", domain.ErrCodeGeneration
}

// UplineFor resolves the referrer for a signup. An empty, unknown or self-owned code
// means the user signs up without an upline; it is never an error.
func (r *Resolver) UplineFor(ctx context.Context, code, ownCode string) (*domain.User, error) {
	code = NormalizeCode(code)
	if code == "" || code == NormalizeCode(ownCode) {
		return nil, nil
	}
	u, err := r.ResolveCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:CodeLength])
}
