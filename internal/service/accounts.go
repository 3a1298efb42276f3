package service

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/auth"
	"github.com/punchamoorthee/rewardledger/internal/commission"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/referral"
	"github.com/punchamoorthee/rewardledger/internal/sanitize"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
	phoneDigits    = 11
)

type SignupInput struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	PhoneNumber  string `json:"phoneNumber"`
	ReferralCode string `json:"referralCode"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is returned by signup and login.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// TeamView is a user's downline with the bonus tier its size qualifies for.
type TeamView struct {
	referral.Team
	Tier commission.Tier `json:"tier"`
}

type Accounts struct {
	store    store.Store
	resolver *referral.Resolver
	tokens   *auth.TokenManager
	log      *zap.Logger
}

func NewAccounts(s store.Store, tokens *auth.TokenManager, log *zap.Logger) *Accounts {
	return &Accounts{store: s, resolver: referral.NewResolver(s), tokens: tokens, log: log}
}

// Signup creates a user, links them to the owner of the referral code if it resolves,
// and issues a token.
func (a *Accounts) Signup(ctx context.Context, in SignupInput) (Session, error) {
	password := in.Password
	sanitize.Fields(&in)
	in.Password = password // hashed, never displayed

	if err := validateSignup(in); err != nil {
		return Session{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	code, err := a.resolver.GenerateUniqueCode(ctx)
	if err != nil {
		return Session{}, err
	}
	upline, err := a.resolver.UplineFor(ctx, in.ReferralCode, code)
	if err != nil {
		return Session{}, err
	}

	u := domain.User{
		Username:     in.Username,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: hash,
		ReferralCode: code,
		CreatedAt:    utcNow(),
	}
	if upline != nil {
		u.ReferredBy = &upline.ID
		u.ReferredByCode = upline.ReferralCode
	}

	created, err := a.createUser(ctx, u)
	if err != nil {
		return Session{}, err
	}

	a.log.Info("user signed up",
		zap.Int64("user_id", created.ID),
		zap.Bool("referred", created.ReferredBy != nil),
	)
	return a.session(created)
}

// createUser inserts u. A unique violation on a free username means another signup took
// the referral code between generation and insert, so a fresh code is tried.
func (a *Accounts) createUser(ctx context.Context, u domain.User) (domain.User, error) {
	for attempt := 0; attempt < referral.MaxCodeAttempts; attempt++ {
		created, err := a.store.CreateUser(ctx, u)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}

		_, err = a.store.FindUserByUsername(ctx, u.Username)
		switch {
		case err == nil:
			return domain.User{}, domain.Errorf(domain.KindConflict, "username %q is taken", u.Username)
		case !errors.Is(err, store.ErrNotFound):
			return domain.User{}, fmt.Errorf("check username: %w", err)
		}

		a.log.Warn("referral code collided on insert", zap.String("code", u.ReferralCode), zap.Int("attempt", attempt+1))
		if u.ReferralCode, err = a.resolver.GenerateUniqueCode(ctx); err != nil {
			return domain.User{}, err
		}
	}
	return domain.User{}, domain.ErrCodeGeneration
}

// Login checks credentials. Legacy plaintext credentials are upgraded to bcrypt on success.
func (a *Accounts) Login(ctx context.Context, in LoginInput) (Session, error) {
	username := sanitize.String(in.Username)
	if username == "" || in.Password == "" {
		return Session{}, domain.Errorf(domain.KindValidation, "username and password are required")
	}

	u, err := a.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, domain.Errorf(domain.KindUnauthorized, "invalid username or password")
	}
	if err != nil {
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if !auth.VerifyPassword(in.Password, u.PasswordHash) {
		return Session{}, domain.Errorf(domain.KindUnauthorized, "invalid username or password")
	}

	if auth.NeedsRehash(u.PasswordHash) {
		if hash, err := auth.HashPassword(in.Password); err == nil {
			if err := a.store.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
				a.log.Warn("upgrade legacy password", zap.Int64("user_id", u.ID), zap.Error(err))
			}
		}
	}
	return a.session(u)
}

// Profile returns a user visible to the principal.
func (a *Accounts) Profile(ctx context.Context, p domain.Principal, userID int64) (domain.User, error) {
	if err := requireAccess(p, userID); err != nil {
		return domain.User{}, err
	}
	u, err := a.store.GetUser(ctx, userID)
	return u, translate(err, "user")
}

// Team returns the two-level downline of userID and its bonus tier.
func (a *Accounts) Team(ctx context.Context, p domain.Principal, userID int64) (TeamView, error) {
	if _, err := a.Profile(ctx, p, userID); err != nil {
		return TeamView{}, err
	}
	team, err := a.resolver.Team(ctx, userID)
	if err != nil {
		return TeamView{}, fmt.Errorf("resolve team: %w", err)
	}
	return TeamView{Team: team, Tier: commission.TierFor(team.Size)}, nil
}

func (a *Accounts) session(u domain.User) (Session, error) {
	token, err := a.tokens.Issue(domain.Principal{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: u}, nil
}

func validateSignup(in SignupInput) error {
	if n := len(in.Username); n < minUsernameLen || n > maxUsernameLen {
		return domain.Errorf(domain.KindValidation, "username must be %d to %d characters", minUsernameLen, maxUsernameLen)
	}
	if len(in.Password) < minPasswordLen {
		return domain.Errorf(domain.KindValidation, "password must be at least %d characters", minPasswordLen)
	}
	if len(in.PhoneNumber) != phoneDigits {
		return domain.Errorf(domain.KindValidation, "phone number must be %d digits", phoneDigits)
	}
	for _, r := range in.PhoneNumber {
		if !unicode.IsDigit(r) {
			return domain.Errorf(domain.KindValidation, "phone number must be %d digits", phoneDigits)
		}
	}
	return nil
}
