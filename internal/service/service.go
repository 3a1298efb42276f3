// Package service implements the account and money-movement workflows on top of the
// ledger. Each mutating call is one store transaction; events are published after commit.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/events"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_approval_decisions_total",
	Help: "Admin decisions on money-movement requests",
}, []string{"request", "decision"})

// translate maps storage sentinels onto domain error kinds. Anything else is returned as is
// and surfaces as an internal error.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.Errorf(domain.KindNotFound, "%s not found", what)
	case errors.Is(err, store.ErrAlreadyExists):
		return domain.Errorf(domain.KindConflict, "%s already exists", what)
	}
	return err
}

func requireAdmin(p domain.Principal) error {
	if !p.IsAdmin {
		return domain.Errorf(domain.KindForbidden, "admin access required")
	}
	return nil
}

func requireAccess(p domain.Principal, userID int64) error {
	if !p.CanAccess(userID) {
		return domain.Errorf(domain.KindForbidden, "cannot access user %d", userID)
	}
	return nil
}

// publisher delivers committed events and only logs failures.
type publisher struct {
	pub events.Publisher
	log *zap.Logger
}

func (p publisher) publish(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := p.pub.Publish(ctx, evs...); err != nil {
		p.log.Warn("publish ledger events",
			zap.Int("count", len(evs)),
			zap.String("first_type", string(evs[0].Type)),
			zap.Error(err),
		)
	}
}

func utcNow() time.Time { return time.Now().UTC() }
