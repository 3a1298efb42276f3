// Package events publishes ledger facts to downstream sinks after they commit.
// Sinks are informational; the ledger tables remain the source of truth.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/rewardledger/internal/money"
)

type Type string

const (
	DepositSubmitted    Type = "deposit.submitted"
	DepositApproved     Type = "deposit.approved"
	DepositRejected     Type = "deposit.rejected"
	WithdrawalSubmitted Type = "withdrawal.submitted"
	WithdrawalApproved  Type = "withdrawal.approved"
	WithdrawalRejected  Type = "withdrawal.rejected"
	MiningClaimed       Type = "mining.claimed"
	CommissionPosted    Type = "commission.posted"
)

// Event is one committed ledger fact.
type Event struct {
	Type      Type         `json:"type" bson:"type"`
	UserID    int64        `json:"user_id" bson:"user_id"`
	ActorID   int64        `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Amount    money.Amount `json:"amount" bson:"amount_cents"`
	Reference string       `json:"reference" bson:"reference"`
	At        time.Time    `json:"at" bson:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.Events = append(r.Events, evs...)
	return nil
}
