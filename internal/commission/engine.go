// Package commission posts two-level referral commissions for qualifying events.
package commission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/ledger"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/referral"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

// Depth is the number of upline levels that earn commission.
const Depth = 2

var postedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_commissions_posted_total",
	Help: "Committed commission entries, labeled by level and source type",
}, []string{"level", "source_type"})

// Rates are the commission percentages per level, as fractions (0.10 = 10%).
type Rates struct {
	LevelOne decimal.Decimal
	LevelTwo decimal.Decimal
}

// DefaultRates are 10% for the direct upline and 4% for the level-two upline.
func DefaultRates() Rates {
	return Rates{
		LevelOne: decimal.RequireFromString("0.10"),
		LevelTwo: decimal.RequireFromString("0.04"),
	}
}

// Event is a balance-crediting action that pays the source user's uplines.
type Event struct {
	SourceUserID int64
	SourceType   domain.SourceType
	SourceRef    string
	Amount       money.Amount
	At           time.Time
}

// Fanout is the set of users an event touches, already locked in the current transaction.
type Fanout struct {
	Source  int64
	User    domain.User // the source row as locked
	Uplines []int64     // nearest first
}

type Engine struct {
	rates Rates
}

func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

func (e *Engine) Rates() Rates { return e.rates }

// Prepare resolves the source's uplines and locks the source and its uplines in
// ascending id order, the same order every other multi-row operation uses.
func (e *Engine) Prepare(ctx context.Context, tx store.Tx, sourceID int64) (Fanout, error) {
	uplines, err := referral.Uplines(ctx, tx, sourceID, Depth)
	if err != nil {
		return Fanout{}, fmt.Errorf("resolve uplines of %d: %w", sourceID, err)
	}
	ids := append([]int64{sourceID}, uplines...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked, err := tx.LockUsers(ctx, ids...)
	if err != nil {
		return Fanout{}, fmt.Errorf("lock fanout of %d: %w", sourceID, err)
	}
	return Fanout{Source: sourceID, User: locked[sourceID], Uplines: uplines}, nil
}

// Plan computes the entries for an event without touching storage. Levels without an
// upline, and amounts that round to zero cents, produce no entry.
func (e *Engine) Plan(f Fanout, ev Event) ([]domain.CommissionEntry, error) {
	rates := []decimal.Decimal{e.rates.LevelOne, e.rates.LevelTwo}
	var out []domain.CommissionEntry
	for i, beneficiary := range f.Uplines {
		if i >= len(rates) {
			break
		}
		amount, err := ev.Amount.MulRate(rates[i])
		if err != nil {
			return nil, domain.Errorf(domain.KindInvalidAmount, "level %d commission on %s: %v", i+1, ev.Amount, err)
		}
		if !amount.IsPositive() {
			continue
		}
		out = append(out, domain.CommissionEntry{
			BeneficiaryID: beneficiary,
			SourceUserID:  ev.SourceUserID,
			Level:         i + 1,
			SourceType:    ev.SourceType,
			SourceRef:     ev.SourceRef,
			Amount:        amount,
			CreatedAt:     ev.At,
		})
	}
	return out, nil
}

// Post writes the planned entries through the ledger. It must run in the transaction
// that applied the qualifying credit so both commit or neither does.
func (e *Engine) Post(ctx context.Context, tx store.Tx, f Fanout, ev Event) ([]domain.CommissionEntry, error) {
	if f.Source != ev.SourceUserID {
		return nil, fmt.Errorf("fanout prepared for user %d, event is for %d", f.Source, ev.SourceUserID)
	}
	entries, err := e.Plan(f, ev)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := ledger.RecordCommission(ctx, tx, &entries[i]); err != nil {
			return nil, fmt.Errorf("post level %d commission: %w", entries[i].Level, err)
		}
	}
	return entries, nil
}

// Observe counts entries returned by Post once their transaction has committed.
func Observe(entries []domain.CommissionEntry) {
	for _, entry := range entries {
		postedTotal.WithLabelValues(fmt.Sprint(entry.Level), string(entry.SourceType)).Inc()
	}
	ledger.Observe(domain.ReasonCommission, len(entries))
}
