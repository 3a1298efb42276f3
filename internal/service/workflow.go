package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/commission"
	"github.com/punchamoorthee/rewardledger/internal/config"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/events"
	"github.com/punchamoorthee/rewardledger/internal/ledger"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/sanitize"
	"github.com/punchamoorthee/rewardledger/internal/store"
)

const (
	maxClaimKeyLen = 128
	maxMachines    = 100_000
)

type DepositInput struct {
	Amount         money.Amount         `json:"amount"`
	TransactionRef string               `json:"transactionId"`
	ScreenshotURL  string               `json:"screenshotUrl"`
	Method         domain.PaymentMethod `json:"method"`
}

type WithdrawalInput struct {
	Amount        money.Amount         `json:"amount"`
	Method        domain.PaymentMethod `json:"method"`
	AccountTitle  string               `json:"accountTitle"`
	AccountNumber string               `json:"accountNumber"`
}

type ClaimInput struct {
	Amount       money.Amount `json:"amount"`
	MachineCount int          `json:"machineCount"`
}

// Workflow runs deposits, withdrawals and mining claims against the ledger.
type Workflow struct {
	store  store.Store
	engine *commission.Engine
	cfg    config.Ledger
	events publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewWorkflow(s store.Store, cfg config.Ledger, pub events.Publisher, log *zap.Logger) *Workflow {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Workflow{
		store:  s,
		engine: commission.NewEngine(commission.Rates{LevelOne: cfg.LevelOneRate, LevelTwo: cfg.LevelTwoRate}),
		cfg:    cfg,
		events: publisher{pub: pub, log: log},
		log:    log,
		now:    utcNow,
	}
}

// SubmitDeposit records a pending deposit for manual verification. No balance changes.
func (w *Workflow) SubmitDeposit(ctx context.Context, p domain.Principal, in DepositInput) (domain.DepositRequest, error) {
	sanitize.Fields(&in)
	if in.Amount < w.cfg.MinDeposit {
		return domain.DepositRequest{}, domain.Errorf(domain.KindInvalidAmount, "minimum deposit is %s", w.cfg.MinDeposit)
	}
	if !in.Method.Valid() {
		return domain.DepositRequest{}, domain.Errorf(domain.KindValidation, "unknown payment method %q", in.Method)
	}
	if in.TransactionRef == "" {
		return domain.DepositRequest{}, domain.Errorf(domain.KindValidation, "transaction id is required")
	}

	local, err := localAmount(in.Amount, w.cfg.DepositRate)
	if err != nil {
		return domain.DepositRequest{}, err
	}

	now := w.now()
	d := domain.DepositRequest{
		UserID:         p.UserID,
		Amount:         in.Amount,
		LocalAmount:    local,
		Method:         in.Method,
		TransactionRef: in.TransactionRef,
		ScreenshotURL:  in.ScreenshotURL,
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}
	err = w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return translate(tx.InsertDeposit(ctx, &d), "user")
	})
	if err != nil {
		return domain.DepositRequest{}, err
	}

	w.log.Info("deposit submitted", zap.Int64("deposit_id", d.ID), zap.Int64("user_id", d.UserID), zap.Stringer("amount", d.Amount))
	w.events.publish(ctx, events.Event{Type: events.DepositSubmitted, UserID: d.UserID, Amount: d.Amount, Reference: ledger.DepositRef(d.ID), At: now})
	return d, nil
}

// DecideDeposit applies an admin decision. Approval credits the depositor and pays
// commissions in the same transaction as the status change.
func (w *Workflow) DecideDeposit(ctx context.Context, admin domain.Principal, id int64, decision domain.Decision) (domain.DepositRequest, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.DepositRequest{}, err
	}
	if err := validDecision(decision); err != nil {
		return domain.DepositRequest{}, err
	}

	now := w.now()
	var (
		d       domain.DepositRequest
		entries []domain.CommissionEntry
	)
	err := w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = tx.LockDeposit(ctx, id)
		if err != nil {
			return translate(err, "deposit request")
		}
		next, err := domain.Transition(d.Status, decision)
		if err != nil {
			return err
		}
		if err := tx.UpdateDepositStatus(ctx, id, next, admin.UserID, now); err != nil {
			return fmt.Errorf("update deposit %d: %w", id, err)
		}
		d.Status, d.ReviewedBy, d.UpdatedAt = next, &admin.UserID, now
		if next != domain.StatusApproved {
			return nil
		}

		fanout, err := w.engine.Prepare(ctx, tx, d.UserID)
		if err != nil {
			return translate(err, "depositor")
		}
		ref := ledger.DepositRef(d.ID)
		if err := ledger.Credit(ctx, tx, d.UserID, d.Amount, domain.ReasonDeposit, ref); err != nil {
			return err
		}
		entries, err = w.engine.Post(ctx, tx, fanout, commission.Event{
			SourceUserID: d.UserID,
			SourceType:   domain.SourceDeposit,
			SourceRef:    ref,
			Amount:       d.Amount,
			At:           now,
		})
		return err
	})
	if err != nil {
		return domain.DepositRequest{}, err
	}

	decisionsTotal.WithLabelValues("deposit", string(decision)).Inc()
	if d.Status == domain.StatusApproved {
		ledger.Observe(domain.ReasonDeposit, 1)
		commission.Observe(entries)
	}
	w.log.Info("deposit decided",
		zap.Int64("deposit_id", d.ID),
		zap.Int64("admin_id", admin.UserID),
		zap.String("status", string(d.Status)),
		zap.Int("commissions", len(entries)),
	)

	typ := events.DepositRejected
	if d.Status == domain.StatusApproved {
		typ = events.DepositApproved
	}
	evs := []events.Event{{Type: typ, UserID: d.UserID, ActorID: admin.UserID, Amount: d.Amount, Reference: ledger.DepositRef(d.ID), At: now}}
	w.events.publish(ctx, append(evs, commissionEvents(entries)...)...)
	return d, nil
}

// SubmitWithdrawal reserves the amount and records a pending request. Insufficient funds
// leave both the balance and the request table untouched.
func (w *Workflow) SubmitWithdrawal(ctx context.Context, p domain.Principal, in WithdrawalInput) (domain.WithdrawalRequest, error) {
	sanitize.Fields(&in)
	if !in.Amount.IsPositive() {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.KindInvalidAmount, "withdrawal amount must be positive")
	}
	if !in.Method.Valid() {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.KindValidation, "unknown payment method %q", in.Method)
	}
	if in.AccountTitle == "" || in.AccountNumber == "" {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.KindValidation, "account title and number are required")
	}

	local, err := localAmount(in.Amount, w.cfg.WithdrawalRate)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	now := w.now()
	wr := domain.WithdrawalRequest{
		UserID:        p.UserID,
		Amount:        in.Amount,
		LocalAmount:   local,
		Method:        in.Method,
		AccountTitle:  in.AccountTitle,
		AccountNumber: in.AccountNumber,
		Status:        domain.StatusPending,
		CreatedAt:     now,
	}
	err = w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// The user row is locked before the request row references it.
		if _, err := tx.LockUsers(ctx, p.UserID); err != nil {
			return translate(err, "user")
		}
		if err := tx.InsertWithdrawal(ctx, &wr); err != nil {
			return translate(err, "user")
		}
		return ledger.Debit(ctx, tx, p.UserID, wr.Amount, domain.ReasonWithdrawal, ledger.WithdrawalRef(wr.ID))
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	ledger.Observe(domain.ReasonWithdrawal, 1)
	w.log.Info("withdrawal submitted", zap.Int64("withdrawal_id", wr.ID), zap.Int64("user_id", wr.UserID), zap.Stringer("amount", wr.Amount))
	w.events.publish(ctx, events.Event{Type: events.WithdrawalSubmitted, UserID: wr.UserID, Amount: wr.Amount, Reference: ledger.WithdrawalRef(wr.ID), At: now})
	return wr, nil
}

// DecideWithdrawal applies an admin decision. A rejection refunds the reserved amount.
func (w *Workflow) DecideWithdrawal(ctx context.Context, admin domain.Principal, id int64, decision domain.Decision) (domain.WithdrawalRequest, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if err := validDecision(decision); err != nil {
		return domain.WithdrawalRequest{}, err
	}

	now := w.now()
	var wr domain.WithdrawalRequest
	err := w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		wr, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return translate(err, "withdrawal request")
		}
		next, err := domain.Transition(wr.Status, decision)
		if err != nil {
			return err
		}
		if err := tx.UpdateWithdrawalStatus(ctx, id, next, admin.UserID, now); err != nil {
			return fmt.Errorf("update withdrawal %d: %w", id, err)
		}
		wr.Status, wr.ReviewedBy, wr.UpdatedAt = next, &admin.UserID, now
		if next != domain.StatusRejected {
			return nil
		}
		return ledger.Credit(ctx, tx, wr.UserID, wr.Amount, domain.ReasonWithdrawalRefund, ledger.WithdrawalRef(wr.ID))
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	decisionsTotal.WithLabelValues("withdrawal", string(decision)).Inc()
	if wr.Status == domain.StatusRejected {
		ledger.Observe(domain.ReasonWithdrawalRefund, 1)
	}
	w.log.Info("withdrawal decided",
		zap.Int64("withdrawal_id", wr.ID),
		zap.Int64("admin_id", admin.UserID),
		zap.String("status", string(wr.Status)),
	)

	typ := events.WithdrawalRejected
	if wr.Status == domain.StatusApproved {
		typ = events.WithdrawalApproved
	}
	w.events.publish(ctx, events.Event{Type: typ, UserID: wr.UserID, ActorID: admin.UserID, Amount: wr.Amount, Reference: ledger.WithdrawalRef(wr.ID), At: now})
	return wr, nil
}

// ClaimMining credits a mining reward and pays commissions on it. A repeated claim key
// returns the stored claim with replayed set and changes nothing.
func (w *Workflow) ClaimMining(ctx context.Context, p domain.Principal, in ClaimInput, key string) (claim domain.MiningClaim, replayed bool, err error) {
	if !in.Amount.IsPositive() {
		return claim, false, domain.Errorf(domain.KindInvalidAmount, "claim amount must be positive")
	}
	if in.MachineCount <= 0 {
		return claim, false, domain.Errorf(domain.KindValidation, "machine count must be positive")
	}
	limit, err := w.cfg.MaxClaimPerMachine.Times(int64(in.MachineCount))
	if err != nil {
		return claim, false, domain.Errorf(domain.KindValidation, "machine count %d is out of range", in.MachineCount)
	}
	if in.Amount > limit {
		return claim, false, domain.Errorf(domain.KindInvalidAmount, "claim %s exceeds %s for %d machines", in.Amount, limit, in.MachineCount)
	}
	key = sanitize.String(key)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > maxClaimKeyLen {
		return claim, false, domain.Errorf(domain.KindValidation, "claim key longer than %d characters", maxClaimKeyLen)
	}

	now := w.now()
	var entries []domain.CommissionEntry
	err = w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		fanout, err := w.engine.Prepare(ctx, tx, p.UserID)
		if err != nil {
			return translate(err, "user")
		}

		prev, err := tx.FindMiningClaim(ctx, p.UserID, key)
		switch {
		case err == nil:
			if prev.Amount != in.Amount || prev.MachineCount != in.MachineCount {
				return domain.Errorf(domain.KindConflict, "claim key reused with a different payload")
			}
			claim, replayed = prev, true
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find claim: %w", err)
		}

		if owned := fanout.User.TotalMiners; in.MachineCount > owned {
			return domain.Errorf(domain.KindValidation, "claim covers %d machines, user owns %d", in.MachineCount, owned)
		}

		if w.cfg.ClaimInterval > 0 {
			last, err := tx.LastMiningClaim(ctx, p.UserID)
			if err == nil && now.Sub(last.CreatedAt) < w.cfg.ClaimInterval {
				return domain.Errorf(domain.KindConflict, "next claim available at %s", last.CreatedAt.Add(w.cfg.ClaimInterval).Format(time.RFC3339))
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("last claim: %w", err)
			}
		}

		claim = domain.MiningClaim{
			UserID:       p.UserID,
			ClaimKey:     key,
			Amount:       in.Amount,
			MachineCount: in.MachineCount,
			CreatedAt:    now,
		}
		if err := ledger.RecordMiningClaim(ctx, tx, &claim); err != nil {
			return translate(err, "mining claim")
		}
		entries, err = w.engine.Post(ctx, tx, fanout, commission.Event{
			SourceUserID: p.UserID,
			SourceType:   domain.SourceDailyClaim,
			SourceRef:    ledger.ClaimRef(claim.ID),
			Amount:       claim.Amount,
			At:           now,
		})
		return err
	})
	if err != nil {
		return domain.MiningClaim{}, false, err
	}
	if replayed {
		return claim, true, nil
	}

	ledger.Observe(domain.ReasonMiningClaim, 1)
	commission.Observe(entries)

	w.log.Info("mining claimed",
		zap.Int64("claim_id", claim.ID),
		zap.Int64("user_id", claim.UserID),
		zap.Stringer("amount", claim.Amount),
		zap.Int("commissions", len(entries)),
	)
	evs := []events.Event{{Type: events.MiningClaimed, UserID: claim.UserID, Amount: claim.Amount, Reference: ledger.ClaimRef(claim.ID), At: now}}
	w.events.publish(ctx, append(evs, commissionEvents(entries)...)...)
	return claim, false, nil
}

// AssignMachines sets the number of mining machines a user owns, which bounds the
// machine count of that user's claims.
func (w *Workflow) AssignMachines(ctx context.Context, admin domain.Principal, userID int64, count int) (domain.User, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.User{}, err
	}
	if count < 0 || count > maxMachines {
		return domain.User{}, domain.Errorf(domain.KindValidation, "machine count must be between 0 and %d", maxMachines)
	}

	var u domain.User
	err := w.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockUsers(ctx, userID)
		if err != nil {
			return translate(err, "user")
		}
		if err := tx.SetTotalMiners(ctx, userID, count); err != nil {
			return fmt.Errorf("set machines of %d: %w", userID, err)
		}
		u = locked[userID]
		u.TotalMiners = count
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	w.log.Info("machines assigned", zap.Int64("user_id", userID), zap.Int64("admin_id", admin.UserID), zap.Int("machines", count))
	return u, nil
}

// localAmount converts a dollar amount at rate. A conversion that overflows or rounds
// to nothing is an invalid amount.
func localAmount(a money.Amount, rate decimal.Decimal) (money.Amount, error) {
	local, err := a.MulRate(rate)
	if err != nil || !local.IsPositive() {
		return 0, domain.Errorf(domain.KindInvalidAmount, "amount %s cannot be converted at rate %s", a, rate)
	}
	return local, nil
}

func validDecision(d domain.Decision) error {
	if d != domain.DecisionApprove && d != domain.DecisionReject {
		return domain.Errorf(domain.KindValidation, "decision must be %q or %q", domain.DecisionApprove, domain.DecisionReject)
	}
	return nil
}

func commissionEvents(entries []domain.CommissionEntry) []events.Event {
	out := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, events.Event{
			Type:      events.CommissionPosted,
			UserID:    e.BeneficiaryID,
			ActorID:   e.SourceUserID,
			Amount:    e.Amount,
			Reference: e.SourceRef,
			At:        e.CreatedAt,
		})
	}
	return out
}
