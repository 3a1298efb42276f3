package domain

import (
	"time"

	"github.com/punchamoorthee/rewardledger/internal/money"
)

// User is a platform member together with their ledger counters.
type User struct {
	ID                    int64        `json:"id"`
	Username              string       `json:"username"`
	PhoneNumber           string       `json:"phoneNumber"`
	PasswordHash          string       `json:"-"`
	ReferralCode          string       `json:"referralCode"`
	ReferredBy            *int64       `json:"referredBy,omitempty"`
	ReferredByCode        string       `json:"referredByCode,omitempty"`
	Balance               money.Amount `json:"balance"`
	TotalReferralEarnings money.Amount `json:"totalReferralEarnings"`
	TotalMiners           int          `json:"totalMiners"`
	IsAdmin               bool         `json:"isAdmin"`
	CreatedAt             time.Time    `json:"createdAt"`
}

// PaymentMethod is the rail a deposit or withdrawal moves through.
type PaymentMethod string

const (
	MethodEasypaisa PaymentMethod = "easypaisa"
	MethodJazzCash  PaymentMethod = "jazzcash"
	MethodCrypto    PaymentMethod = "crypto"
	MethodBank      PaymentMethod = "bank"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodEasypaisa, MethodJazzCash, MethodCrypto, MethodBank:
		return true
	}
	return false
}

// DepositRequest records a user's claim that funds were sent, pending manual verification.
type DepositRequest struct {
	ID             int64         `json:"id"`
	UserID         int64         `json:"userId"`
	Amount         money.Amount  `json:"amount"`
	LocalAmount    money.Amount  `json:"localAmount"`
	Method         PaymentMethod `json:"method"`
	TransactionRef string        `json:"transactionId"`
	ScreenshotURL  string        `json:"screenshotUrl"`
	Status         Status        `json:"status"`
	ReviewedBy     *int64        `json:"reviewedBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// WithdrawalRequest reserves funds at submission; a rejection refunds them.
type WithdrawalRequest struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"userId"`
	Amount        money.Amount  `json:"amount"`
	LocalAmount   money.Amount  `json:"localAmount"`
	Method        PaymentMethod `json:"method"`
	AccountTitle  string        `json:"accountTitle"`
	AccountNumber string        `json:"accountNumber"`
	Status        Status        `json:"status"`
	ReviewedBy    *int64        `json:"reviewedBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// MiningClaim is an append-only record of a collected mining reward.
type MiningClaim struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"userId"`
	ClaimKey     string       `json:"claimKey"`
	Amount       money.Amount `json:"amount"`
	MachineCount int          `json:"machineCount"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// SourceType names the qualifying event behind a commission.
type SourceType string

const (
	SourceDailyClaim SourceType = "daily_claim"
	SourceDeposit    SourceType = "deposit"
)

// CommissionEntry credits an upline for activity of a downline member.
// (BeneficiaryID, SourceRef) is unique.
type CommissionEntry struct {
	ID            int64        `json:"id"`
	BeneficiaryID int64        `json:"beneficiaryId"`
	SourceUserID  int64        `json:"sourceUserId"`
	Level         int          `json:"level"`
	SourceType    SourceType   `json:"sourceType"`
	SourceRef     string       `json:"sourceRef"`
	Amount        money.Amount `json:"amount"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// EntryReason explains a balance mutation.
type EntryReason string

const (
	ReasonDeposit          EntryReason = "deposit"
	ReasonWithdrawal       EntryReason = "withdrawal"
	ReasonWithdrawalRefund EntryReason = "withdrawal_refund"
	ReasonMiningClaim      EntryReason = "mining_claim"
	ReasonCommission       EntryReason = "commission"
)

// LedgerEntry is one signed balance change of a user.
type LedgerEntry struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"userId"`
	Delta     money.Amount `json:"delta"`
	Reason    EntryReason  `json:"reason"`
	Reference string       `json:"reference"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// CanAccess reports whether the principal may read data owned by userID.
func (p Principal) CanAccess(userID int64) bool {
	return p.IsAdmin || p.UserID == userID
}
