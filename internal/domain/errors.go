package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable, client-visible error code.
type Kind string

const (
	KindInvalidAmount     Kind = "invalid_amount"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindReferralCycle     Kind = "referral_cycle"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindCodeGeneration    Kind = "code_generation"
	KindInternal          Kind = "internal"
)

// Error is a business error carrying a stable kind and a message safe to show callers.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) holds for
// every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Message: "amount must be a positive value"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "request has already been decided"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "admin access required"}
	ErrReferralCycle     = &Error{Kind: KindReferralCycle, Message: "referral chain contains a cycle"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "resource already exists"}
	ErrCodeGeneration    = &Error{Kind: KindCodeGeneration, Message: "could not allocate a referral code"}
)

// Errorf builds an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
