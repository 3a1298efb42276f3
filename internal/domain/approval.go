package domain

// Status is the approval state of a deposit or withdrawal request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is an admin verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Transition applies an admin decision to the current status.
//
//	pending --approve--> approved
//	pending --reject---> rejected
//
// Terminal states accept nothing.
func Transition(from Status, d Decision) (Status, error) {
	if from.Terminal() {
		return from, Errorf(KindInvalidState, "request is already %s", from)
	}
	if from != StatusPending {
		return from, Errorf(KindInvalidState, "unknown request status %q", from)
	}
	switch d {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		return StatusRejected, nil
	}
	return from, Errorf(KindValidation, "decision must be %q or %q", DecisionApprove, DecisionReject)
}
