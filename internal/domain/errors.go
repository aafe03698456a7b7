package domain

import "errors"

// ErrorKind classifies failures so callers can decide whether to retry,
// surface, or reject without inspecting individual sentinels.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindNotFound
	KindForbidden
	KindStateConflict
	KindContention
	KindInsufficientFunds
	KindUnavailable
)

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindStateConflict:
		return "state_conflict"
	case KindContention:
		return "contention"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a typed sentinel. Wrap it with fmt.Errorf("...: %w", ErrX) to add
// context; errors.Is and KindOf still see through the wrapping.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidInput   = newError(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidOutcome = newError(KindInvalidInput, "invalid_outcome", "outcome index out of range")

	ErrNotFound     = newError(KindNotFound, "not_found", "not found")
	ErrNotInvited   = newError(KindNotFound, "not_invited", "participant is not invited")
	ErrNoSubmission = newError(KindNotFound, "no_submission", "submission does not exist")

	ErrForbidden       = newError(KindForbidden, "forbidden", "forbidden")
	ErrNotAParticipant = newError(KindForbidden, "not_a_participant", "caller is not an accepted participant")
	ErrSelfValidation  = newError(KindForbidden, "self_validation", "validator cannot vote on own submission")

	ErrAlreadyResponded   = newError(KindStateConflict, "already_responded", "invitation already responded")
	ErrAlreadySubmitted   = newError(KindStateConflict, "already_submitted", "submission is frozen by existing votes")
	ErrAlreadyResolved    = newError(KindStateConflict, "already_resolved", "submission already resolved")
	ErrAlreadySettled     = newError(KindStateConflict, "already_settled", "market already settled")
	ErrAlreadyClosed      = newError(KindStateConflict, "already_closed", "market already closed")
	ErrNotYetOpen         = newError(KindStateConflict, "not_yet_open", "market is not open yet")
	ErrMarketNotOpen      = newError(KindStateConflict, "market_not_open", "market is not open")
	ErrMarketNotClosed    = newError(KindStateConflict, "market_not_closed", "market is not closed")
	ErrMarketNotResolving = newError(KindStateConflict, "market_not_resolving", "market is not resolving")

	ErrVersionConflict = newError(KindContention, "version_conflict", "version conflict")
	ErrContention      = newError(KindContention, "contention", "too much contention, retry later")

	ErrInsufficientFunds = newError(KindInsufficientFunds, "insufficient_funds", "insufficient funds")

	ErrUnavailable = newError(KindUnavailable, "unavailable", "storage unavailable")
)

// KindOf returns the kind of the first domain.Error in err's chain.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first domain.Error in err's chain, or
// "internal" when err carries none.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}
