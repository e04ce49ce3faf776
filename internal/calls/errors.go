package calls

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: referenced call or actor does not exist.
	ErrNotFound = errors.New("calls: not found")

	// ErrConflict: target actor unavailable (offline, banned, suspended,
	// already on a call) or channel id already taken.
	ErrConflict = errors.New("calls: conflict")

	// ErrPermissionDenied: requesting actor is not a legitimate party to
	// the call.
	ErrPermissionDenied = errors.New("calls: permission denied")

	// ErrPaymentRequired: caller balance insufficient to start a call.
	ErrPaymentRequired = errors.New("calls: payment required")

	// ErrMalformedInput: missing required field; rejected before touching
	// the call record.
	ErrMalformedInput = errors.New("calls: malformed input")
)

// InvalidTransitionError reports a trigger that is not valid from the call's
// current state and not resolvable as idempotent termination.
type InvalidTransitionError struct {
	From    CallStatus
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("calls: invalid transition: %s not allowed from %s", e.Trigger, e.From)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
