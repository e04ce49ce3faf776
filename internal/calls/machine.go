package calls

// Trigger is the transition vocabulary shared by client actions, provider
// webhooks and the timeout supervisor.
type Trigger string

const (
	TriggerAccept  Trigger = "accept"
	TriggerJoin    Trigger = "join"
	TriggerReject  Trigger = "reject"
	TriggerCancel  Trigger = "cancel"
	TriggerEnd     Trigger = "end"
	TriggerTimeout Trigger = "timeout"
)

// Next validates trg against the current status and returns the resulting
// status.
//
// changed=false means the trigger is accepted as an idempotent no-op: either
// the call already terminated (every termination-shaped trigger collapses
// onto the recorded terminal state) or a join/accept raced a concurrent join
// and lost harmlessly.
//
// A trigger that is neither applicable nor resolvable as a no-op returns an
// InvalidTransitionError naming both states.
func Next(current CallStatus, trg Trigger) (next CallStatus, changed bool, err error) {
	switch trg {
	case TriggerAccept:
		switch current {
		case StatusPending, StatusRinging:
			return StatusRinging, true, nil
		case StatusJoined:
			// Simultaneous accepts: second one observes the joined call.
			return StatusJoined, false, nil
		}

	case TriggerJoin:
		switch current {
		case StatusPending, StatusRinging:
			return StatusJoined, true, nil
		case StatusJoined:
			return StatusJoined, false, nil
		}

	case TriggerReject:
		switch current {
		case StatusPending, StatusRinging:
			return StatusRejected, true, nil
		}
		if current.Terminal() {
			return current, false, nil
		}

	case TriggerCancel:
		switch current {
		case StatusPending, StatusRinging:
			return StatusCancelled, true, nil
		}
		if current.Terminal() {
			return current, false, nil
		}

	case TriggerTimeout:
		switch current {
		case StatusPending, StatusRinging:
			return StatusMissed, true, nil
		}
		// A late fire against a joined or terminated call is harmless.
		return current, false, nil

	case TriggerEnd:
		if current.Terminal() {
			return current, false, nil
		}
		return StatusEnded, true, nil
	}

	return current, false, &InvalidTransitionError{From: current, Trigger: trg}
}
