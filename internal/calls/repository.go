package calls

import (
	"context"
	"time"
)

// TerminateParams carries everything the repository needs to attempt a
// terminal transition. Trigger must be termination-shaped (reject, cancel,
// end or timeout); the repository derives the terminal status from it via
// Next under its own lock, so a stale caller snapshot can never force a
// transition the live record forbids.
type TerminateParams struct {
	CallID       string
	Trigger      Trigger
	EndedBy      EndedBy
	EndRequestID string
	EndedAt      time.Time
}

// TerminateResult reports the outcome of a termination attempt.
//
// Won is true only for the single writer that flipped the call from live
// to terminal; every later attempt gets Won=false and the already
// terminated record. CoinShortfall is the portion of the computed charge
// the caller's balance could not cover (zero for fully funded calls).
type TerminateResult struct {
	Call          *Call
	Won           bool
	CoinShortfall int64
}

// Repository persists calls. Terminate is the linearization point for the
// whole engine: it performs the live-to-terminal compare-and-swap and, for
// the winner, applies billing atomically with the status flip.
type Repository interface {
	Create(ctx context.Context, call *Call) error
	Get(ctx context.Context, id string) (*Call, error)
	GetByChannel(ctx context.Context, channelID string) (*Call, error)

	// Accept moves a live call to ringing. Returns the updated call, or
	// ErrNotFound / the current record if already past ringing.
	Accept(ctx context.Context, id string, now time.Time) (*Call, error)

	// MarkJoined stamps joined_at (first join only) and moves the call to
	// joined.
	MarkJoined(ctx context.Context, id string, now time.Time) (*Call, error)

	// Terminate re-validates params.Trigger against the locked record,
	// atomically flips the call to the resulting terminal status, computes
	// and applies billing, and stamps the termination metadata. When the
	// trigger resolves to a no-op (already terminal, or a late timeout
	// against a joined call) it returns the existing record with Won=false
	// and no error.
	Terminate(ctx context.Context, params TerminateParams) (TerminateResult, error)

	// Heartbeat stamps last_heartbeat_at on a live call.
	Heartbeat(ctx context.Context, id string, now time.Time) (*Call, error)
}
