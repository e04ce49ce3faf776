package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// Call is the durable record of one call attempt and its outcome. It is the
// single source of truth for call status.
//
// Invariants:
// - ended_at is set by at most one winning transition; every race resolves
//   to exactly one terminal status and one set of billing numbers.
// - status only moves forward; no transition re-enters a non-terminal state
//   from a terminal one.
// - duration/money fields are zero while the call is non-terminal.
// - channel_id is globally unique across concurrently active calls.
//
// Rows are never deleted; terminal records are retained for history and
// payout reconciliation.
type Call struct {
	ID        string `json:"id" db:"id"`
	ChannelID string `json:"channel_id" db:"channel_id"`

	CallerID    string `json:"caller_id" db:"caller_id"`
	ExecutiveID string `json:"executive_id" db:"executive_id"`

	// Provider-facing numeric identities inside the media channel.
	CallerUID int `json:"caller_uid" db:"caller_uid"`
	CalleeUID int `json:"callee_uid" db:"callee_uid"`

	Status CallStatus `json:"status" db:"status"`

	// Join credentials, write-once per side.
	CallerToken string `json:"caller_token,omitempty" db:"caller_token"`
	CalleeToken string `json:"callee_token,omitempty" db:"callee_token"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	JoinedAt  *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int64 `json:"duration_seconds" db:"duration_seconds"`

	// Rates are captured from the executive's billing profile at creation
	// and frozen for the life of the call.
	RatePerSecondCoins int64           `json:"rate_per_second_coins" db:"rate_per_second_coins"`
	RatePerMinute      decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	// Computed once, at termination.
	CoinsDeducted     int64           `json:"coins_deducted" db:"coins_deducted"`
	ExecutiveEarnings decimal.Decimal `json:"executive_earnings" db:"executive_earnings"`

	EndedBy      EndedBy `json:"ended_by,omitempty" db:"ended_by"`
	EndRequestID string  `json:"end_request_id,omitempty" db:"end_request_id"`

	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
}

// Terminated reports whether the terminal write has happened. ended_at is
// the termination guard, not status, so a partially-visible racing update
// can never be mistaken for live.
func (c Call) Terminated() bool { return c.EndedAt != nil }

type CallStatus string

const (
	StatusPending   CallStatus = "pending"
	StatusRinging   CallStatus = "ringing"
	StatusJoined    CallStatus = "joined"
	StatusMissed    CallStatus = "missed"
	StatusRejected  CallStatus = "rejected"
	StatusCancelled CallStatus = "cancelled"
	StatusEnded     CallStatus = "ended"
)

// Terminal reports whether no further transition is possible from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusMissed, StatusRejected, StatusCancelled, StatusEnded:
		return true
	default:
		return false
	}
}

// EndedBy audits who or what triggered termination.
type EndedBy string

const (
	EndedByCaller  EndedBy = "caller"
	EndedByCallee  EndedBy = "callee"
	EndedByWebhook EndedBy = "webhook"
	EndedByTimeout EndedBy = "timeout"
	EndedBySystem  EndedBy = "system"
)
