package executives

import (
	"time"

	"github.com/shopspring/decimal"
)

// Executive is the callee side of every call.
//
// Billing invariant: RatePerSecondCoins and RatePerMinute are the executive's
// *current* billing profile. The call session engine copies them onto the
// call row at initiate; profile changes never retroactively affect a call in
// progress.
type Executive struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Availability flags. on_call is also mirrored as a Redis lock so two
	// processes cannot both seize the same executive.
	IsOnline    bool `json:"is_online" db:"is_online"`
	OnCall      bool `json:"on_call" db:"on_call"`
	IsBanned    bool `json:"is_banned" db:"is_banned"`
	IsSuspended bool `json:"is_suspended" db:"is_suspended"`

	// RatePerSecondCoins is charged to the caller per talk second.
	RatePerSecondCoins int64 `json:"rate_per_second_coins" db:"rate_per_second_coins"`

	// RatePerMinute is the currency amount paid to the executive per talk
	// minute.
	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Stats carries the running earnings and call counters for one executive.
//
// Money invariant: all three earnings counters move together, in the same
// atomic update as the call's terminal write. No other component may mutate
// them.
type Stats struct {
	ExecutiveID string `json:"executive_id" db:"executive_id"`

	TotalEarnings decimal.Decimal `json:"total_earnings" db:"total_earnings"`
	EarningsToday decimal.Decimal `json:"earnings_today" db:"earnings_today"`
	PendingPayout decimal.Decimal `json:"pending_payout" db:"pending_payout"`

	TotalTalkSecondsToday int64 `json:"total_talk_seconds_today" db:"total_talk_seconds_today"`
	TotalPickedCalls      int64 `json:"total_picked_calls" db:"total_picked_calls"`
	TotalMissedCalls      int64 `json:"total_missed_calls" db:"total_missed_calls"`

	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}
