package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// Billing is the outcome of metering one call. Computed exactly once, at
// termination, inside the winning writer's atomic section.
type Billing struct {
	DurationSeconds   int64           `json:"duration_seconds"`
	CoinsDeducted     int64           `json:"coins_deducted"`
	ExecutiveEarnings decimal.Decimal `json:"executive_earnings"`
}

var sixty = decimal.NewFromInt(60)

// ComputeBilling is a pure function of the call's timestamps and frozen
// rates.
//
// duration   = max(0, floor(ended - joined)), 0 if never joined
// coins      = duration * rate_per_second, never negative
// earnings   = duration * truncate2(rate_per_minute / 60), truncated to
//              2 decimal places
func ComputeBilling(joinedAt, endedAt *time.Time, ratePerSecondCoins int64, ratePerMinute decimal.Decimal) Billing {
	out := Billing{ExecutiveEarnings: decimal.Zero}

	if joinedAt == nil || endedAt == nil {
		return out
	}

	secs := int64(endedAt.Sub(*joinedAt) / time.Second)
	if secs < 0 {
		secs = 0
	}
	out.DurationSeconds = secs

	if ratePerSecondCoins > 0 {
		out.CoinsDeducted = secs * ratePerSecondCoins
	}

	perSecond := ratePerMinute.Div(sixty).Truncate(2)
	out.ExecutiveEarnings = perSecond.Mul(decimal.NewFromInt(secs)).Truncate(2)
	if out.ExecutiveEarnings.IsNegative() {
		out.ExecutiveEarnings = decimal.Zero
	}
	return out
}
