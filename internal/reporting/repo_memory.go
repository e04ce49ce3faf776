package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"callbridge/internal/calls"
)

// MemoryRepo aggregates over an in-memory slice of terminal call records.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// Add retains a terminal call for aggregation. Live calls are ignored.
func (r *MemoryRepo) Add(c calls.Call) {
	if !c.Terminated() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, c)
}

func (r *MemoryRepo) ExecutiveDay(ctx context.Context, executiveID string, day time.Time) (ExecutiveDaySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := day.Add(24 * time.Hour)
	out := ExecutiveDaySummary{ExecutiveID: executiveID, Day: day, Earnings: decimal.Zero}
	for _, c := range r.rows {
		if c.ExecutiveID != executiveID || c.EndedAt == nil {
			continue
		}
		if c.EndedAt.Before(day) || !c.EndedAt.Before(next) {
			continue
		}
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		}
		out.TalkSeconds += c.DurationSeconds
		out.CoinsCharged += c.CoinsDeducted
		out.Earnings = out.Earnings.Add(c.ExecutiveEarnings)
	}
	return out, nil
}
