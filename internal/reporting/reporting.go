// Package reporting aggregates terminal call records into per-executive
// summaries for payout review and admin dashboards. It only ever reads
// settled rows; live calls are invisible to it.
package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"callbridge/internal/executives"
)

var ErrInvalidArgument = errors.New("reporting: invalid argument")

// ExecutiveDaySummary aggregates one executive's terminal calls for one
// UTC day.
type ExecutiveDaySummary struct {
	ExecutiveID string    `json:"executive_id"`
	Day         time.Time `json:"day"`

	EndedCalls     int64 `json:"ended_calls"`
	MissedCalls    int64 `json:"missed_calls"`
	RejectedCalls  int64 `json:"rejected_calls"`
	CancelledCalls int64 `json:"cancelled_calls"`

	TalkSeconds  int64           `json:"talk_seconds"`
	CoinsCharged int64           `json:"coins_charged"`
	Earnings     decimal.Decimal `json:"earnings"`
}

type Repository interface {
	ExecutiveDay(ctx context.Context, executiveID string, day time.Time) (ExecutiveDaySummary, error)
}

type Service struct {
	repo  Repository
	execs executives.Repository
}

func NewService(repo Repository, execs executives.Repository) *Service {
	return &Service{repo: repo, execs: execs}
}

// ExecutiveDay returns the day summary for an existing executive. day is
// truncated to its UTC midnight.
func (s *Service) ExecutiveDay(ctx context.Context, executiveID string, day time.Time) (ExecutiveDaySummary, error) {
	if executiveID == "" {
		return ExecutiveDaySummary{}, ErrInvalidArgument
	}
	if _, err := s.execs.Get(ctx, executiveID); err != nil {
		return ExecutiveDaySummary{}, err
	}
	return s.repo.ExecutiveDay(ctx, executiveID, day.UTC().Truncate(24*time.Hour))
}

// Overview pairs the running lifetime counters with one day's aggregation.
type Overview struct {
	Stats executives.Stats    `json:"stats"`
	Day   ExecutiveDaySummary `json:"day"`
}

func (s *Service) Overview(ctx context.Context, executiveID string, day time.Time) (Overview, error) {
	summary, err := s.ExecutiveDay(ctx, executiveID, day)
	if err != nil {
		return Overview{}, err
	}
	stats, err := s.execs.Stats(ctx, executiveID)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Stats: stats, Day: summary}, nil
}
