package reporting

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ExecutiveDay(ctx context.Context, executiveID string, day time.Time) (ExecutiveDaySummary, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE status = 'ended')                    AS ended_calls,
  COUNT(*) FILTER (WHERE status = 'missed')                   AS missed_calls,
  COUNT(*) FILTER (WHERE status = 'rejected')                 AS rejected_calls,
  COUNT(*) FILTER (WHERE status = 'cancelled')                AS cancelled_calls,
  COALESCE(SUM(duration_seconds), 0)                          AS talk_seconds,
  COALESCE(SUM(coins_deducted), 0)                            AS coins_charged,
  COALESCE(SUM(executive_earnings), 0)                        AS earnings
FROM calls
WHERE executive_id = $1
  AND ended_at >= $2
  AND ended_at < $3
`
	next := day.Add(24 * time.Hour)
	out := ExecutiveDaySummary{ExecutiveID: executiveID, Day: day, Earnings: decimal.Zero}
	err := r.db.QueryRowContext(ctx, q, executiveID, day, next).Scan(
		&out.EndedCalls,
		&out.MissedCalls,
		&out.RejectedCalls,
		&out.CancelledCalls,
		&out.TalkSeconds,
		&out.CoinsCharged,
		&out.Earnings,
	)
	return out, err
}
