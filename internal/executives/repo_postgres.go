package executives

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresRepo assumes the following tables exist:
// - executives
// - executive_stats (one row per executive)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, executiveID string) (Executive, error) {
	const q = `
SELECT id, name, is_online, on_call, is_banned, is_suspended,
       rate_per_second_coins, rate_per_minute, created_at, updated_at
FROM executives
WHERE id = $1
`
	var e Executive
	var rate string
	if err := r.db.QueryRowContext(ctx, q, executiveID).Scan(
		&e.ID,
		&e.Name,
		&e.IsOnline,
		&e.OnCall,
		&e.IsBanned,
		&e.IsSuspended,
		&e.RatePerSecondCoins,
		&rate,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Executive{}, ErrNotFound
		}
		return Executive{}, err
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return Executive{}, err
	}
	e.RatePerMinute = d
	return e, nil
}

func (r *PostgresRepo) SetOnCall(ctx context.Context, executiveID string, onCall bool) error {
	const q = `UPDATE executives SET on_call = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, executiveID, onCall)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) SetOnline(ctx context.Context, executiveID string, online bool) error {
	const q = `UPDATE executives SET is_online = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, executiveID, online)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Stats(ctx context.Context, executiveID string) (Stats, error) {
	const q = `
SELECT executive_id, total_earnings, earnings_today, pending_payout,
       total_talk_seconds_today, total_picked_calls, total_missed_calls, last_updated
FROM executive_stats
WHERE executive_id = $1
`
	var s Stats
	var total, today, pending string
	if err := r.db.QueryRowContext(ctx, q, executiveID).Scan(
		&s.ExecutiveID,
		&total,
		&today,
		&pending,
		&s.TotalTalkSecondsToday,
		&s.TotalPickedCalls,
		&s.TotalMissedCalls,
		&s.LastUpdated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stats{}, ErrNotFound
		}
		return Stats{}, err
	}
	var err error
	if s.TotalEarnings, err = decimal.NewFromString(total); err != nil {
		return Stats{}, err
	}
	if s.EarningsToday, err = decimal.NewFromString(today); err != nil {
		return Stats{}, err
	}
	if s.PendingPayout, err = decimal.NewFromString(pending); err != nil {
		return Stats{}, err
	}
	return s, nil
}

/* ===================== TX-SCOPED POSTINGS ===================== */

// The call session engine runs billing inside the call's terminal
// transaction. These functions are the only writers of the earnings counters.

// CreditEarningsTx credits one finished call to the executive's running
// counters in one atomic update. The "today" counters restart whenever the
// stored stats_day differs from the posting's UTC day.
func CreditEarningsTx(ctx context.Context, tx *sql.Tx, executiveID string, earnings decimal.Decimal, talkSeconds int64, now time.Time) error {
	const q = `
INSERT INTO executive_stats (
  executive_id, total_earnings, earnings_today, pending_payout,
  total_talk_seconds_today, total_picked_calls, total_missed_calls,
  stats_day, last_updated
) VALUES ($1, $2, $2, $2, $3, 1, 0, $4, $5)
ON CONFLICT (executive_id)
DO UPDATE SET
  total_earnings = executive_stats.total_earnings + EXCLUDED.total_earnings,
  earnings_today = CASE WHEN executive_stats.stats_day = EXCLUDED.stats_day
                        THEN executive_stats.earnings_today + EXCLUDED.earnings_today
                        ELSE EXCLUDED.earnings_today END,
  pending_payout = executive_stats.pending_payout + EXCLUDED.pending_payout,
  total_talk_seconds_today = CASE WHEN executive_stats.stats_day = EXCLUDED.stats_day
                        THEN executive_stats.total_talk_seconds_today + EXCLUDED.total_talk_seconds_today
                        ELSE EXCLUDED.total_talk_seconds_today END,
  total_picked_calls = executive_stats.total_picked_calls + 1,
  stats_day          = EXCLUDED.stats_day,
  last_updated       = EXCLUDED.last_updated
`
	day := now.UTC().Format("2006-01-02")
	_, err := tx.ExecContext(ctx, q, executiveID, earnings.StringFixed(2), talkSeconds, day, now)
	return err
}

// RecordMissedTx increments the missed-call counter.
func RecordMissedTx(ctx context.Context, tx *sql.Tx, executiveID string, now time.Time) error {
	const q = `
INSERT INTO executive_stats (
  executive_id, total_earnings, earnings_today, pending_payout,
  total_talk_seconds_today, total_picked_calls, total_missed_calls,
  stats_day, last_updated
) VALUES ($1, 0, 0, 0, 0, 0, 1, $2, $3)
ON CONFLICT (executive_id)
DO UPDATE SET total_missed_calls = executive_stats.total_missed_calls + 1,
              last_updated       = EXCLUDED.last_updated
`
	_, err := tx.ExecContext(ctx, q, executiveID, now.UTC().Format("2006-01-02"), now)
	return err
}

// ClearOnCallTx clears the busy flag inside a terminal transaction so the
// executive becomes dialable again atomically with the call's end.
func ClearOnCallTx(ctx context.Context, tx *sql.Tx, executiveID string) error {
	const q = `UPDATE executives SET on_call = FALSE, updated_at = now() WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, executiveID)
	return err
}
