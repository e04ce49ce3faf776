package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"callbridge/internal/executives"
	"callbridge/internal/wallet"
	"callbridge/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - calls
// - user_accounts, coin_ledger   (internal/wallet)
// - executive_stats              (internal/executives)
//
// Active-channel uniqueness is enforced by a partial unique index:
// UNIQUE (channel_id) WHERE ended_at IS NULL

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
id, channel_id, caller_id, executive_id, caller_uid, callee_uid, status,
caller_token, callee_token, started_at, joined_at, ended_at,
duration_seconds, rate_per_second_coins, rate_per_minute,
coins_deducted, executive_earnings, ended_by, end_request_id,
last_heartbeat_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var c Call
	err := row.Scan(
		&c.ID,
		&c.ChannelID,
		&c.CallerID,
		&c.ExecutiveID,
		&c.CallerUID,
		&c.CalleeUID,
		&c.Status,
		&c.CallerToken,
		&c.CalleeToken,
		&c.StartedAt,
		&c.JoinedAt,
		&c.EndedAt,
		&c.DurationSeconds,
		&c.RatePerSecondCoins,
		&c.RatePerMinute,
		&c.CoinsDeducted,
		&c.ExecutiveEarnings,
		&c.EndedBy,
		&c.EndRequestID,
		&c.LastHeartbeatAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepo) Create(ctx context.Context, call *Call) error {
	const q = `
INSERT INTO calls (
  id, channel_id, caller_id, executive_id, caller_uid, callee_uid, status,
  caller_token, callee_token, started_at, joined_at, ended_at,
  duration_seconds, rate_per_second_coins, rate_per_minute,
  coins_deducted, executive_earnings, ended_by, end_request_id,
  last_heartbeat_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
`
	_, err := r.db.ExecContext(ctx, q,
		call.ID,
		call.ChannelID,
		call.CallerID,
		call.ExecutiveID,
		call.CallerUID,
		call.CalleeUID,
		call.Status,
		call.CallerToken,
		call.CalleeToken,
		call.StartedAt,
		call.JoinedAt,
		call.EndedAt,
		call.DurationSeconds,
		call.RatePerSecondCoins,
		call.RatePerMinute,
		call.CoinsDeducted,
		call.ExecutiveEarnings,
		call.EndedBy,
		call.EndRequestID,
		call.LastHeartbeatAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls WHERE id = $1`, callColumns)
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByChannel(ctx context.Context, channelID string) (*Call, error) {
	q := fmt.Sprintf(`
SELECT %s FROM calls
WHERE channel_id = $1
ORDER BY started_at DESC
LIMIT 1`, callColumns)
	return scanCall(r.db.QueryRowContext(ctx, q, channelID))
}

func lockCall(ctx context.Context, tx *sql.Tx, id string) (*Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls WHERE id = $1 FOR UPDATE`, callColumns)
	return scanCall(tx.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Accept(ctx context.Context, id string, now time.Time) (*Call, error) {
	var out *Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		next, changed, err := Next(c.Status, TriggerAccept)
		if err != nil {
			return err
		}
		if changed {
			const q = `UPDATE calls SET status = $2 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, q, id, next); err != nil {
				return err
			}
			c.Status = next
		}
		out = c
		return nil
	})
	return out, err
}

func (r *PostgresRepo) MarkJoined(ctx context.Context, id string, now time.Time) (*Call, error) {
	var out *Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		next, changed, err := Next(c.Status, TriggerJoin)
		if err != nil {
			return err
		}
		if changed {
			if c.JoinedAt == nil {
				t := now
				c.JoinedAt = &t
			}
			const q = `UPDATE calls SET status = $2, joined_at = $3 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, q, id, next, c.JoinedAt); err != nil {
				return err
			}
			c.Status = next
		}
		out = c
		return nil
	})
	return out, err
}

// Terminate flips a live call to a terminal status and settles money in the
// same transaction. The row lock plus the ended_at IS NULL guard makes the
// flip a compare-and-swap: concurrent attempts serialize on the lock, the
// trigger is re-validated against the locked row, and every loser observes
// the winner's committed terminal row.
func (r *PostgresRepo) Terminate(ctx context.Context, params TerminateParams) (TerminateResult, error) {
	var out TerminateResult
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, params.CallID)
		if err != nil {
			return err
		}
		next, changed, err := Next(c.Status, params.Trigger)
		if err != nil {
			return err
		}
		if !changed {
			out = TerminateResult{Call: c, Won: false}
			return nil
		}

		endedAt := params.EndedAt
		c.Status = next
		c.EndedAt = &endedAt
		c.EndedBy = params.EndedBy
		c.EndRequestID = params.EndRequestID

		bill := ComputeBilling(c.JoinedAt, c.EndedAt, c.RatePerSecondCoins, c.RatePerMinute)
		c.DurationSeconds = bill.DurationSeconds

		var shortfall int64
		if c.JoinedAt != nil {
			chargeKey := "call_charge:" + c.ID
			deducted, short, err := wallet.PostCallChargeTx(ctx, tx, c.CallerID, c.ID, bill.CoinsDeducted, chargeKey, endedAt)
			if err != nil {
				return err
			}
			c.CoinsDeducted = deducted
			c.ExecutiveEarnings = bill.ExecutiveEarnings
			shortfall = short

			if err := executives.CreditEarningsTx(ctx, tx, c.ExecutiveID, bill.ExecutiveEarnings, bill.DurationSeconds, endedAt); err != nil {
				return err
			}
		} else if next == StatusMissed {
			if err := executives.RecordMissedTx(ctx, tx, c.ExecutiveID, endedAt); err != nil {
				return err
			}
		}
		if err := executives.ClearOnCallTx(ctx, tx, c.ExecutiveID); err != nil {
			return err
		}

		const q = `
UPDATE calls
SET status = $2,
    ended_at = $3,
    ended_by = $4,
    end_request_id = $5,
    duration_seconds = $6,
    coins_deducted = $7,
    executive_earnings = $8
WHERE id = $1 AND ended_at IS NULL
`
		res, err := tx.ExecContext(ctx, q,
			c.ID, c.Status, c.EndedAt, c.EndedBy, c.EndRequestID,
			c.DurationSeconds, c.CoinsDeducted, c.ExecutiveEarnings,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("calls: terminal guard lost for %s despite row lock", c.ID)
		}

		out = TerminateResult{Call: c, Won: true, CoinShortfall: shortfall}
		return nil
	})
	return out, err
}

func (r *PostgresRepo) Heartbeat(ctx context.Context, id string, now time.Time) (*Call, error) {
	q := fmt.Sprintf(`
UPDATE calls
SET last_heartbeat_at = $2
WHERE id = $1 AND ended_at IS NULL
RETURNING %s`, callColumns)
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, now))
	if errors.Is(err, ErrNotFound) {
		// Either missing or already terminal; the caller distinguishes by
		// reading the record.
		return r.Get(ctx, id)
	}
	return c, err
}
