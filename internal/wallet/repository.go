package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - user_accounts
// - coin_ledger (immutable append-only)
//
// It also assumes an idempotency constraint:
// UNIQUE (user_id, idempotency_key)

func lockAccount(ctx context.Context, tx *sql.Tx, userID string) (UserAccount, error) {
	// Lock the account row to serialize concurrent money operations per user.
	const q = `
SELECT user_id, coin_balance, updated_at
FROM user_accounts
WHERE user_id = $1
FOR UPDATE
`
	var a UserAccount
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.CoinBalance,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserAccount{}, ErrNotFound
		}
		return UserAccount{}, err
	}
	return a, nil
}

func getAccount(ctx context.Context, db *sql.DB, userID string) (UserAccount, error) {
	const q = `
SELECT user_id, coin_balance, updated_at
FROM user_accounts
WHERE user_id = $1
`
	var a UserAccount
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.CoinBalance,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserAccount{}, ErrNotFound
		}
		return UserAccount{}, err
	}
	return a, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (CoinLedger, bool, error) {
	const q = `
SELECT id, user_id, type, amount_coins, call_id, idempotency_key, metadata, created_at
FROM coin_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e CoinLedger
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.AmountCoins,
		&e.CallID,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CoinLedger{}, false, nil
		}
		return CoinLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e CoinLedger) error {
	const q = `
INSERT INTO coin_ledger (
  id, user_id, type, amount_coins, call_id, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.AmountCoins,
		e.CallID,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, deltaCoins int64, now time.Time) (UserAccount, error) {
	const q = `
UPDATE user_accounts
SET coin_balance = coin_balance + $2,
    updated_at   = $3
WHERE user_id = $1
RETURNING user_id, coin_balance, updated_at
`
	var a UserAccount
	if err := tx.QueryRowContext(ctx, q, userID, deltaCoins, now).Scan(
		&a.UserID,
		&a.CoinBalance,
		&a.UpdatedAt,
	); err != nil {
		return UserAccount{}, err
	}
	return a, nil
}

/* ===================== TX-SCOPED POSTINGS ===================== */

// PostCallChargeTx debits a finished call's coins inside the caller-supplied
// transaction, flooring the balance at zero.
//
// Returns the coins actually deducted and the shortfall (requested minus
// deducted). A non-zero shortfall means the balance was exhausted and the
// session engine should raise a system termination.
//
// Idempotent per (userID, key): a repeated posting returns the recorded
// deduction without touching the balance.
func PostCallChargeTx(ctx context.Context, tx *sql.Tx, userID, callID string, coins int64, key string, now time.Time) (deducted, shortfall int64, err error) {
	if userID == "" || callID == "" || key == "" {
		return 0, 0, ErrInvalidArgument
	}
	if coins < 0 {
		return 0, 0, ErrInvalidArgument
	}
	if coins == 0 {
		return 0, 0, nil
	}

	if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, key); err != nil {
		return 0, 0, err
	} else if ok {
		return -existing.AmountCoins, coins + existing.AmountCoins, nil
	}

	a, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return 0, 0, err
	}

	deducted = coins
	if deducted > a.CoinBalance {
		deducted = a.CoinBalance
	}
	shortfall = coins - deducted

	entry := CoinLedger{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           LedgerEntryTypeCallCharge,
		AmountCoins:    -deducted,
		CallID:         callID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return 0, 0, err
	}
	if _, err := applyBalanceDelta(ctx, tx, userID, -deducted, now); err != nil {
		return 0, 0, err
	}
	return deducted, shortfall, nil
}
