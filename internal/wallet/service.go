package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbridge/pkg/utils"

	"github.com/google/uuid"
)

// Service provides coin balance operations outside the call path.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations run in a DB transaction
// - Call charges do NOT go through this service; they are posted by
//   PostCallChargeTx inside the call's terminal transaction.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

var (
	ErrNotFound        = errors.New("wallet: not found")
	ErrInvalidArgument = errors.New("wallet: invalid argument")
)

type CreditRequest struct {
	AmountCoins    int64           `json:"amount_coins"`
	Type           LedgerEntryType `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

// CoinBalance returns the user's current prepaid balance.
func (s *Service) CoinBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	a, err := getAccount(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	return a.CoinBalance, nil
}

// Credit posts a recharge or admin grant.
func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (CoinLedger, UserAccount, error) {
	if userID == "" || req.IdempotencyKey == "" {
		return CoinLedger{}, UserAccount{}, ErrInvalidArgument
	}
	if req.AmountCoins <= 0 {
		return CoinLedger{}, UserAccount{}, ErrInvalidArgument
	}
	if req.Type != LedgerEntryTypeRecharge && req.Type != LedgerEntryTypeAdminGrant {
		return CoinLedger{}, UserAccount{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	var outLedger CoinLedger
	var outAcct UserAccount

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := lockAccount(ctx, tx, userID); err != nil {
			return err
		}

		// Idempotency: a retried credit returns the recorded entry.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			a, err := getAccountTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outAcct = a
			return nil
		}

		entry := CoinLedger{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           req.Type,
			AmountCoins:    req.AmountCoins,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		a, err := applyBalanceDelta(ctx, tx, userID, req.AmountCoins, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outAcct = a
		return nil
	})

	return outLedger, outAcct, err
}

func getAccountTx(ctx context.Context, tx *sql.Tx, userID string) (UserAccount, error) {
	const q = `
SELECT user_id, coin_balance, updated_at
FROM user_accounts
WHERE user_id = $1
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
