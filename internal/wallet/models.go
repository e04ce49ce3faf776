package wallet

import "time"

// UserAccount holds a user's prepaid coin balance.
//
// Money invariants:
// - coin_balance never goes negative; call charges floor at zero.
// - No balance change without a corresponding ledger entry.
// - Call charges are posted only inside the call's terminal transaction.
type UserAccount struct {
	UserID      string    `json:"user_id" db:"user_id"`
	CoinBalance int64     `json:"coin_balance" db:"coin_balance"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CoinLedger is an immutable append-only entry. Each row is one credit
// (recharge, admin grant) or debit (call charge) posted against a user's
// coin balance.
type CoinLedger struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountCoins is signed: credits positive, debits negative. For call
	// charges the recorded debit is the amount actually taken after the
	// zero floor, so the ledger always sums to the balance.
	AmountCoins int64 `json:"amount_coins" db:"amount_coins"`

	// CallID links a call charge to its call record.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// IdempotencyKey collapses duplicate postings into one effective write.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeRecharge   LedgerEntryType = "recharge"
	LedgerEntryTypeCallCharge LedgerEntryType = "call_charge"
	LedgerEntryTypeAdminGrant LedgerEntryType = "admin_grant"
)
