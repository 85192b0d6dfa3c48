package models

import "time"

// Transaction kinds.
const (
	TxKindCredit = "credit"
	TxKindDebit  = "debit"
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Wallet holds a user's prepaid balance in the smallest currency unit.
// Mutated only through the wallet service.
type Wallet struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry. Once completed or failed
// it is never changed.
type WalletTransaction struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Kind        string    `json:"kind"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	ReferenceID string    `json:"reference_id"`
	BookingID   *int64    `json:"booking_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
