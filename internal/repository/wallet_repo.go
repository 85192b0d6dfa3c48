package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"voltgrid/internal/models"
)

const uniqueViolationCode = "23505"

// WalletRepository is the sole writer of wallet balances and the ledger.
// Every balance mutation runs in a single database transaction spanning the
// row lock, the balance check, the balance update and the ledger insert.
type WalletRepository struct {
	db *sql.DB
}

// NewWalletRepository returns repository.
func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ApplyInput describes a single ledger mutation.
type ApplyInput struct {
	UserID      int64
	Kind        string // models.TxKindCredit or models.TxKindDebit
	Amount      int64
	Description string
	ReferenceID string
	BookingID   *int64

	// ClampToBalance makes a debit charge at most the available balance
	// instead of failing with ErrInsufficientBalance. The returned
	// transaction carries the amount actually debited; nil is returned
	// when the balance was zero and no money moved.
	ClampToBalance bool
}

// Apply atomically mutates the balance and appends a completed ledger row.
// A retry carrying an already-used ReferenceID returns the original
// transaction without re-applying the mutation.
func (r *WalletRepository) Apply(ctx context.Context, in ApplyInput) (*models.WalletTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet: begin: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		in.UserID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}

	amount := in.Amount
	if in.Kind == models.TxKindDebit && balance < amount {
		if !in.ClampToBalance {
			return nil, ErrInsufficientBalance
		}
		amount = balance
		if amount == 0 {
			return nil, nil
		}
	}

	entry := &models.WalletTransaction{
		UserID:      in.UserID,
		Kind:        in.Kind,
		Amount:      amount,
		Description: in.Description,
		Status:      models.TxStatusCompleted,
		ReferenceID: in.ReferenceID,
		BookingID:   in.BookingID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (user_id, kind, amount, description, status, reference_id, booking_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`,
		entry.UserID,
		entry.Kind,
		entry.Amount,
		entry.Description,
		entry.Status,
		entry.ReferenceID,
		entry.BookingID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return r.GetByReference(ctx, in.ReferenceID)
		}
		return nil, err
	}

	delta := amount
	if in.Kind == models.TxKindDebit {
		delta = -amount
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + $2, updated_at = NOW() WHERE user_id = $1`,
		in.UserID, delta,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("wallet: commit: %w", err)
	}
	return entry, nil
}

// EnsureWallet creates the zero-balance row if the user has none yet.
func (r *WalletRepository) EnsureWallet(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// Get returns the wallet row.
func (r *WalletRepository) Get(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByReference returns the ledger entry created under the given
// idempotency key.
func (r *WalletRepository) GetByReference(ctx context.Context, referenceID string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount, description, status, reference_id, booking_id, created_at
		FROM wallet_transactions
		WHERE reference_id = $1
	`, referenceID).Scan(
		&t.ID,
		&t.UserID,
		&t.Kind,
		&t.Amount,
		&t.Description,
		&t.Status,
		&t.ReferenceID,
		&t.BookingID,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions returns latest ledger entries for user.
func (r *WalletRepository) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, description, status, reference_id, booking_id, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Kind,
			&t.Amount,
			&t.Description,
			&t.Status,
			&t.ReferenceID,
			&t.BookingID,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
