package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voltgrid/internal/metrics"
	"voltgrid/internal/models"
	"voltgrid/internal/repository"
)

// WalletStore is the ledger-side contract the wallet service drives.
type WalletStore interface {
	Apply(ctx context.Context, in repository.ApplyInput) (*models.WalletTransaction, error)
	EnsureWallet(ctx context.Context, userID int64) error
	Get(ctx context.Context, userID int64) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.WalletTransaction, error)
}

// WalletService owns every wallet mutation. The ledger invariant — balance
// equals completed credits minus completed debits — holds because the store
// applies both sides in one transaction and nothing else writes to either.
type WalletService struct {
	wallets     WalletStore
	minRecharge int64
	maxRecharge int64
	logger      *zap.Logger
}

// NewWalletService builds service.
func NewWalletService(wallets WalletStore, minRecharge, maxRecharge int64, logger *zap.Logger) *WalletService {
	return &WalletService{
		wallets:     wallets,
		minRecharge: minRecharge,
		maxRecharge: maxRecharge,
		logger:      logger,
	}
}

// Balance returns the wallet.
func (s *WalletService) Balance(ctx context.Context, userID int64) (*models.Wallet, error) {
	return s.wallets.Get(ctx, userID)
}

// Transactions returns latest ledger entries.
func (s *WalletService) Transactions(ctx context.Context, userID int64, limit int) ([]models.WalletTransaction, error) {
	return s.wallets.ListTransactions(ctx, userID, limit)
}

// Credit adds funds. Retrying with the same referenceID returns the original
// transaction without re-crediting.
func (s *WalletService) Credit(ctx context.Context, userID, amount int64, description, referenceID string, bookingID *int64) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(referenceID) == "" {
		return nil, ErrInvalidReference
	}
	if err := s.wallets.EnsureWallet(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := s.wallets.Apply(ctx, repository.ApplyInput{
		UserID:      userID,
		Kind:        models.TxKindCredit,
		Amount:      amount,
		Description: description,
		ReferenceID: referenceID,
		BookingID:   bookingID,
	})
	if err != nil {
		metrics.WalletOps.WithLabelValues(models.TxKindCredit, "error").Inc()
		return nil, err
	}
	metrics.WalletOps.WithLabelValues(models.TxKindCredit, "ok").Inc()
	return tx, nil
}

// Debit withdraws funds, failing with ErrInsufficientBalance when the wallet
// cannot cover the amount. Idempotent under referenceID retries.
func (s *WalletService) Debit(ctx context.Context, userID, amount int64, description, referenceID string, bookingID *int64) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(referenceID) == "" {
		return nil, ErrInvalidReference
	}

	tx, err := s.wallets.Apply(ctx, repository.ApplyInput{
		UserID:      userID,
		Kind:        models.TxKindDebit,
		Amount:      amount,
		Description: description,
		ReferenceID: referenceID,
		BookingID:   bookingID,
	})
	if err != nil {
		metrics.WalletOps.WithLabelValues(models.TxKindDebit, "error").Inc()
		return nil, err
	}
	metrics.WalletOps.WithLabelValues(models.TxKindDebit, "ok").Inc()
	return tx, nil
}

// DebitUpTo withdraws at most amount, clamping to the available balance. It
// returns the amount actually debited; the transaction is nil when the
// balance was zero.
func (s *WalletService) DebitUpTo(ctx context.Context, userID, amount int64, description, referenceID string, bookingID *int64) (*models.WalletTransaction, int64, error) {
	if amount <= 0 {
		return nil, 0, ErrInvalidAmount
	}
	if strings.TrimSpace(referenceID) == "" {
		return nil, 0, ErrInvalidReference
	}

	tx, err := s.wallets.Apply(ctx, repository.ApplyInput{
		UserID:         userID,
		Kind:           models.TxKindDebit,
		Amount:         amount,
		Description:    description,
		ReferenceID:    referenceID,
		BookingID:      bookingID,
		ClampToBalance: true,
	})
	if err != nil {
		metrics.WalletOps.WithLabelValues(models.TxKindDebit, "error").Inc()
		return nil, 0, err
	}
	metrics.WalletOps.WithLabelValues(models.TxKindDebit, "ok").Inc()
	if tx == nil {
		return nil, 0, nil
	}
	return tx, tx.Amount, nil
}

// Recharge tops up the wallet from an external payment method. The gateway
// side is out of scope; the ledger records the credit with a generated
// reference.
func (s *WalletService) Recharge(ctx context.Context, userID, amount int64, paymentMethod string) (*models.Wallet, *models.WalletTransaction, error) {
	if amount < s.minRecharge || amount > s.maxRecharge {
		return nil, nil, ErrInvalidAmount
	}

	referenceID := fmt.Sprintf("recharge-%s", uuid.NewString())
	description := "wallet recharge"
	if paymentMethod != "" {
		description = fmt.Sprintf("wallet recharge via %s", paymentMethod)
	}

	tx, err := s.Credit(ctx, userID, amount, description, referenceID, nil)
	if err != nil {
		return nil, nil, err
	}

	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("wallet recharged",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("reference_id", referenceID),
	)
	return wallet, tx, nil
}
