package repository

import (
	"context"
	"database/sql"
	"errors"

	"voltgrid/internal/models"
)

// HostRepository reads charger listings. Host administration happens in the
// admin service; this side only needs the verification outcome.
type HostRepository struct {
	db *sql.DB
}

// NewHostRepository returns repository.
func NewHostRepository(db *sql.DB) *HostRepository {
	return &HostRepository{db: db}
}

// GetByID returns a host listing.
func (r *HostRepository) GetByID(ctx context.Context, id int64) (*models.Host, error) {
	var h models.Host
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, verification_status, is_active, price_per_kwh, created_at
		FROM hosts
		WHERE id = $1
	`, id).Scan(
		&h.ID,
		&h.OwnerUserID,
		&h.Title,
		&h.VerificationStatus,
		&h.IsActive,
		&h.PricePerKWh,
		&h.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// IsBookable reports whether the host passed verification and is active.
func (r *HostRepository) IsBookable(ctx context.Context, id int64) (bool, error) {
	var bookable bool
	err := r.db.QueryRowContext(ctx, `
		SELECT verification_status = $2 AND is_active
		FROM hosts
		WHERE id = $1
	`, id, models.HostVerificationApproved).Scan(&bookable)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrHostNotFound
	}
	if err != nil {
		return false, err
	}
	return bookable, nil
}
