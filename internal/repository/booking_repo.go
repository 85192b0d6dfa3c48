package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voltgrid/internal/models"
)

// BookingRepository persists booking requests.
type BookingRepository struct {
	db *sql.DB
}

// NewBookingRepository returns repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new pending request.
func (r *BookingRepository) Create(ctx context.Context, b *models.BookingRequest) error {
	const query = `
		INSERT INTO booking_requests (request_id, user_id, host_id, vehicle_number, scheduled_time,
			estimated_duration_minutes, estimated_cost, instant, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		b.RequestID,
		b.UserID,
		b.HostID,
		b.VehicleNumber,
		b.ScheduledTime,
		b.EstimatedMinutes,
		b.EstimatedCost,
		b.Instant,
		b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

// GetByID returns a request by numeric id.
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.BookingRequest, error) {
	const query = `
		SELECT id, request_id, user_id, host_id, vehicle_number, scheduled_time,
			estimated_duration_minutes, estimated_cost, instant, status, created_at, updated_at
		FROM booking_requests
		WHERE id = $1
	`
	var b models.BookingRequest
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.RequestID,
		&b.UserID,
		&b.HostID,
		&b.VehicleNumber,
		&b.ScheduledTime,
		&b.EstimatedMinutes,
		&b.EstimatedCost,
		&b.Instant,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatus moves a request from one status to another. The guard on the
// current status makes concurrent transitions race-safe: the loser sees
// ErrStatusConflict.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, from, to string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE booking_requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ExpireStale moves pending requests older than cutoff to expired and
// returns them so the caller can emit notifications.
func (r *BookingRepository) ExpireStale(ctx context.Context, cutoff time.Time) ([]models.BookingRequest, error) {
	const query = `
		UPDATE booking_requests
		SET status = $2, updated_at = NOW()
		WHERE status = $1 AND created_at < $3
		RETURNING id, request_id, user_id, host_id, vehicle_number, scheduled_time,
			estimated_duration_minutes, estimated_cost, instant, status, created_at, updated_at
	`
	rows, err := r.db.QueryContext(ctx, query, models.BookingStatusPending, models.BookingStatusExpired, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []models.BookingRequest
	for rows.Next() {
		var b models.BookingRequest
		if err := rows.Scan(
			&b.ID,
			&b.RequestID,
			&b.UserID,
			&b.HostID,
			&b.VehicleNumber,
			&b.ScheduledTime,
			&b.EstimatedMinutes,
			&b.EstimatedCost,
			&b.Instant,
			&b.Status,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		expired = append(expired, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}

// ListByUser returns latest requests for user.
func (r *BookingRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.BookingRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, request_id, user_id, host_id, vehicle_number, scheduled_time,
			estimated_duration_minutes, estimated_cost, instant, status, created_at, updated_at
		FROM booking_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.BookingRequest
	for rows.Next() {
		var b models.BookingRequest
		if err := rows.Scan(
			&b.ID,
			&b.RequestID,
			&b.UserID,
			&b.HostID,
			&b.VehicleNumber,
			&b.ScheduledTime,
			&b.EstimatedMinutes,
			&b.EstimatedCost,
			&b.Instant,
			&b.Status,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}
