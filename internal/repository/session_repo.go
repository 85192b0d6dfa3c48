package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"voltgrid/internal/models"
)

const sessionColumns = `id, booking_id, request_id, user_id, host_id, start_time, end_time,
	duration_minutes, energy_kwh, cost, status, transaction_id, flagged, rating, review,
	cancel_reason, cancelled_at, created_at, updated_at`

// SessionRepository persists charging sessions. A partial unique index on
// (host_id) WHERE status = 'ongoing' backs single-slot host semantics.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row interface{ Scan(...interface{}) error }, s *models.ChargingSession) error {
	return row.Scan(
		&s.ID,
		&s.BookingID,
		&s.RequestID,
		&s.UserID,
		&s.HostID,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMinutes,
		&s.EnergyKWh,
		&s.Cost,
		&s.Status,
		&s.TransactionID,
		&s.Flagged,
		&s.Rating,
		&s.Review,
		&s.CancelReason,
		&s.CancelledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}

// Create inserts an ongoing session. ErrHostOccupied is returned when the
// host already has one.
func (r *SessionRepository) Create(ctx context.Context, s *models.ChargingSession) error {
	const query = `
		INSERT INTO charging_sessions (booking_id, request_id, user_id, host_id, start_time,
			status, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		s.BookingID,
		s.RequestID,
		s.UserID,
		s.HostID,
		s.StartTime,
		s.Status,
		s.TransactionID,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrHostOccupied
		}
		return err
	}
	return nil
}

// GetByID returns a session.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.ChargingSession, error) {
	var s models.ChargingSession
	err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM charging_sessions WHERE id = $1`, id), &s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Complete finalizes an ongoing session. The status guard makes a second
// completion lose with ErrStatusConflict.
func (r *SessionRepository) Complete(ctx context.Context, id int64, endTime time.Time, durationMinutes int, energyKWh float64, cost int64, transactionID *int64, flagged bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE charging_sessions
		SET status = $2,
		    end_time = $3,
		    duration_minutes = $4,
		    energy_kwh = $5,
		    cost = $6,
		    transaction_id = COALESCE($7, transaction_id),
		    flagged = $8,
		    updated_at = NOW()
		WHERE id = $1 AND status = $9
	`, id, models.SessionStatusCompleted, endTime, durationMinutes, energyKWh, cost, transactionID, flagged, models.SessionStatusOngoing)
	if err != nil {
		return err
	}
	return r.guard(ctx, id, result)
}

// Cancel moves an ongoing session to cancelled.
func (r *SessionRepository) Cancel(ctx context.Context, id int64, reason string, cancelledAt time.Time, refundTransactionID *int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE charging_sessions
		SET status = $2,
		    cancel_reason = $3,
		    cancelled_at = $4,
		    end_time = $4,
		    transaction_id = COALESCE($5, transaction_id),
		    updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, id, models.SessionStatusCancelled, reason, cancelledAt, refundTransactionID, models.SessionStatusOngoing)
	if err != nil {
		return err
	}
	return r.guard(ctx, id, result)
}

// Rate records the one-time rating. The guard rejects sessions that are not
// completed or already carry a rating.
func (r *SessionRepository) Rate(ctx context.Context, id int64, rating int, review string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE charging_sessions
		SET rating = $2, review = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND rating IS NULL
	`, id, rating, review, models.SessionStatusCompleted)
	if err != nil {
		return err
	}
	return r.guard(ctx, id, result)
}

// AttachTransaction links the settlement ledger entry to the session.
func (r *SessionRepository) AttachTransaction(ctx context.Context, id int64, transactionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE charging_sessions SET transaction_id = $2, updated_at = NOW() WHERE id = $1`,
		id, transactionID)
	return err
}

// ListByUser returns last N sessions for user.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM charging_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChargingSession
	for rows.Next() {
		var s models.ChargingSession
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepository) guard(ctx context.Context, id int64, result sql.Result) error {
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
