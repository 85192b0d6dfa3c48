package models

import "time"

// Charging session statuses.
const (
	SessionStatusOngoing   = "ongoing"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// ChargingSession is a realized, time-bounded use of a charger. Immutable
// once completed or cancelled, except for a one-time rating.
type ChargingSession struct {
	ID              int64      `json:"id"`
	BookingID       int64      `json:"booking_id"`
	RequestID       string     `json:"request_id"`
	UserID          int64      `json:"user_id"`
	HostID          int64      `json:"host_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	EnergyKWh       float64    `json:"energy_kwh"`
	Cost            int64      `json:"cost"`
	Status          string     `json:"status"`
	TransactionID   *int64     `json:"transaction_id,omitempty"`
	Flagged         bool       `json:"flagged"`
	Rating          *int       `json:"rating,omitempty"`
	Review          string     `json:"review,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
