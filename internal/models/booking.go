package models

import "time"

// Booking request statuses.
const (
	BookingStatusPending   = "pending"
	BookingStatusAccepted  = "accepted"
	BookingStatusDeclined  = "declined"
	BookingStatusExpired   = "expired"
	BookingStatusCancelled = "cancelled"
)

// BookingRequest is a user's intent to reserve a charger slot. Requests are
// retained for audit and never deleted.
type BookingRequest struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	UserID           int64     `json:"user_id"`
	HostID           int64     `json:"host_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	ScheduledTime    time.Time `json:"scheduled_time"`
	EstimatedMinutes int       `json:"estimated_duration_minutes"`
	EstimatedCost    int64     `json:"estimated_cost"`
	Instant          bool      `json:"instant"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
