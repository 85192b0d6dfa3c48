package notify

import "time"

// Event types emitted on committed transitions.
const (
	EventBookingCreated   = "booking.created"
	EventBookingAccepted  = "booking.accepted"
	EventBookingDeclined  = "booking.declined"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
	EventSessionCancelled = "session.cancelled"
	EventWalletRecharged  = "wallet.recharged"
)

// Event is a one-way message emitted after a successful transition. Delivery
// is fire-and-forget and never affects the transition itself.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	BookingID int64     `json:"booking_id,omitempty"`
	SessionID int64     `json:"session_id,omitempty"`
	UserID    int64     `json:"user_id,omitempty"`
	HostID    int64     `json:"host_id,omitempty"`
	At        time.Time `json:"at"`
}
