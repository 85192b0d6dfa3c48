package models

import "time"

// Host verification statuses set by the admin review workflow. Only
// approved, active hosts are bookable.
const (
	HostVerificationPending  = "pending"
	HostVerificationApproved = "approved"
	HostVerificationRejected = "rejected"
)

// Host is a charger listing. Registration and document review happen
// elsewhere; this service only reads the verification outcome.
type Host struct {
	ID                 int64     `json:"id"`
	OwnerUserID        int64     `json:"owner_user_id"`
	Title              string    `json:"title"`
	VerificationStatus string    `json:"verification_status"`
	IsActive           bool      `json:"is_active"`
	PricePerKWh        int64     `json:"price_per_kwh"`
	CreatedAt          time.Time `json:"created_at"`
}
