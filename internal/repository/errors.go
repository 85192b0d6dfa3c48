package repository

import "errors"

// Sentinel errors shared by the stores.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrBookingNotFound     = errors.New("booking request not found")
	ErrSessionNotFound     = errors.New("charging session not found")
	ErrHostNotFound        = errors.New("host not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStatusConflict      = errors.New("status conflict")
	ErrHostOccupied        = errors.New("host already has an ongoing session")
)
