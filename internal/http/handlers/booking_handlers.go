package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"voltgrid/internal/http/middleware"
	"voltgrid/internal/models"
	"voltgrid/internal/service"
)

// BookingHandler serves the booking request endpoints.
type BookingHandler struct {
	bookings *service.BookingService
	logger   *zap.Logger
}

// NewBookingHandler builds handler.
func NewBookingHandler(bookings *service.BookingService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

type createBookingRequest struct {
	HostID           int64     `json:"host_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	ScheduledTime    time.Time `json:"scheduled_time"`
	EstimatedMinutes int       `json:"estimated_duration_minutes"`
	EstimatedCost    int64     `json:"estimated_cost"`
	Instant          bool      `json:"instant"`
}

type bookingResponse struct {
	RequestID string                  `json:"request_id"`
	Booking   *models.BookingRequest  `json:"booking"`
	Session   *models.ChargingSession `json:"session,omitempty"`
}

// Create handles POST /bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	var body createBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}

	request, session, err := h.bookings.CreateRequest(r.Context(), service.CreateBookingInput{
		UserID:           userID,
		HostID:           body.HostID,
		VehicleNumber:    body.VehicleNumber,
		ScheduledTime:    body.ScheduledTime,
		EstimatedMinutes: body.EstimatedMinutes,
		EstimatedCost:    body.EstimatedCost,
		Instant:          body.Instant,
	})
	if err != nil {
		// A host that fails the gate on creation is indistinguishable
		// from an unknown one to the caller.
		if errors.Is(err, service.ErrHostUnavailable) {
			writeError(w, http.StatusNotFound, codeHostUnavailable, "host is not bookable")
			return
		}
		respondError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingResponse{
		RequestID: request.RequestID,
		Booking:   request,
		Session:   session,
	})
}

// Accept handles PUT /bookings/{id}/accept.
func (h *BookingHandler) Accept(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	request, session, err := h.bookings.Accept(r.Context(), bookingID, callerID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{
		RequestID: request.RequestID,
		Booking:   request,
		Session:   session,
	})
}

// Decline handles PUT /bookings/{id}/decline.
func (h *BookingHandler) Decline(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	request, err := h.bookings.Decline(r.Context(), bookingID, callerID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{RequestID: request.RequestID, Booking: request})
}

// Cancel handles PUT /bookings/{id}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	request, err := h.bookings.CancelRequest(r.Context(), bookingID, callerID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{RequestID: request.RequestID, Booking: request})
}

// Get handles GET /bookings/{id}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	request, err := h.bookings.GetRequest(r.Context(), bookingID, callerID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{RequestID: request.RequestID, Booking: request})
}

// ListMe handles GET /bookings/me.
func (h *BookingHandler) ListMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	requests, err := h.bookings.RequestsForUser(r.Context(), userID, 50)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": requests})
}

func (h *BookingHandler) callerAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return 0, 0, false
	}
	bookingID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid id")
		return 0, 0, false
	}
	return callerID, bookingID, true
}
