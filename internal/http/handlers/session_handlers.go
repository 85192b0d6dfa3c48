package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"voltgrid/internal/http/middleware"
	"voltgrid/internal/models"
	"voltgrid/internal/service"
)

// SessionHandler serves the charging session endpoints.
type SessionHandler struct {
	bookings *service.BookingService
	wallet   *service.WalletService
	logger   *zap.Logger
}

// NewSessionHandler builds handler.
func NewSessionHandler(bookings *service.BookingService, wallet *service.WalletService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{bookings: bookings, wallet: wallet, logger: logger}
}

type completeSessionRequest struct {
	EnergyKWh  float64 `json:"energy_consumed_kwh"`
	ActualCost int64   `json:"actual_cost"`
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

type rateSessionRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

// Complete handles POST /sessions/{id}/complete.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	callerID, sessionID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	var body completeSessionRequest
	if !decodeBody(w, r, &body) {
		return
	}

	session, err := h.bookings.CompleteSession(r.Context(), service.CompleteSessionInput{
		SessionID:  sessionID,
		CallerID:   callerID,
		EnergyKWh:  body.EnergyKWh,
		ActualCost: body.ActualCost,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	payload := map[string]interface{}{"session": session}
	if wallet, walletErr := h.wallet.Balance(r.Context(), session.UserID); walletErr == nil {
		payload["balance"] = wallet.Balance
	}
	writeJSON(w, http.StatusOK, payload)
}

// Cancel handles PUT /sessions/{id}/cancel.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	callerID, sessionID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	var body cancelSessionRequest
	if !decodeBody(w, r, &body) {
		return
	}

	session, err := h.bookings.CancelSession(r.Context(), sessionID, callerID, body.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// Rate handles PUT /sessions/{id}/rate.
func (h *SessionHandler) Rate(w http.ResponseWriter, r *http.Request) {
	callerID, sessionID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}

	var body rateSessionRequest
	if !decodeBody(w, r, &body) {
		return
	}

	session, err := h.bookings.RateSession(r.Context(), sessionID, callerID, body.Rating, body.Review)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// ListMe handles GET /sessions/me.
func (h *SessionHandler) ListMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	sessions, err := h.bookings.SessionsForUser(r.Context(), userID, 50)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChargingSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionHandler) callerAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return 0, 0, false
	}
	sessionID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid id")
		return 0, 0, false
	}
	return callerID, sessionID, true
}
