package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"voltgrid/internal/repository"
	"voltgrid/internal/service"
)

// Stable machine-readable error codes.
const (
	codeValidation          = "ValidationError"
	codeInvalidTransition   = "InvalidTransition"
	codeInsufficientBalance = "InsufficientBalance"
	codeHostUnavailable     = "HostUnavailable"
	codeInvalidRating       = "InvalidRating"
	codeAlreadyRated        = "AlreadyRated"
	codeNotFound            = "NotFound"
	codeForbidden           = "Forbidden"
	codeUnauthorized        = "Unauthorized"
	codeInternal            = "InternalError"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Error: message})
}

// respondError maps domain errors to status codes and stable codes. Unknown
// errors become an opaque 500 and are logged server-side.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, codeInvalidRating, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrHostNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrHostUnavailable):
		writeError(w, http.StatusConflict, codeHostUnavailable, err.Error())
	case errors.Is(err, service.ErrAlreadyRated):
		writeError(w, http.StatusConflict, codeAlreadyRated, err.Error())
	case errors.Is(err, repository.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, codeInsufficientBalance, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "unexpected error")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return false
	}
	return true
}
