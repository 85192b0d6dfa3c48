package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"voltgrid/internal/http/middleware"
	"voltgrid/internal/models"
	"voltgrid/internal/service"
)

// WalletHandler serves the wallet endpoints.
type WalletHandler struct {
	wallet *service.WalletService
	logger *zap.Logger
}

// NewWalletHandler builds handler.
func NewWalletHandler(wallet *service.WalletService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, logger: logger}
}

type rechargeRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

// Recharge handles POST /wallet/recharge.
func (h *WalletHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	var body rechargeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	wallet, tx, err := h.wallet.Recharge(r.Context(), userID, body.Amount, body.PaymentMethod)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":        wallet.Balance,
		"transaction_id": tx.ID,
		"reference_id":   tx.ReferenceID,
	})
}

// Balance handles GET /wallet/balance.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	wallet, err := h.wallet.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": wallet.Balance})
}

// Transactions handles GET /wallet/transactions.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	txs, err := h.wallet.Transactions(r.Context(), userID, 50)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []models.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}
