package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	httpserver "voltgrid/internal/http"
	"voltgrid/internal/http/middleware"
	"voltgrid/internal/models"
	"voltgrid/internal/repository"
	"voltgrid/internal/service"
)

const testSecret = "test-secret"

type memoryWalletStore struct {
	balances map[int64]int64
	entries  []models.WalletTransaction
	byRef    map[string]int
	nextID   int64
}

func newMemoryWalletStore() *memoryWalletStore {
	return &memoryWalletStore{balances: make(map[int64]int64), byRef: make(map[string]int)}
}

func (m *memoryWalletStore) Apply(_ context.Context, in repository.ApplyInput) (*models.WalletTransaction, error) {
	balance, ok := m.balances[in.UserID]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	if idx, dup := m.byRef[in.ReferenceID]; dup {
		cp := m.entries[idx]
		return &cp, nil
	}
	amount := in.Amount
	if in.Kind == models.TxKindDebit && balance < amount {
		if !in.ClampToBalance {
			return nil, repository.ErrInsufficientBalance
		}
		amount = balance
		if amount == 0 {
			return nil, nil
		}
	}
	m.nextID++
	entry := models.WalletTransaction{
		ID:          m.nextID,
		UserID:      in.UserID,
		Kind:        in.Kind,
		Amount:      amount,
		Status:      models.TxStatusCompleted,
		ReferenceID: in.ReferenceID,
		CreatedAt:   time.Now().UTC(),
	}
	m.entries = append(m.entries, entry)
	m.byRef[in.ReferenceID] = len(m.entries) - 1
	if in.Kind == models.TxKindDebit {
		m.balances[in.UserID] = balance - amount
	} else {
		m.balances[in.UserID] = balance + amount
	}
	cp := entry
	return &cp, nil
}

func (m *memoryWalletStore) EnsureWallet(_ context.Context, userID int64) error {
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = 0
	}
	return nil
}

func (m *memoryWalletStore) Get(_ context.Context, userID int64) (*models.Wallet, error) {
	balance, ok := m.balances[userID]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	return &models.Wallet{UserID: userID, Balance: balance}, nil
}

func (m *memoryWalletStore) ListTransactions(_ context.Context, userID int64, _ int) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memoryWalletStore) {
	t.Helper()
	store := newMemoryWalletStore()
	walletSvc := service.NewWalletService(store, 10, 50000, zap.NewNop())
	handler := NewWalletHandler(walletSvc, zap.NewNop())

	routes := httpserver.Routes{
		WalletRecharge:     handler.Recharge,
		WalletBalance:      handler.Balance,
		WalletTransactions: handler.Transactions,
		Health:             NewHealthHandler(),
	}
	router := httpserver.NewRouter(routes, middleware.Auth(testSecret), middleware.Metrics)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func signToken(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRechargeRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/wallet/recharge", "", rechargeRequest{Amount: 100})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/wallet/recharge", "not-a-jwt", rechargeRequest{Amount: 100})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", resp.StatusCode)
	}
}

func TestMissingIdentityCode(t *testing.T) {
	store := newMemoryWalletStore()
	walletSvc := service.NewWalletService(store, 10, 50000, zap.NewNop())
	handler := NewWalletHandler(walletSvc, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
	rec := httptest.NewRecorder()
	handler.Balance(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != codeUnauthorized {
		t.Fatalf("expected code %s, got %s", codeUnauthorized, body.Code)
	}
}

func TestRechargeBoundsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, 7)

	for _, amount := range []int64{5, 50001} {
		resp := doRequest(t, http.MethodPost, srv.URL+"/wallet/recharge", token, rechargeRequest{Amount: amount, PaymentMethod: "upi"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("amount %d: expected 400, got %d", amount, resp.StatusCode)
		}
		var body errorBody
		decodeResponse(t, resp, &body)
		if body.Code != codeValidation {
			t.Fatalf("amount %d: expected code %s, got %s", amount, codeValidation, body.Code)
		}
	}
}

func TestRechargeAndBalance(t *testing.T) {
	srv, store := newTestServer(t)
	token := signToken(t, 7)

	resp := doRequest(t, http.MethodPost, srv.URL+"/wallet/recharge", token, rechargeRequest{Amount: 250, PaymentMethod: "upi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recharge: expected 200, got %d", resp.StatusCode)
	}
	var recharged struct {
		Balance       int64  `json:"balance"`
		TransactionID int64  `json:"transaction_id"`
		ReferenceID   string `json:"reference_id"`
	}
	decodeResponse(t, resp, &recharged)
	if recharged.Balance != 250 || recharged.TransactionID == 0 || recharged.ReferenceID == "" {
		t.Fatalf("unexpected recharge response: %+v", recharged)
	}
	if store.balances[7] != 250 {
		t.Fatalf("store balance %d, expected 250", store.balances[7])
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/wallet/balance", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", resp.StatusCode)
	}
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeResponse(t, resp, &balance)
	if balance.Balance != 250 {
		t.Fatalf("expected balance 250, got %d", balance.Balance)
	}
}

func TestBalanceMissingWallet(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, 99)

	resp := doRequest(t, http.MethodGet, srv.URL+"/wallet/balance", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body errorBody
	decodeResponse(t, resp, &body)
	if body.Code != codeNotFound {
		t.Fatalf("expected code %s, got %s", codeNotFound, body.Code)
	}
}

func TestTransactionsEmptyList(t *testing.T) {
	srv, store := newTestServer(t)
	token := signToken(t, 7)
	store.balances[7] = 0

	resp := doRequest(t, http.MethodGet, srv.URL+"/wallet/transactions", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var raw map[string]json.RawMessage
	decodeResponse(t, resp, &raw)
	if string(raw["transactions"]) != "[]" {
		t.Fatalf("expected an empty array, got %s", raw["transactions"])
	}
}
