package httpserver

import "net/http"

// Routes groups HTTP handlers.
type Routes struct {
	CreateBooking  http.HandlerFunc
	AcceptBooking  http.HandlerFunc
	DeclineBooking http.HandlerFunc
	CancelBooking  http.HandlerFunc
	GetBooking     http.HandlerFunc
	BookingsMe     http.HandlerFunc

	CompleteSession http.HandlerFunc
	CancelSession   http.HandlerFunc
	RateSession     http.HandlerFunc
	SessionsMe      http.HandlerFunc

	WalletRecharge     http.HandlerFunc
	WalletBalance      http.HandlerFunc
	WalletTransactions http.HandlerFunc

	HostEvents http.HandlerFunc
	Health     http.HandlerFunc
	Metrics    http.Handler
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// NewRouter registers endpoints. Authenticated routes go through auth and
// metrics; the websocket feed skips metrics because the recorder cannot
// hijack the connection.
func NewRouter(routes Routes, auth, metrics Middleware) http.Handler {
	mux := http.NewServeMux()

	protected := func(pattern string, handler http.HandlerFunc) {
		if handler == nil {
			return
		}
		mux.Handle(pattern, metrics(auth(handler)))
	}

	protected("POST /bookings", routes.CreateBooking)
	protected("GET /bookings/me", routes.BookingsMe)
	protected("GET /bookings/{id}", routes.GetBooking)
	protected("PUT /bookings/{id}/accept", routes.AcceptBooking)
	protected("PUT /bookings/{id}/decline", routes.DeclineBooking)
	protected("PUT /bookings/{id}/cancel", routes.CancelBooking)

	protected("POST /sessions/{id}/complete", routes.CompleteSession)
	protected("PUT /sessions/{id}/cancel", routes.CancelSession)
	protected("PUT /sessions/{id}/rate", routes.RateSession)
	protected("GET /sessions/me", routes.SessionsMe)

	protected("POST /wallet/recharge", routes.WalletRecharge)
	protected("GET /wallet/balance", routes.WalletBalance)
	protected("GET /wallet/transactions", routes.WalletTransactions)

	if routes.HostEvents != nil {
		mux.Handle("GET /ws/hosts", auth(routes.HostEvents))
	}
	if routes.Health != nil {
		mux.Handle("GET /health", metrics(routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("GET /metrics", routes.Metrics)
	}

	return mux
}
