package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"voltgrid/internal/models"
	"voltgrid/internal/notify"
	"voltgrid/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory fakes for the booking-side stores and collaborators.
// ---------------------------------------------------------------------------

type fakeBookingStore struct {
	mu       sync.Mutex
	requests map[int64]*models.BookingRequest
	nextID   int64
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{requests: make(map[int64]*models.BookingRequest)}
}

func (f *fakeBookingStore) Create(_ context.Context, b *models.BookingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = f.nextID
	b.CreatedAt = timeNow()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.requests[b.ID] = &cp
	return nil
}

func (f *fakeBookingStore) GetByID(_ context.Context, id int64) (*models.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.requests[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookingStore) UpdateStatus(_ context.Context, id int64, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.requests[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.Status != from {
		return repository.ErrStatusConflict
	}
	b.Status = to
	b.UpdatedAt = timeNow()
	return nil
}

func (f *fakeBookingStore) ExpireStale(_ context.Context, cutoff time.Time) ([]models.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []models.BookingRequest
	for _, b := range f.requests {
		if b.Status == models.BookingStatusPending && b.CreatedAt.Before(cutoff) {
			b.Status = models.BookingStatusExpired
			expired = append(expired, *b)
		}
	}
	return expired, nil
}

func (f *fakeBookingStore) ListByUser(_ context.Context, userID int64, _ int) ([]models.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BookingRequest
	for _, b := range f.requests {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id].Status
}

type fakeSessionStore struct {
	mu          sync.Mutex
	sessions    map[int64]*models.ChargingSession
	nextID      int64
	completeErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[int64]*models.ChargingSession)}
}

func (f *fakeSessionStore) Create(_ context.Context, s *models.ChargingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.HostID == s.HostID && existing.Status == models.SessionStatusOngoing {
			return repository.ErrHostOccupied
		}
	}
	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = timeNow()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id int64) (*models.ChargingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) Complete(_ context.Context, id int64, endTime time.Time, durationMinutes int, energyKWh float64, cost int64, transactionID *int64, flagged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status != models.SessionStatusOngoing {
		return repository.ErrStatusConflict
	}
	s.Status = models.SessionStatusCompleted
	s.EndTime = &endTime
	s.DurationMinutes = durationMinutes
	s.EnergyKWh = energyKWh
	s.Cost = cost
	if transactionID != nil {
		s.TransactionID = transactionID
	}
	s.Flagged = flagged
	return nil
}

func (f *fakeSessionStore) Cancel(_ context.Context, id int64, reason string, cancelledAt time.Time, refundTransactionID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status != models.SessionStatusOngoing {
		return repository.ErrStatusConflict
	}
	s.Status = models.SessionStatusCancelled
	s.CancelReason = reason
	s.CancelledAt = &cancelledAt
	s.EndTime = &cancelledAt
	if refundTransactionID != nil {
		s.TransactionID = refundTransactionID
	}
	return nil
}

func (f *fakeSessionStore) Rate(_ context.Context, id int64, rating int, review string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status != models.SessionStatusCompleted || s.Rating != nil {
		return repository.ErrStatusConflict
	}
	s.Rating = &rating
	s.Review = review
	return nil
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID int64, _ int) ([]models.ChargingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChargingSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeHostStore struct {
	hosts map[int64]*models.Host
}

func (f *fakeHostStore) GetByID(_ context.Context, id int64) (*models.Host, error) {
	h, ok := f.hosts[id]
	if !ok {
		return nil, repository.ErrHostNotFound
	}
	cp := *h
	return &cp, nil
}

type fakeGate struct {
	mu       sync.Mutex
	bookable map[int64]bool
	occupied map[int64]bool
}

func newFakeGate() *fakeGate {
	return &fakeGate{bookable: make(map[int64]bool), occupied: make(map[int64]bool)}
}

func (f *fakeGate) IsBookable(_ context.Context, hostID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookable[hostID] && !f.occupied[hostID], nil
}

func (f *fakeGate) MarkOccupied(_ context.Context, hostID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.occupied[hostID] {
		return false, nil
	}
	f.occupied[hostID] = true
	return true, nil
}

func (f *fakeGate) MarkFree(_ context.Context, hostID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.occupied, hostID)
	return nil
}

func (f *fakeGate) isOccupied(hostID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occupied[hostID]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Publish(event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) byType(eventType string) []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

const (
	driverID  = int64(1)
	ownerID   = int64(2)
	hostID    = int64(10)
	otherUser = int64(3)
)

type fixture struct {
	svc      *BookingService
	bookings *fakeBookingStore
	sessions *fakeSessionStore
	wallet   *fakeWalletStore
	gate     *fakeGate
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bookings := newFakeBookingStore()
	sessions := newFakeSessionStore()
	wallet := newFakeWalletStore()
	gate := newFakeGate()
	notifier := &fakeNotifier{}
	hosts := &fakeHostStore{hosts: map[int64]*models.Host{
		hostID: {
			ID:                 hostID,
			OwnerUserID:        ownerID,
			VerificationStatus: models.HostVerificationApproved,
			IsActive:           true,
		},
	}}
	gate.bookable[hostID] = true

	walletSvc := NewWalletService(wallet, 10, 50000, zap.NewNop())
	svc := NewBookingService(bookings, sessions, hosts, walletSvc, gate, notifier, 15*time.Minute, zap.NewNop())

	return &fixture{
		svc:      svc,
		bookings: bookings,
		sessions: sessions,
		wallet:   wallet,
		gate:     gate,
		notifier: notifier,
	}
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.wallet.EnsureWallet(ctx, userID); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	if _, err := f.wallet.Apply(ctx, repository.ApplyInput{
		UserID:      userID,
		Kind:        models.TxKindCredit,
		Amount:      amount,
		Description: "seed",
		ReferenceID: fmt.Sprintf("seed-%d", userID),
	}); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
}

func (f *fixture) createRequest(t *testing.T, instant bool, estimatedCost int64) (*models.BookingRequest, *models.ChargingSession) {
	t.Helper()
	request, session, err := f.svc.CreateRequest(context.Background(), CreateBookingInput{
		UserID:           driverID,
		HostID:           hostID,
		VehicleNumber:    "KA-01-HH-1234",
		ScheduledTime:    timeNow().Add(time.Hour),
		EstimatedMinutes: 60,
		EstimatedCost:    estimatedCost,
		Instant:          instant,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return request, session
}

func freezeTime(t *testing.T, at time.Time) {
	t.Helper()
	original := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = original })
}

// ---------------------------------------------------------------------------
// Request lifecycle
// ---------------------------------------------------------------------------

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateRequest(context.Background(), CreateBookingInput{
		UserID:        driverID,
		HostID:        hostID,
		ScheduledTime: timeNow().Add(time.Hour),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateRequestHostNotBookable(t *testing.T) {
	f := newFixture(t)
	f.gate.bookable[hostID] = false

	_, _, err := f.svc.CreateRequest(context.Background(), CreateBookingInput{
		UserID:           driverID,
		HostID:           hostID,
		VehicleNumber:    "KA-01-HH-1234",
		ScheduledTime:    timeNow().Add(time.Hour),
		EstimatedMinutes: 30,
		EstimatedCost:    100,
	})
	if !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable, got %v", err)
	}
}

func TestCreateRequestPendingTakesNoMoney(t *testing.T) {
	f := newFixture(t)
	request, session := f.createRequest(t, false, 300)

	if session != nil {
		t.Fatalf("approval path must not start a session")
	}
	if request.Status != models.BookingStatusPending {
		t.Fatalf("expected pending, got %s", request.Status)
	}
	if count := f.wallet.entryCount(driverID); count != 0 {
		t.Fatalf("pending request created %d ledger entries", count)
	}
	if len(f.notifier.byType(notify.EventBookingCreated)) != 1 {
		t.Fatalf("expected booking.created event")
	}
}

func TestAcceptStartsSession(t *testing.T) {
	f := newFixture(t)
	request, _ := f.createRequest(t, false, 300)

	accepted, session, err := f.svc.Accept(context.Background(), request.ID, ownerID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.BookingStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if session.Status != models.SessionStatusOngoing {
		t.Fatalf("expected ongoing session, got %s", session.Status)
	}
	if !session.StartTime.Equal(request.ScheduledTime) {
		t.Fatalf("session start %v != scheduled %v", session.StartTime, request.ScheduledTime)
	}
	if session.TransactionID != nil {
		t.Fatalf("approval path must not debit at accept")
	}
	if !f.gate.isOccupied(hostID) {
		t.Fatalf("host slot not claimed")
	}
}

func TestAcceptByNonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	request, _ := f.createRequest(t, false, 300)

	if _, _, err := f.svc.Accept(context.Background(), request.ID, otherUser); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAcceptUnavailableHostLeavesPending(t *testing.T) {
	f := newFixture(t)
	request, _ := f.createRequest(t, false, 300)
	f.gate.bookable[hostID] = false

	_, _, err := f.svc.Accept(context.Background(), request.ID, ownerID)
	if !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable, got %v", err)
	}
	if got := f.bookings.status(request.ID); got != models.BookingStatusPending {
		t.Fatalf("request left %s, expected pending", got)
	}
	if f.gate.isOccupied(hostID) {
		t.Fatalf("slot leaked on failed accept")
	}
}

func TestSecondAcceptLosesSlot(t *testing.T) {
	f := newFixture(t)
	first, _ := f.createRequest(t, false, 300)
	second, _ := f.createRequest(t, false, 300)

	if _, _, err := f.svc.Accept(context.Background(), first.ID, ownerID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, _, err := f.svc.Accept(context.Background(), second.ID, ownerID)
	if !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable for occupied host, got %v", err)
	}
	if got := f.bookings.status(second.ID); got != models.BookingStatusPending {
		t.Fatalf("losing request left %s, expected pending", got)
	}
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	request, _ := f.createRequest(t, false, 300)

	declined, err := f.svc.Decline(context.Background(), request.ID, ownerID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.Status != models.BookingStatusDeclined {
		t.Fatalf("expected declined, got %s", declined.Status)
	}
}

func TestCancelPendingLeavesNoTransaction(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	request, _ := f.createRequest(t, false, 300)

	cancelled, err := f.svc.CancelRequest(context.Background(), request.ID, driverID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.BookingStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	// Only the seed credit may exist.
	if count := f.wallet.entryCount(driverID); count != 1 {
		t.Fatalf("cancel of pending request touched the wallet: %d entries", count)
	}
	if got := f.wallet.balance(driverID); got != 500 {
		t.Fatalf("balance changed on cancel: %d", got)
	}
}

func TestIllegalRequestTransitions(t *testing.T) {
	f := newFixture(t)
	request, _ := f.createRequest(t, false, 300)
	if _, err := f.svc.Decline(context.Background(), request.ID, ownerID); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if _, _, err := f.svc.Accept(context.Background(), request.ID, ownerID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after decline: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.CancelRequest(context.Background(), request.ID, driverID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after decline: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Decline(context.Background(), request.ID, ownerID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second decline: expected ErrInvalidTransition, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Instant booking
// ---------------------------------------------------------------------------

func TestInstantBookingDebitsEstimate(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)

	request, session := f.createRequest(t, true, 300)
	if session == nil {
		t.Fatalf("instant booking returned no session")
	}
	if request.Status != models.BookingStatusAccepted {
		t.Fatalf("expected accepted, got %s", request.Status)
	}
	if got := f.wallet.balance(driverID); got != 200 {
		t.Fatalf("expected balance 200 after estimate debit, got %d", got)
	}
	if session.TransactionID == nil {
		t.Fatalf("session not linked to the estimate debit")
	}
	tx, err := f.wallet.Apply(context.Background(), repository.ApplyInput{
		UserID: driverID, Kind: models.TxKindDebit, Amount: 300, ReferenceID: request.RequestID,
	})
	if err != nil || tx.ID != *session.TransactionID {
		t.Fatalf("estimate debit not idempotent under requestId: %v", err)
	}
}

func TestInstantBookingInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 100)

	request, session, err := f.svc.CreateRequest(context.Background(), CreateBookingInput{
		UserID:           driverID,
		HostID:           hostID,
		VehicleNumber:    "KA-01-HH-1234",
		ScheduledTime:    timeNow().Add(time.Hour),
		EstimatedMinutes: 60,
		EstimatedCost:    300,
		Instant:          true,
	})
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if session != nil {
		t.Fatalf("session created despite failed debit")
	}
	if got := f.wallet.balance(driverID); got != 100 {
		t.Fatalf("balance changed on failed instant booking: %d", got)
	}
	if got := f.bookings.status(request.ID); got != models.BookingStatusCancelled {
		t.Fatalf("failed instant booking left %s, expected cancelled", got)
	}
	if f.gate.isOccupied(hostID) {
		t.Fatalf("slot leaked on failed instant booking")
	}
}

// ---------------------------------------------------------------------------
// Session completion and settlement
// ---------------------------------------------------------------------------

func TestCompleteSettlesPositiveDelta(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	completed, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   driverID,
		EnergyKWh:  12.5,
		ActualCost: 350,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.SessionStatusCompleted || completed.Cost != 350 {
		t.Fatalf("unexpected session: %+v", completed)
	}
	if got := f.wallet.balance(driverID); got != 150 {
		t.Fatalf("expected balance 150 after corrective debit, got %d", got)
	}
	if completed.Flagged {
		t.Fatalf("covered settlement must not flag the session")
	}
	if f.gate.isOccupied(hostID) {
		t.Fatalf("slot not freed on completion")
	}
	if f.wallet.balance(driverID) != f.wallet.ledgerSum(driverID) {
		t.Fatalf("ledger diverged from balance")
	}
}

func TestCompleteRefundsNegativeDelta(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	completed, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   driverID,
		EnergyKWh:  8,
		ActualCost: 250,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := f.wallet.balance(driverID); got != 250 {
		t.Fatalf("expected balance 250 after refund, got %d", got)
	}
	if completed.Cost != 250 {
		t.Fatalf("expected cost 250, got %d", completed.Cost)
	}
}

func TestCompleteApprovalPathDebitsActual(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	request, _ := f.createRequest(t, false, 300)
	_, session, err := f.svc.Accept(context.Background(), request.ID, ownerID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	completed, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   ownerID,
		EnergyKWh:  10,
		ActualCost: 200,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := f.wallet.balance(driverID); got != 300 {
		t.Fatalf("expected balance 300 after full debit, got %d", got)
	}
	if completed.TransactionID == nil {
		t.Fatalf("settlement transaction not linked")
	}
}

func TestCompleteClampsAndFlags(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	completed, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   driverID,
		EnergyKWh:  30,
		ActualCost: 900,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !completed.Flagged {
		t.Fatalf("underfunded settlement must flag the session")
	}
	if got := f.wallet.balance(driverID); got != 0 {
		t.Fatalf("expected drained wallet, got %d", got)
	}
}

func TestCompleteLostRaceReversesDebit(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	// The status write loses to a concurrent transition while the session
	// still reads as ongoing.
	f.sessions.mu.Lock()
	f.sessions.completeErr = repository.ErrStatusConflict
	f.sessions.mu.Unlock()

	_, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   driverID,
		EnergyKWh:  12.5,
		ActualCost: 350,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := f.wallet.balance(driverID); got != 200 {
		t.Fatalf("expected balance 200 after reversal, got %d", got)
	}
	if f.wallet.balance(driverID) != f.wallet.ledgerSum(driverID) {
		t.Fatalf("ledger diverged from balance")
	}
	got, err := f.sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != models.SessionStatusOngoing {
		t.Fatalf("session mutated by losing completion: %s", got.Status)
	}
}

func TestCompleteLostRaceReversesRefund(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	f.sessions.mu.Lock()
	f.sessions.completeErr = repository.ErrStatusConflict
	f.sessions.mu.Unlock()

	_, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID:  session.ID,
		CallerID:   driverID,
		EnergyKWh:  8,
		ActualCost: 250,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := f.wallet.balance(driverID); got != 200 {
		t.Fatalf("expected the interim refund taken back, balance %d", got)
	}
	if f.wallet.balance(driverID) != f.wallet.ledgerSum(driverID) {
		t.Fatalf("ledger diverged from balance")
	}
}

func TestCompleteTwice(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	in := CompleteSessionInput{SessionID: session.ID, CallerID: driverID, EnergyKWh: 10, ActualCost: 300}
	if _, err := f.svc.CompleteSession(context.Background(), in); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := f.svc.CompleteSession(context.Background(), in); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second complete: expected ErrInvalidTransition, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Session cancellation and refunds
// ---------------------------------------------------------------------------

func TestCancelSessionBeforeStartRefunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	cancelled, err := f.svc.CancelSession(context.Background(), session.ID, driverID, "plans changed")
	if err != nil {
		t.Fatalf("cancel session: %v", err)
	}
	if cancelled.Status != models.SessionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := f.wallet.balance(driverID); got != 500 {
		t.Fatalf("expected full refund back to 500, got %d", got)
	}
	if f.gate.isOccupied(hostID) {
		t.Fatalf("slot not freed on cancellation")
	}
}

func TestCancelSessionAfterStartNoRefund(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	freezeTime(t, session.StartTime.Add(30*time.Minute))

	if _, err := f.svc.CancelSession(context.Background(), session.ID, driverID, "leaving early"); err != nil {
		t.Fatalf("cancel session: %v", err)
	}
	if got := f.wallet.balance(driverID); got != 200 {
		t.Fatalf("expected no refund after start, balance %d", got)
	}
}

// ---------------------------------------------------------------------------
// Ratings
// ---------------------------------------------------------------------------

func TestRateSession(t *testing.T) {
	f := newFixture(t)
	f.fund(t, driverID, 500)
	_, session := f.createRequest(t, true, 300)

	if _, err := f.svc.RateSession(context.Background(), session.ID, driverID, 5, "great charger"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rating an ongoing session: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.svc.CompleteSession(context.Background(), CompleteSessionInput{
		SessionID: session.ID, CallerID: driverID, EnergyKWh: 10, ActualCost: 300,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := f.svc.RateSession(context.Background(), session.ID, driverID, 6, ""); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	rated, err := f.svc.RateSession(context.Background(), session.ID, driverID, 5, "great charger")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rated.Rating == nil || *rated.Rating != 5 {
		t.Fatalf("rating not recorded: %+v", rated)
	}
	if _, err := f.svc.RateSession(context.Background(), session.ID, driverID, 4, ""); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	if _, err := f.svc.RateSession(context.Background(), session.ID, otherUser, 4, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Expiry sweep
// ---------------------------------------------------------------------------

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	freezeTime(t, base)
	request, _ := f.createRequest(t, false, 300)

	freezeTime(t, base.Add(20*time.Minute))
	count, err := f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired request, got %d", count)
	}
	if got := f.bookings.status(request.ID); got != models.BookingStatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if entries := f.wallet.entryCount(driverID); entries != 0 {
		t.Fatalf("expiry touched the wallet: %d entries", entries)
	}
	if len(f.notifier.byType(notify.EventBookingExpired)) != 1 {
		t.Fatalf("expected booking.expired event")
	}
}
