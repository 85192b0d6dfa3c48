package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voltgrid/internal/availability"
	"voltgrid/internal/metrics"
	"voltgrid/internal/models"
	"voltgrid/internal/notify"
	"voltgrid/internal/repository"
)

// timeNow is swapped in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

// BookingStore is the request-side persistence contract.
type BookingStore interface {
	Create(ctx context.Context, b *models.BookingRequest) error
	GetByID(ctx context.Context, id int64) (*models.BookingRequest, error)
	UpdateStatus(ctx context.Context, id int64, from, to string) error
	ExpireStale(ctx context.Context, cutoff time.Time) ([]models.BookingRequest, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.BookingRequest, error)
}

// SessionStore is the session-side persistence contract.
type SessionStore interface {
	Create(ctx context.Context, s *models.ChargingSession) error
	GetByID(ctx context.Context, id int64) (*models.ChargingSession, error)
	Complete(ctx context.Context, id int64, endTime time.Time, durationMinutes int, energyKWh float64, cost int64, transactionID *int64, flagged bool) error
	Cancel(ctx context.Context, id int64, reason string, cancelledAt time.Time, refundTransactionID *int64) error
	Rate(ctx context.Context, id int64, rating int, review string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error)
}

// HostStore resolves charger listings to their owners.
type HostStore interface {
	GetByID(ctx context.Context, id int64) (*models.Host, error)
}

// Notifier publishes fire-and-forget events after committed transitions.
type Notifier interface {
	Publish(event notify.Event)
}

// BookingService is the state machine over booking requests and charging
// sessions. It is the sole writer of their status fields and orchestrates the
// wallet where a transition moves money.
//
// Money policy: the host-approval path takes no debit until completion (the
// actual cost is unknown at booking time); the instant path debits the
// estimate when the session starts and settles the delta at completion.
type BookingService struct {
	bookings BookingStore
	sessions SessionStore
	hosts    HostStore
	wallet   *WalletService
	gate     availability.Gate
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewBookingService builds service.
func NewBookingService(
	bookings BookingStore,
	sessions SessionStore,
	hosts HostStore,
	wallet *WalletService,
	gate availability.Gate,
	notifier Notifier,
	timeout time.Duration,
	logger *zap.Logger,
) *BookingService {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &BookingService{
		bookings: bookings,
		sessions: sessions,
		hosts:    hosts,
		wallet:   wallet,
		gate:     gate,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// CreateBookingInput carries a validated booking request body.
type CreateBookingInput struct {
	UserID           int64
	HostID           int64
	VehicleNumber    string
	ScheduledTime    time.Time
	EstimatedMinutes int
	EstimatedCost    int64
	Instant          bool
}

func (in CreateBookingInput) validate() error {
	if in.HostID <= 0 {
		return fmt.Errorf("%w: host id required", ErrValidation)
	}
	if strings.TrimSpace(in.VehicleNumber) == "" {
		return fmt.Errorf("%w: vehicle number required", ErrValidation)
	}
	if in.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled time required", ErrValidation)
	}
	if in.EstimatedMinutes <= 0 {
		return fmt.Errorf("%w: estimated duration required", ErrValidation)
	}
	if in.EstimatedCost < 0 {
		return fmt.Errorf("%w: estimated cost must not be negative", ErrValidation)
	}
	return nil
}

// CreateRequest records a new booking request. The instant path also runs
// the accept transition on the host's behalf, so the caller gets back a
// running session or an error with no session and no debit.
func (s *BookingService) CreateRequest(ctx context.Context, in CreateBookingInput) (*models.BookingRequest, *models.ChargingSession, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	bookable, err := s.gate.IsBookable(ctx, in.HostID)
	if err != nil {
		return nil, nil, err
	}
	if !bookable {
		return nil, nil, ErrHostUnavailable
	}

	request := &models.BookingRequest{
		RequestID:        uuid.NewString(),
		UserID:           in.UserID,
		HostID:           in.HostID,
		VehicleNumber:    strings.TrimSpace(in.VehicleNumber),
		ScheduledTime:    in.ScheduledTime.UTC(),
		EstimatedMinutes: in.EstimatedMinutes,
		EstimatedCost:    in.EstimatedCost,
		Instant:          in.Instant,
		Status:           models.BookingStatusPending,
	}
	if err := s.bookings.Create(ctx, request); err != nil {
		return nil, nil, err
	}
	metrics.BookingTransitions.WithLabelValues(models.BookingStatusPending).Inc()
	s.publish(notify.EventBookingCreated, request, 0)

	if !in.Instant {
		return request, nil, nil
	}

	session, err := s.accept(ctx, request)
	if err != nil {
		// The instant flow has no host to fall back on: reverse the
		// store write so no pending request lingers.
		if revertErr := s.bookings.UpdateStatus(ctx, request.ID, models.BookingStatusPending, models.BookingStatusCancelled); revertErr != nil {
			s.logger.Error("failed to revert instant booking",
				zap.Int64("booking_id", request.ID),
				zap.Error(revertErr),
			)
		} else {
			request.Status = models.BookingStatusCancelled
		}
		return request, nil, err
	}
	request.Status = models.BookingStatusAccepted
	return request, session, nil
}

// Accept moves a pending request to accepted and starts the session. Only
// the host that owns the charger may accept.
func (s *BookingService) Accept(ctx context.Context, bookingID, callerHostUserID int64) (*models.BookingRequest, *models.ChargingSession, error) {
	request, err := s.ownedRequest(ctx, bookingID, callerHostUserID, true)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.accept(ctx, request)
	if err != nil {
		return nil, nil, err
	}
	request.Status = models.BookingStatusAccepted
	return request, session, nil
}

// accept performs the shared accept transition. On any failure past the
// status write the request is reverted to pending, money returned and the
// slot freed, so the host can still decline explicitly.
func (s *BookingService) accept(ctx context.Context, request *models.BookingRequest) (*models.ChargingSession, error) {
	if request.Status != models.BookingStatusPending {
		return nil, ErrInvalidTransition
	}

	bookable, err := s.gate.IsBookable(ctx, request.HostID)
	if err != nil {
		return nil, err
	}
	if !bookable {
		return nil, ErrHostUnavailable
	}

	claimed, err := s.gate.MarkOccupied(ctx, request.HostID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrHostUnavailable
	}

	if err := s.bookings.UpdateStatus(ctx, request.ID, models.BookingStatusPending, models.BookingStatusAccepted); err != nil {
		s.markFree(ctx, request.HostID)
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	var transactionID *int64
	if request.Instant && request.EstimatedCost > 0 {
		tx, err := s.wallet.Debit(ctx, request.UserID, request.EstimatedCost,
			"charging estimate", request.RequestID, &request.ID)
		if err != nil {
			s.revertAccept(ctx, request)
			return nil, err
		}
		transactionID = &tx.ID
	}

	session := &models.ChargingSession{
		BookingID:     request.ID,
		RequestID:     request.RequestID,
		UserID:        request.UserID,
		HostID:        request.HostID,
		StartTime:     request.ScheduledTime,
		Status:        models.SessionStatusOngoing,
		TransactionID: transactionID,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if transactionID != nil {
			s.refund(ctx, request, "booking reversal", fmt.Sprintf("%s:reversal", request.RequestID))
		}
		s.revertAccept(ctx, request)
		if errors.Is(err, repository.ErrHostOccupied) {
			return nil, ErrHostUnavailable
		}
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(models.BookingStatusAccepted).Inc()
	s.publish(notify.EventBookingAccepted, request, session.ID)
	s.publish(notify.EventSessionStarted, request, session.ID)
	return session, nil
}

// Decline moves a pending request to declined. No money is involved.
func (s *BookingService) Decline(ctx context.Context, bookingID, callerHostUserID int64) (*models.BookingRequest, error) {
	return s.simpleTransition(ctx, bookingID, callerHostUserID, true,
		models.BookingStatusDeclined, notify.EventBookingDeclined)
}

// CancelRequest lets the user withdraw a still-pending request. Nothing was
// debited at pending, so the wallet is untouched.
func (s *BookingService) CancelRequest(ctx context.Context, bookingID, callerUserID int64) (*models.BookingRequest, error) {
	return s.simpleTransition(ctx, bookingID, callerUserID, false,
		models.BookingStatusCancelled, notify.EventBookingCancelled)
}

func (s *BookingService) simpleTransition(ctx context.Context, bookingID, callerID int64, asHost bool, to, eventType string) (*models.BookingRequest, error) {
	request, err := s.ownedRequest(ctx, bookingID, callerID, asHost)
	if err != nil {
		return nil, err
	}

	if err := s.bookings.UpdateStatus(ctx, request.ID, models.BookingStatusPending, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	request.Status = to

	metrics.BookingTransitions.WithLabelValues(to).Inc()
	s.publish(eventType, request, 0)
	return request, nil
}

// CompleteSessionInput carries the realized consumption.
type CompleteSessionInput struct {
	SessionID  int64
	CallerID   int64
	EnergyKWh  float64
	ActualCost int64
}

// CompleteSession finalizes an ongoing session and settles the wallet.
// Instant bookings already paid the estimate, so only the delta moves; the
// approval path pays the full actual cost here. A delta debit the balance
// cannot cover is clamped to the available funds and the session flagged for
// manual follow-up. Settlement runs before the status write under a fixed
// per-session reference, so a concurrent or retried completion cannot apply
// money twice; a completion that loses the status race reverses its
// settlement so no money sticks to a session that did not complete.
func (s *BookingService) CompleteSession(ctx context.Context, in CompleteSessionInput) (*models.ChargingSession, error) {
	if in.EnergyKWh < 0 || in.ActualCost < 0 {
		return nil, ErrInvalidAmount
	}

	session, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.canActOnSession(ctx, session, in.CallerID); err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusOngoing {
		return nil, ErrInvalidTransition
	}

	booking, err := s.bookings.GetByID(ctx, session.BookingID)
	if err != nil {
		return nil, err
	}

	var alreadyDebited int64
	if booking.Instant && session.TransactionID != nil {
		alreadyDebited = booking.EstimatedCost
	}

	settleRef := fmt.Sprintf("%s:settle", session.RequestID)
	delta := in.ActualCost - alreadyDebited

	var settleTxID *int64
	var settled int64
	flagged := false
	switch {
	case delta > 0:
		tx, debited, err := s.wallet.DebitUpTo(ctx, session.UserID, delta,
			"charging settlement", settleRef, &session.BookingID)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			settleTxID = &tx.ID
		}
		settled = debited
		if debited < delta {
			flagged = true
			s.logger.Warn("settlement clamped to available balance",
				zap.Int64("session_id", session.ID),
				zap.Int64("wanted", delta),
				zap.Int64("debited", debited),
			)
		}
	case delta < 0:
		tx, err := s.wallet.Credit(ctx, session.UserID, -delta,
			"charging settlement refund", settleRef, &session.BookingID)
		if err != nil {
			return nil, err
		}
		settleTxID = &tx.ID
		settled = delta
	}

	endTime := timeNow()
	duration := int(endTime.Sub(session.StartTime).Minutes())
	if duration < 0 {
		duration = 0
	}

	if err := s.sessions.Complete(ctx, session.ID, endTime, duration, in.EnergyKWh, in.ActualCost, settleTxID, flagged); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// A concurrent cancel or complete won the guarded write; the
			// settlement applied above belongs to nothing and comes back.
			s.reverseSettlement(ctx, session, settled)
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	s.markFree(ctx, session.HostID)

	session.Status = models.SessionStatusCompleted
	session.EndTime = &endTime
	session.DurationMinutes = duration
	session.EnergyKWh = in.EnergyKWh
	session.Cost = in.ActualCost
	session.Flagged = flagged
	if settleTxID != nil {
		session.TransactionID = settleTxID
	}

	metrics.BookingTransitions.WithLabelValues(models.SessionStatusCompleted).Inc()
	s.publish(notify.EventSessionCompleted, booking, session.ID)
	return session, nil
}

// CancelSession aborts an ongoing session. An instant booking cancelled
// before its start time gets the estimate refunded in full; after the start
// time no refund is due.
func (s *BookingService) CancelSession(ctx context.Context, sessionID, callerID int64, reason string) (*models.ChargingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.canActOnSession(ctx, session, callerID); err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusOngoing {
		return nil, ErrInvalidTransition
	}

	booking, err := s.bookings.GetByID(ctx, session.BookingID)
	if err != nil {
		return nil, err
	}

	now := timeNow()
	if err := s.sessions.Cancel(ctx, session.ID, reason, now, nil); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	s.markFree(ctx, session.HostID)

	var refundTxID *int64
	if booking.Instant && session.TransactionID != nil && now.Before(session.StartTime) {
		if tx := s.refund(ctx, booking, "booking cancellation refund", fmt.Sprintf("%s:refund", session.RequestID)); tx != nil {
			refundTxID = &tx.ID
		}
	}

	session.Status = models.SessionStatusCancelled
	session.CancelReason = reason
	session.CancelledAt = &now
	session.EndTime = &now
	if refundTxID != nil {
		session.TransactionID = refundTxID
	}

	metrics.BookingTransitions.WithLabelValues(models.SessionStatusCancelled).Inc()
	s.publish(notify.EventSessionCancelled, booking, session.ID)
	return session, nil
}

// RateSession records the one-time rating on a completed session.
func (s *BookingService) RateSession(ctx context.Context, sessionID, callerUserID int64, rating int, review string) (*models.ChargingSession, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != callerUserID {
		return nil, ErrForbidden
	}
	if session.Status != models.SessionStatusCompleted {
		return nil, ErrInvalidTransition
	}
	if session.Rating != nil {
		return nil, ErrAlreadyRated
	}

	if err := s.sessions.Rate(ctx, session.ID, rating, review); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrAlreadyRated
		}
		return nil, err
	}

	session.Rating = &rating
	session.Review = review
	return session, nil
}

// ExpireStale moves pending requests past the timeout to expired. The wallet
// is never touched: nothing was debited at pending.
func (s *BookingService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := timeNow().Add(-s.timeout)
	expired, err := s.bookings.ExpireStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		metrics.BookingTransitions.WithLabelValues(models.BookingStatusExpired).Inc()
		s.publish(notify.EventBookingExpired, &expired[i], 0)
	}
	return len(expired), nil
}

// RequestsForUser returns the user's booking history.
func (s *BookingService) RequestsForUser(ctx context.Context, userID int64, limit int) ([]models.BookingRequest, error) {
	return s.bookings.ListByUser(ctx, userID, limit)
}

// SessionsForUser returns the user's session history.
func (s *BookingService) SessionsForUser(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	return s.sessions.ListByUser(ctx, userID, limit)
}

// GetRequest returns a request visible to its user or host.
func (s *BookingService) GetRequest(ctx context.Context, bookingID, callerID int64) (*models.BookingRequest, error) {
	request, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if request.UserID == callerID {
		return request, nil
	}
	owns, err := s.ownsHost(ctx, request.HostID, callerID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrForbidden
	}
	return request, nil
}

func (s *BookingService) ownedRequest(ctx context.Context, bookingID, callerID int64, asHost bool) (*models.BookingRequest, error) {
	request, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !asHost {
		if request.UserID != callerID {
			return nil, ErrForbidden
		}
		return request, nil
	}
	owns, err := s.ownsHost(ctx, request.HostID, callerID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrForbidden
	}
	return request, nil
}

func (s *BookingService) ownsHost(ctx context.Context, hostID, callerID int64) (bool, error) {
	host, err := s.hosts.GetByID(ctx, hostID)
	if err != nil {
		return false, err
	}
	return host.OwnerUserID == callerID, nil
}

func (s *BookingService) canActOnSession(ctx context.Context, session *models.ChargingSession, callerID int64) error {
	if session.UserID == callerID {
		return nil
	}
	owns, err := s.ownsHost(ctx, session.HostID, callerID)
	if err != nil {
		return err
	}
	if !owns {
		return ErrForbidden
	}
	return nil
}

func (s *BookingService) revertAccept(ctx context.Context, request *models.BookingRequest) {
	if err := s.bookings.UpdateStatus(ctx, request.ID, models.BookingStatusAccepted, models.BookingStatusPending); err != nil {
		s.logger.Error("failed to revert accept",
			zap.Int64("booking_id", request.ID),
			zap.Error(err),
		)
	}
	s.markFree(ctx, request.HostID)
}

func (s *BookingService) refund(ctx context.Context, request *models.BookingRequest, description, referenceID string) *models.WalletTransaction {
	tx, err := s.wallet.Credit(ctx, request.UserID, request.EstimatedCost, description, referenceID, &request.ID)
	if err != nil {
		s.logger.Error("refund failed",
			zap.Int64("booking_id", request.ID),
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
		return nil
	}
	return tx
}

// reverseSettlement returns the money a losing completion moved: a positive
// settled amount was debited and is credited back, a negative one was
// refunded and is debited back. Transient store errors are never reversed; a
// retried completion dedups on the settlement reference instead. The fixed
// reversal reference makes the reversal itself idempotent.
func (s *BookingService) reverseSettlement(ctx context.Context, session *models.ChargingSession, settled int64) {
	if settled == 0 {
		return
	}
	ref := fmt.Sprintf("%s:settle-reversal", session.RequestID)
	var err error
	if settled > 0 {
		_, err = s.wallet.Credit(ctx, session.UserID, settled, "settlement reversal", ref, &session.BookingID)
	} else {
		_, err = s.wallet.Debit(ctx, session.UserID, -settled, "settlement reversal", ref, &session.BookingID)
	}
	if err != nil {
		s.logger.Error("settlement reversal failed",
			zap.Int64("session_id", session.ID),
			zap.String("reference_id", ref),
			zap.Error(err),
		)
	}
}

func (s *BookingService) markFree(ctx context.Context, hostID int64) {
	if err := s.gate.MarkFree(ctx, hostID); err != nil {
		s.logger.Warn("failed to free host slot", zap.Int64("host_id", hostID), zap.Error(err))
	}
}

func (s *BookingService) publish(eventType string, request *models.BookingRequest, sessionID int64) {
	s.notifier.Publish(notify.Event{
		Type:      eventType,
		RequestID: request.RequestID,
		BookingID: request.ID,
		SessionID: sessionID,
		UserID:    request.UserID,
		HostID:    request.HostID,
	})
}
