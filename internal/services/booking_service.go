package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/apperr"
	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/repositories"
)

// statusTimestampFields maps a target booking status to the column stamped
// when the booking first enters that status.
var statusTimestampFields = map[string]string{
	models.BookingStatusConfirmed:  "confirmed_at",
	models.BookingStatusInProgress: "started_at",
	models.BookingStatusCompleted:  "completed_at",
	models.BookingStatusCancelled:  "cancelled_at",
}

// BookingService orchestrates the booking lifecycle: creation with payment
// hold, the status state machine, cancellation with the penalty policy, and
// the background sweeps that move stuck bookings forward.
type BookingService struct {
	pool        db.TxBeginner
	bookingRepo *repositories.BookingRepo
	walletRepo  *repositories.WalletRepo
	userRepo    *repositories.UserRepo
	auditRepo   *repositories.AuditRepo
	escrowSvc   *EscrowService
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewBookingService(
	pool db.TxBeginner,
	bookingRepo *repositories.BookingRepo,
	walletRepo *repositories.WalletRepo,
	userRepo *repositories.UserRepo,
	auditRepo *repositories.AuditRepo,
	escrowSvc *EscrowService,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *BookingService {
	return &BookingService{
		pool:        pool,
		bookingRepo: bookingRepo,
		walletRepo:  walletRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		escrowSvc:   escrowSvc,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

type CreateBookingInput struct {
	ClientID        uuid.UUID
	WorkerServiceID uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	Quantity        int
	Note            *string
}

func (s *BookingService) bounds() ScheduleBounds {
	return ScheduleBounds{
		MinAdvanceHours:  s.cfg.MinAdvanceHours,
		MaxAdvanceDays:   s.cfg.MaxAdvanceDays,
		MinDurationHours: s.cfg.MinDurationHours,
		MaxDurationHours: s.cfg.MaxDurationHours,
	}
}

// CreateBooking runs the full creation sequence in one transaction: lock the
// parties, check the schedule for conflicts, charge the client's wallet, and
// open the escrow hold. Either the booking exists fully funded or nothing
// was written.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	client, err := s.userRepo.GetByID(ctx, in.ClientID)
	if err != nil {
		return nil, apperr.NotFound("client %s not found", in.ClientID)
	}
	if !client.IsActive {
		return nil, apperr.Forbidden("client account is deactivated")
	}

	offering, err := s.userRepo.GetActiveWorkerService(ctx, in.WorkerServiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("worker service %s not found or inactive", in.WorkerServiceID)
		}
		return nil, err
	}
	if offering.WorkerID == in.ClientID {
		return nil, apperr.Validation("cannot book your own service")
	}

	if in.Quantity <= 0 {
		in.Quantity = 1
	}

	hours, err := ValidateSchedule(s.bounds(), time.Now(), in.StartTime, in.EndTime)
	if err != nil {
		return nil, err
	}
	pricing := ComputePricing(offering.UnitPrice, in.Quantity, s.cfg.PlatformFeePercent)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bookingTx := s.bookingRepo.WithTx(tx)
	walletTx := s.walletRepo.WithTx(tx)

	if err := bookingTx.LockParties(ctx, offering.WorkerID, in.ClientID); err != nil {
		return nil, err
	}

	overlap, err := bookingTx.HasOverlap(ctx, offering.WorkerID, in.StartTime, in.EndTime, nil)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, apperr.Conflict("worker already has a booking in this time slot")
	}

	balance, err := walletTx.CalculateBalance(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if balance < pricing.TotalAmount {
		return nil, apperr.Validation("insufficient wallet balance: have %d, need %d", balance, pricing.TotalAmount)
	}

	booking := &models.Booking{
		ClientID:        in.ClientID,
		WorkerID:        offering.WorkerID,
		WorkerServiceID: offering.ID,
		ServiceID:       offering.ServiceID,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		DurationHours:   hours,
		UnitPrice:       pricing.UnitPrice,
		Quantity:        pricing.Quantity,
		Subtotal:        pricing.Subtotal,
		PlatformFee:     pricing.PlatformFee,
		TotalAmount:     pricing.TotalAmount,
		WorkerPayout:    pricing.WorkerPayout,
		Currency:        offering.Currency,
		Status:          models.BookingStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Note:            in.Note,
	}
	if err := bookingTx.Create(ctx, booking); err != nil {
		return nil, err
	}

	desc := "booking payment hold"
	holdTx := &models.WalletTransaction{
		UserID:        in.ClientID,
		Type:          models.TxTypePayment,
		Amount:        pricing.TotalAmount,
		Status:        models.TxStatusSuccess,
		GatewayTxnRef: fmt.Sprintf("booking:%s", booking.ID),
		Description:   &desc,
	}
	if err := walletTx.Create(ctx, holdTx); err != nil {
		return nil, err
	}

	escrow, err := s.escrowSvc.Open(ctx, tx, booking, holdTx.ID)
	if err != nil {
		return nil, err
	}

	if err := bookingTx.AttachEscrow(ctx, booking.ID, escrow.ID, holdTx.ID); err != nil {
		return nil, err
	}
	booking.EscrowID = &escrow.ID
	booking.PaymentTxID = &holdTx.ID
	booking.PaymentStatus = models.PaymentStatusPaid

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.reconcileBalance(ctx, in.ClientID)

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &in.ClientID,
		ActorType:   "user",
		Action:      "booking_created",
		EntityType:  "booking",
		EntityID:    &booking.ID,
		Meta: map[string]any{
			"worker_id":    booking.WorkerID.String(),
			"start_time":   booking.StartTime,
			"end_time":     booking.EndTime,
			"total_amount": booking.TotalAmount,
		},
	})
	_ = s.publisher.Publish(ctx, events.StreamBooking, events.Event{
		Type: events.EventBookingCreated,
		Payload: map[string]any{
			"booking_id": booking.ID.String(),
			"client_id":  booking.ClientID.String(),
			"worker_id":  booking.WorkerID.String(),
			"start_time": booking.StartTime,
		},
	})

	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id, actorID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("booking %s not found", id)
		}
		return nil, err
	}
	if booking.ClientID != actorID && booking.WorkerID != actorID {
		return nil, apperr.Forbidden("booking belongs to other users")
	}
	return booking, nil
}

func (s *BookingService) ListBookings(ctx context.Context, f repositories.BookingFilter) ([]models.BookingWithNames, error) {
	return s.bookingRepo.List(ctx, f)
}

// UpdateStatus applies one state-machine step initiated by a party to the
// booking. Cancellation goes through CancelBooking instead so the penalty
// policy runs.
func (s *BookingService) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string, actorID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("booking %s not found", id)
		}
		return nil, err
	}
	if booking.ClientID != actorID && booking.WorkerID != actorID {
		return nil, apperr.Forbidden("booking belongs to other users")
	}

	if newStatus == booking.Status {
		return booking, nil
	}
	if newStatus == models.BookingStatusCancelled {
		return nil, apperr.Validation("use the cancel operation to cancel a booking")
	}
	if !models.IsValidBookingTransition(booking.Status, newStatus) {
		return nil, apperr.StateConflict("cannot move booking from %s to %s", booking.Status, newStatus)
	}

	switch newStatus {
	case models.BookingStatusConfirmed, models.BookingStatusRejected,
		models.BookingStatusInProgress, models.BookingStatusCompleted:
		if actorID != booking.WorkerID {
			return nil, apperr.Forbidden("only the worker can set status %s", newStatus)
		}
	case models.BookingStatusDisputed:
		// either party may open a dispute
	default:
		return nil, apperr.Validation("unknown status %s", newStatus)
	}

	if err := s.transition(ctx, booking, newStatus, &actorID); err != nil {
		return nil, err
	}

	switch newStatus {
	case models.BookingStatusRejected:
		if booking.EscrowID != nil {
			if err := s.escrowSvc.Refund(ctx, *booking.EscrowID, "booking rejected by worker", booking.TotalAmount, 0); err != nil {
				s.log.Error("refund after rejection failed",
					zap.String("booking_id", booking.ID.String()), zap.Error(err))
			}
		}
		_ = s.bookingRepo.SetCancellation(ctx, booking.ID, models.CancelledByWorker, "rejected", booking.TotalAmount, 0)
	case models.BookingStatusDisputed:
		if booking.EscrowID != nil {
			if err := s.escrowSvc.MarkDisputed(ctx, *booking.EscrowID); err != nil {
				s.log.Error("escrow dispute flag failed",
					zap.String("booking_id", booking.ID.String()), zap.Error(err))
			}
		}
	}

	return s.bookingRepo.GetByID(ctx, id)
}

// CancelBooking cancels on behalf of a party and settles the escrow with the
// refund/penalty split the policy computes.
func (s *BookingService) CancelBooking(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("booking %s not found", id)
		}
		return nil, err
	}

	var cancelledBy string
	switch actorID {
	case booking.ClientID:
		cancelledBy = models.CancelledByClient
	case booking.WorkerID:
		cancelledBy = models.CancelledByWorker
	default:
		return nil, apperr.Forbidden("booking belongs to other users")
	}

	return s.cancel(ctx, booking, cancelledBy, reason, &actorID)
}

func (s *BookingService) cancel(ctx context.Context, booking *models.Booking, cancelledBy, reason string, actorID *uuid.UUID) (*models.Booking, error) {
	if booking.Status == models.BookingStatusCancelled {
		return booking, nil
	}
	if !models.IsValidBookingTransition(booking.Status, models.BookingStatusCancelled) {
		return nil, apperr.StateConflict("cannot cancel booking in status %s", booking.Status)
	}

	policy := CancellationPolicy{
		FreeHours:      s.cfg.CancellationFreeHours,
		PenaltyPercent: s.cfg.CancellationPenaltyPercent,
	}
	refund, penalty := policy.Compute(booking.StartTime, time.Now(), cancelledBy, booking.TotalAmount)

	if err := s.transition(ctx, booking, models.BookingStatusCancelled, actorID); err != nil {
		return nil, err
	}
	if err := s.bookingRepo.SetCancellation(ctx, booking.ID, cancelledBy, reason, refund, penalty); err != nil {
		return nil, err
	}

	if booking.EscrowID != nil {
		cancelReason := fmt.Sprintf("cancelled by %s: %s", cancelledBy, reason)
		if err := s.escrowSvc.Refund(ctx, *booking.EscrowID, cancelReason, refund, penalty); err != nil {
			s.log.Error("refund after cancellation failed",
				zap.String("booking_id", booking.ID.String()), zap.Error(err))
		}
	}

	return s.bookingRepo.GetByID(ctx, booking.ID)
}

// RescheduleBooking moves a pending or confirmed booking to a new slot,
// re-running the schedule validation and overlap check against other
// bookings.
func (s *BookingService) RescheduleBooking(ctx context.Context, id, actorID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("booking %s not found", id)
		}
		return nil, err
	}
	if booking.ClientID != actorID {
		return nil, apperr.Forbidden("only the client can reschedule")
	}
	if booking.Status != models.BookingStatusPending && booking.Status != models.BookingStatusConfirmed {
		return nil, apperr.StateConflict("cannot reschedule booking in status %s", booking.Status)
	}

	hours, err := ValidateSchedule(s.bounds(), time.Now(), start, end)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bookingTx := s.bookingRepo.WithTx(tx)
	if err := bookingTx.LockParties(ctx, booking.WorkerID, booking.ClientID); err != nil {
		return nil, err
	}
	overlap, err := bookingTx.HasOverlap(ctx, booking.WorkerID, start, end, &booking.ID)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, apperr.Conflict("worker already has a booking in this time slot")
	}
	if err := bookingTx.UpdateSchedule(ctx, booking.ID, start, end, hours); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "booking_rescheduled",
		EntityType:  "booking",
		EntityID:    &booking.ID,
		Meta:        map[string]any{"start_time": start, "end_time": end},
	})

	return s.bookingRepo.GetByID(ctx, id)
}

// transition applies a guarded status update, stamps the lifecycle column,
// and emits the audit row plus the status-changed event.
func (s *BookingService) transition(ctx context.Context, booking *models.Booking, newStatus string, actorID *uuid.UUID) error {
	if err := s.bookingRepo.UpdateStatus(ctx, booking.ID, booking.Status, newStatus, statusTimestampFields[newStatus]); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.StateConflict("booking %s was modified concurrently", booking.ID)
		}
		return err
	}

	actorType := "system"
	if actorID != nil {
		actorType = "user"
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      "booking_status_changed",
		EntityType:  "booking",
		EntityID:    &booking.ID,
		Meta:        map[string]any{"from": booking.Status, "to": newStatus},
	})
	_ = s.publisher.Publish(ctx, events.StreamBooking, events.Event{
		Type: events.EventBookingStatusChanged,
		Payload: map[string]any{
			"booking_id": booking.ID.String(),
			"client_id":  booking.ClientID.String(),
			"worker_id":  booking.WorkerID.String(),
			"from":       booking.Status,
			"to":         newStatus,
		},
	})

	return nil
}

// AutoCancelStalePending cancels pending bookings the worker never answered,
// refunding the client in full. Called by the background worker.
func (s *BookingService) AutoCancelStalePending(ctx context.Context) {
	bookings, err := s.bookingRepo.GetStalePending(ctx, s.cfg.AutoCancelPending)
	if err != nil {
		s.log.Error("stale pending sweep failed", zap.Error(err))
		return
	}
	for i := range bookings {
		b := &bookings[i]
		if _, err := s.cancel(ctx, b, models.CancelledBySystem, "worker did not respond in time", nil); err != nil {
			s.log.Error("auto-cancel failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
	}
}

// AutoCompleteOverdue completes in_progress bookings whose end time passed
// long enough ago. The escrow stays held until the dispute window closes.
func (s *BookingService) AutoCompleteOverdue(ctx context.Context) {
	bookings, err := s.bookingRepo.GetOverdueInProgress(ctx, s.cfg.AutoComplete)
	if err != nil {
		s.log.Error("overdue in_progress sweep failed", zap.Error(err))
		return
	}
	for i := range bookings {
		b := &bookings[i]
		if err := s.transition(ctx, b, models.BookingStatusCompleted, nil); err != nil {
			s.log.Error("auto-complete failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
	}
}

func (s *BookingService) reconcileBalance(ctx context.Context, userID uuid.UUID) {
	balance, err := s.walletRepo.CalculateBalance(ctx, userID)
	if err != nil {
		s.log.Error("balance replay failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if err := s.walletRepo.SetCachedBalance(ctx, userID, balance); err != nil {
		s.log.Error("cached balance write failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
