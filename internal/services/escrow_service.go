package services

import (
	"context"
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

// EscrowService owns fund custody for bookings: open a hold at funding time,
// release to the worker after completion, refund to the client on
// cancellation/rejection. Every money movement appends to the wallet ledger
// inside the same transaction that flips the escrow status.
type EscrowService struct {
	pool        db.TxBeginner
	escrowRepo  *repositories.EscrowRepo
	bookingRepo *repositories.BookingRepo
	walletRepo  *repositories.WalletRepo
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewEscrowService(
	pool db.TxBeginner,
	escrowRepo *repositories.EscrowRepo,
	bookingRepo *repositories.BookingRepo,
	walletRepo *repositories.WalletRepo,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		pool:        pool,
		escrowRepo:  escrowRepo,
		bookingRepo: bookingRepo,
		walletRepo:  walletRepo,
		auditRepo:   auditRepo,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// Open creates the holding escrow for a freshly funded booking inside the
// caller's transaction. The unique booking_id index rejects a duplicate open.
func (s *EscrowService) Open(ctx context.Context, tx pgx.Tx, b *models.Booking, holdTxID uuid.UUID) (*models.Escrow, error) {
	escrow := &models.Escrow{
		BookingID:    b.ID,
		ClientID:     b.ClientID,
		WorkerID:     b.WorkerID,
		Amount:       b.TotalAmount,
		PlatformFee:  b.PlatformFee,
		WorkerPayout: b.WorkerPayout,
		Currency:     b.Currency,
		Status:       models.EscrowStatusHolding,
		HoldTxID:     holdTxID,
		ExpiresAt:    time.Now().AddDate(0, 0, s.cfg.MaxHoldDays),
	}
	if err := s.escrowRepo.WithTx(tx).Create(ctx, escrow); err != nil {
		return nil, apperr.Wrap(apperr.CodeConflict, err, fmt.Sprintf("escrow already exists for booking %s", b.ID))
	}
	return escrow, nil
}

// Release pays the worker payout out of a holding escrow. Only allowed once
// the owning booking is completed; releasing an already-released escrow is a
// no-op.
func (s *EscrowService) Release(ctx context.Context, escrowID uuid.UUID, reason string) error {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return apperr.NotFound("escrow %s not found", escrowID)
	}
	if escrow.Status == models.EscrowStatusReleased {
		return nil
	}
	if escrow.Status != models.EscrowStatusHolding {
		return apperr.StateConflict("escrow %s is %s, cannot release", escrowID, escrow.Status)
	}

	booking, err := s.bookingRepo.GetByID(ctx, escrow.BookingID)
	if err != nil {
		return apperr.NotFound("booking %s not found", escrow.BookingID)
	}
	if booking.Status != models.BookingStatusCompleted {
		return apperr.StateConflict("booking %s is %s, escrow releases only after completion", booking.ID, booking.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	desc := "escrow release: worker payout"
	payout := &models.WalletTransaction{
		UserID:        escrow.WorkerID,
		Type:          models.TxTypeDeposit,
		Amount:        escrow.WorkerPayout,
		Status:        models.TxStatusSuccess,
		GatewayTxnRef: fmt.Sprintf("escrow:%s:release", escrow.ID),
		Description:   &desc,
	}
	if err := s.walletRepo.WithTx(tx).Create(ctx, payout); err != nil {
		return err
	}

	updated, err := s.escrowRepo.WithTx(tx).MarkReleased(ctx, escrow.ID, payout.ID, reason)
	if err != nil {
		return err
	}
	if !updated {
		// Lost the race to another releaser; their ledger row stands.
		return nil
	}

	if err := s.bookingRepo.WithTx(tx).UpdatePaymentStatus(ctx, booking.ID, models.PaymentStatusPaid, models.PaymentStatusReleased); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.reconcileBalance(ctx, escrow.WorkerID)

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_released",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta:       map[string]any{"booking_id": escrow.BookingID.String(), "worker_payout": escrow.WorkerPayout, "reason": reason},
	})
	_ = s.publisher.Publish(ctx, events.StreamWallet, events.Event{
		Type: events.EventEscrowReleased,
		Payload: map[string]any{
			"escrow_id":  escrow.ID.String(),
			"booking_id": escrow.BookingID.String(),
			"worker_id":  escrow.WorkerID.String(),
			"amount":     escrow.WorkerPayout,
		},
	})

	return nil
}

// Refund returns refundAmount to the client and retains penaltyAmount for
// the platform/worker. Allowed only when the owning booking is cancelled or
// rejected; refunding an already-refunded escrow is a no-op.
func (s *EscrowService) Refund(ctx context.Context, escrowID uuid.UUID, reason string, refundAmount, penaltyAmount int64) error {
	return s.refund(ctx, escrowID, reason, refundAmount, penaltyAmount, false)
}

func (s *EscrowService) refund(ctx context.Context, escrowID uuid.UUID, reason string, refundAmount, penaltyAmount int64, force bool) error {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return apperr.NotFound("escrow %s not found", escrowID)
	}
	if escrow.Status == models.EscrowStatusRefunded {
		return nil
	}
	if escrow.Status != models.EscrowStatusHolding && escrow.Status != models.EscrowStatusDisputed {
		return apperr.StateConflict("escrow %s is %s, cannot refund", escrowID, escrow.Status)
	}
	if !escrow.ValidateRefundSplit(refundAmount, penaltyAmount) {
		return apperr.Validation("refund %d + penalty %d must equal escrow amount %d", refundAmount, penaltyAmount, escrow.Amount)
	}

	if !force {
		booking, err := s.bookingRepo.GetByID(ctx, escrow.BookingID)
		if err != nil {
			return apperr.NotFound("booking %s not found", escrow.BookingID)
		}
		if booking.Status != models.BookingStatusCancelled && booking.Status != models.BookingStatusRejected {
			return apperr.StateConflict("booking %s is %s, escrow refunds only after cancellation or rejection", booking.ID, booking.Status)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var refundTxID *uuid.UUID
	if refundAmount > 0 {
		desc := "escrow refund"
		refundTx := &models.WalletTransaction{
			UserID:        escrow.ClientID,
			Type:          models.TxTypeRefund,
			Amount:        refundAmount,
			Status:        models.TxStatusSuccess,
			GatewayTxnRef: fmt.Sprintf("escrow:%s:refund", escrow.ID),
			Description:   &desc,
		}
		if err := s.walletRepo.WithTx(tx).Create(ctx, refundTx); err != nil {
			return err
		}
		refundTxID = &refundTx.ID
	}

	updated, err := s.escrowRepo.WithTx(tx).MarkRefunded(ctx, escrow.ID, refundTxID, reason, refundAmount, penaltyAmount)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	if err := s.bookingRepo.WithTx(tx).UpdatePaymentStatus(ctx, escrow.BookingID, models.PaymentStatusPaid, models.PaymentStatusRefunded); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.reconcileBalance(ctx, escrow.ClientID)

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_refunded",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta: map[string]any{
			"booking_id":     escrow.BookingID.String(),
			"refund_amount":  refundAmount,
			"penalty_amount": penaltyAmount,
			"reason":         reason,
		},
	})
	_ = s.publisher.Publish(ctx, events.StreamWallet, events.Event{
		Type: events.EventEscrowRefunded,
		Payload: map[string]any{
			"escrow_id":      escrow.ID.String(),
			"booking_id":     escrow.BookingID.String(),
			"client_id":      escrow.ClientID.String(),
			"refund_amount":  refundAmount,
			"penalty_amount": penaltyAmount,
		},
	})

	return nil
}

// MarkDisputed freezes a holding escrow while a dispute is open.
func (s *EscrowService) MarkDisputed(ctx context.Context, escrowID uuid.UUID) error {
	_, err := s.escrowRepo.MarkDisputed(ctx, escrowID)
	return err
}

// ReleaseDue releases escrows whose booking completed before the dispute
// window closed. Called by the background worker.
func (s *EscrowService) ReleaseDue(ctx context.Context) {
	escrows, err := s.escrowRepo.GetReleasable(ctx, s.cfg.AutoRelease)
	if err != nil {
		s.log.Error("failed to list releasable escrows", zap.Error(err))
		return
	}
	for _, e := range escrows {
		if err := s.Release(ctx, e.ID, "auto-release after hold window"); err != nil {
			s.log.Error("auto-release failed", zap.String("escrow_id", e.ID.String()), zap.Error(err))
		}
	}
}

// RefundExpired force-refunds holding escrows past their expires_at safety
// bound, regardless of booking state. Called by the background worker.
func (s *EscrowService) RefundExpired(ctx context.Context) {
	escrows, err := s.escrowRepo.GetExpired(ctx)
	if err != nil {
		s.log.Error("failed to list expired escrows", zap.Error(err))
		return
	}
	for _, e := range escrows {
		s.log.Warn("force-refunding expired escrow",
			zap.String("escrow_id", e.ID.String()),
			zap.String("booking_id", e.BookingID.String()),
		)
		if err := s.refund(ctx, e.ID, "escrow hold expired", e.Amount, 0, true); err != nil {
			s.log.Error("expired escrow refund failed", zap.String("escrow_id", e.ID.String()), zap.Error(err))
		}
	}
}

func (s *EscrowService) reconcileBalance(ctx context.Context, userID uuid.UUID) {
	balance, err := s.walletRepo.CalculateBalance(ctx, userID)
	if err != nil {
		s.log.Error("balance replay failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if err := s.walletRepo.SetCachedBalance(ctx, userID, balance); err != nil {
		s.log.Error("cached balance write failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
