package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/models"
)

const escrowColumns = `
	id, booking_id, client_id, worker_id,
	amount, platform_fee, worker_payout, currency, status,
	hold_tx_id, release_tx_id, refund_tx_id,
	held_at, released_at, refunded_at,
	release_reason, refund_reason, refund_amount, penalty_amount, expires_at`

type EscrowRepo struct {
	q db.Querier
}

func NewEscrowRepo(q db.Querier) *EscrowRepo {
	return &EscrowRepo{q: q}
}

func (r *EscrowRepo) WithTx(tx pgx.Tx) *EscrowRepo {
	return &EscrowRepo{q: tx}
}

func scanEscrow(row pgx.Row, e *models.Escrow) error {
	return row.Scan(
		&e.ID, &e.BookingID, &e.ClientID, &e.WorkerID,
		&e.Amount, &e.PlatformFee, &e.WorkerPayout, &e.Currency, &e.Status,
		&e.HoldTxID, &e.ReleaseTxID, &e.RefundTxID,
		&e.HeldAt, &e.ReleasedAt, &e.RefundedAt,
		&e.ReleaseReason, &e.RefundReason, &e.RefundAmount, &e.PenaltyAmount, &e.ExpiresAt,
	)
}

// Create opens a holding escrow. The unique index on booking_id makes a
// duplicate open fail at the storage layer.
func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO escrows (
			booking_id, client_id, worker_id,
			amount, platform_fee, worker_payout, currency, status,
			hold_tx_id, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, held_at
	`, e.BookingID, e.ClientID, e.WorkerID,
		e.Amount, e.PlatformFee, e.WorkerPayout, e.Currency, e.Status,
		e.HoldTxID, e.ExpiresAt,
	).Scan(&e.ID, &e.HeldAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	if err := scanEscrow(r.q.QueryRow(ctx, `SELECT`+escrowColumns+` FROM escrows WHERE id = $1`, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	if err := scanEscrow(r.q.QueryRow(ctx, `SELECT`+escrowColumns+` FROM escrows WHERE booking_id = $1`, bookingID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkReleased moves a holding escrow to released. The status guard makes the
// operation idempotent under races: the second writer affects zero rows.
func (r *EscrowRepo) MarkReleased(ctx context.Context, id, releaseTxID uuid.UUID, reason string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE escrows
		SET status = 'released', released_at = now(), release_tx_id = $1, release_reason = $2
		WHERE id = $3 AND status = 'holding'
	`, releaseTxID, reason, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EscrowRepo) MarkRefunded(ctx context.Context, id uuid.UUID, refundTxID *uuid.UUID, reason string, refundAmount, penaltyAmount int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE escrows
		SET status = 'refunded', refunded_at = now(), refund_tx_id = $1, refund_reason = $2,
		    refund_amount = $3, penalty_amount = $4
		WHERE id = $5 AND status IN ('holding', 'disputed')
	`, refundTxID, reason, refundAmount, penaltyAmount, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EscrowRepo) MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE escrows SET status = 'disputed' WHERE id = $1 AND status = 'holding'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetReleasable returns holding escrows whose booking completed before the
// dispute window closed.
func (r *EscrowRepo) GetReleasable(ctx context.Context, window time.Duration) ([]models.Escrow, error) {
	return r.list(ctx, `
		SELECT e.id, e.booking_id, e.client_id, e.worker_id,
		       e.amount, e.platform_fee, e.worker_payout, e.currency, e.status,
		       e.hold_tx_id, e.release_tx_id, e.refund_tx_id,
		       e.held_at, e.released_at, e.refunded_at,
		       e.release_reason, e.refund_reason, e.refund_amount, e.penalty_amount, e.expires_at
		FROM escrows e
		JOIN bookings b ON b.id = e.booking_id
		WHERE e.status = 'holding'
		  AND b.status = 'completed'
		  AND b.completed_at < now() - ($1 * interval '1 second')
	`, int(window.Seconds()))
}

// GetExpired returns escrows past their safety bound. Disputed escrows are
// included: a frozen dispute must still resolve once the hold expires, or the
// funds would be stuck forever.
func (r *EscrowRepo) GetExpired(ctx context.Context) ([]models.Escrow, error) {
	return r.list(ctx, `SELECT`+escrowColumns+` FROM escrows WHERE status IN ('holding', 'disputed') AND expires_at < now()`)
}

func (r *EscrowRepo) list(ctx context.Context, query string, args ...any) ([]models.Escrow, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := scanEscrow(rows, &e); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}
