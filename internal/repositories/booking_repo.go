package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/models"
)

const bookingColumns = `
	id, client_id, worker_id, worker_service_id, service_id,
	start_time, end_time, duration_hours,
	unit_price, quantity, subtotal, platform_fee, total_amount, worker_payout, currency,
	status, payment_status, escrow_id, payment_tx_id, note,
	confirmed_at, started_at, completed_at,
	cancelled_at, cancelled_by, cancel_reason, refund_amount, penalty_amount,
	created_at, updated_at`

type BookingRepo struct {
	q db.Querier
}

func NewBookingRepo(q db.Querier) *BookingRepo {
	return &BookingRepo{q: q}
}

// WithTx returns a copy bound to tx so multi-aggregate writes share one
// transaction.
func (r *BookingRepo) WithTx(tx pgx.Tx) *BookingRepo {
	return &BookingRepo{q: tx}
}

func scanBooking(row pgx.Row, b *models.Booking) error {
	return row.Scan(
		&b.ID, &b.ClientID, &b.WorkerID, &b.WorkerServiceID, &b.ServiceID,
		&b.StartTime, &b.EndTime, &b.DurationHours,
		&b.UnitPrice, &b.Quantity, &b.Subtotal, &b.PlatformFee, &b.TotalAmount, &b.WorkerPayout, &b.Currency,
		&b.Status, &b.PaymentStatus, &b.EscrowID, &b.PaymentTxID, &b.Note,
		&b.ConfirmedAt, &b.StartedAt, &b.CompletedAt,
		&b.CancelledAt, &b.CancelledBy, &b.CancelReason, &b.RefundAmount, &b.PenaltyAmount,
		&b.CreatedAt, &b.UpdatedAt,
	)
}

func (r *BookingRepo) Create(ctx context.Context, b *models.Booking) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO bookings (
			client_id, worker_id, worker_service_id, service_id,
			start_time, end_time, duration_hours,
			unit_price, quantity, subtotal, platform_fee, total_amount, worker_payout, currency,
			status, payment_status, note
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at, updated_at
	`, b.ClientID, b.WorkerID, b.WorkerServiceID, b.ServiceID,
		b.StartTime, b.EndTime, b.DurationHours,
		b.UnitPrice, b.Quantity, b.Subtotal, b.PlatformFee, b.TotalAmount, b.WorkerPayout, b.Currency,
		b.Status, b.PaymentStatus, b.Note,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := scanBooking(r.q.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE id = $1`, id), &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// HasOverlap reports whether the worker has an active booking intersecting
// the half-open interval [start, end). The boundary instant itself does not
// collide.
func (r *BookingRepo) HasOverlap(ctx context.Context, workerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE worker_id = $1
			  AND status IN ('pending', 'confirmed', 'in_progress')
			  AND start_time < $3 AND end_time > $2
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, workerID, start, end, excludeID).Scan(&exists)
	return exists, err
}

// LockParties serializes booking creation per worker/client pair via
// transaction-scoped advisory locks, closing the check-then-insert race.
// Locks are always taken worker-first to keep the order deadlock-free.
func (r *BookingRepo) LockParties(ctx context.Context, workerID, clientID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0)),
		       pg_advisory_xact_lock(hashtextextended($2::text, 0))
	`, workerID, clientID)
	return err
}

// UpdateStatus moves a booking forward, guarded by the expected prior status
// so concurrent writers cannot double-apply a transition. Returns
// pgx.ErrNoRows when the guard does not match.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, timestampField string) error {
	set := `status = $1, updated_at = now()`
	if timestampField != "" {
		set += fmt.Sprintf(`, %s = COALESCE(%s, now())`, timestampField, timestampField)
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE bookings SET `+set+` WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BookingRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE bookings SET payment_status = $1, updated_at = now()
		WHERE id = $2 AND payment_status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AttachEscrow flips the booking payable: escrow + hold transaction recorded,
// payment_status pending -> paid in the same statement.
func (r *BookingRepo) AttachEscrow(ctx context.Context, id, escrowID, paymentTxID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE bookings
		SET escrow_id = $1, payment_tx_id = $2, payment_status = 'paid', updated_at = now()
		WHERE id = $3 AND payment_status = 'pending' AND escrow_id IS NULL
	`, escrowID, paymentTxID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BookingRepo) SetCancellation(ctx context.Context, id uuid.UUID, cancelledBy, reason string, refundAmount, penaltyAmount int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE bookings
		SET cancelled_at = now(), cancelled_by = $1, cancel_reason = $2,
		    refund_amount = $3, penalty_amount = $4, updated_at = now()
		WHERE id = $5
	`, cancelledBy, reason, refundAmount, penaltyAmount, id)
	return err
}

func (r *BookingRepo) UpdateSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, durationHours float64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE bookings SET start_time = $1, end_time = $2, duration_hours = $3, updated_at = now()
		WHERE id = $4
	`, start, end, durationHours, id)
	return err
}

type BookingFilter struct {
	ClientID *uuid.UUID
	WorkerID *uuid.UUID
	Status   *string
	Limit    int
	Offset   int
}

func (r *BookingRepo) List(ctx context.Context, f BookingFilter) ([]models.BookingWithNames, error) {
	query := `
		SELECT b.id, b.client_id, b.worker_id, b.worker_service_id, b.service_id,
		       b.start_time, b.end_time, b.duration_hours,
		       b.unit_price, b.quantity, b.subtotal, b.platform_fee, b.total_amount, b.worker_payout, b.currency,
		       b.status, b.payment_status, b.escrow_id, b.payment_tx_id, b.note,
		       b.confirmed_at, b.started_at, b.completed_at,
		       b.cancelled_at, b.cancelled_by, b.cancel_reason, b.refund_amount, b.penalty_amount,
		       b.created_at, b.updated_at,
		       cu.display_name, wu.display_name
		FROM bookings b
		JOIN users cu ON cu.id = b.client_id
		JOIN users wu ON wu.id = b.worker_id
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.ClientID != nil {
		where = append(where, fmt.Sprintf("b.client_id = $%d", argIdx))
		args = append(args, *f.ClientID)
		argIdx++
	}
	if f.WorkerID != nil {
		where = append(where, fmt.Sprintf("b.worker_id = $%d", argIdx))
		args = append(args, *f.WorkerID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("b.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY b.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.BookingWithNames
	for rows.Next() {
		var b models.BookingWithNames
		if err := rows.Scan(
			&b.ID, &b.ClientID, &b.WorkerID, &b.WorkerServiceID, &b.ServiceID,
			&b.StartTime, &b.EndTime, &b.DurationHours,
			&b.UnitPrice, &b.Quantity, &b.Subtotal, &b.PlatformFee, &b.TotalAmount, &b.WorkerPayout, &b.Currency,
			&b.Status, &b.PaymentStatus, &b.EscrowID, &b.PaymentTxID, &b.Note,
			&b.ConfirmedAt, &b.StartedAt, &b.CompletedAt,
			&b.CancelledAt, &b.CancelledBy, &b.CancelReason, &b.RefundAmount, &b.PenaltyAmount,
			&b.CreatedAt, &b.UpdatedAt,
			&b.ClientName, &b.WorkerName,
		); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *BookingRepo) listPlain(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetStalePending returns pending bookings the worker never answered within
// the window. The sweep cancels them with a full refund.
func (r *BookingRepo) GetStalePending(ctx context.Context, olderThan time.Duration) ([]models.Booking, error) {
	return r.listPlain(ctx, `
		SELECT`+bookingColumns+` FROM bookings
		WHERE status = 'pending'
		  AND (created_at < now() - ($1 * interval '1 second') OR start_time <= now())
	`, int(olderThan.Seconds()))
}

// GetOverdueInProgress returns in_progress bookings past end_time plus the
// auto-complete window.
func (r *BookingRepo) GetOverdueInProgress(ctx context.Context, grace time.Duration) ([]models.Booking, error) {
	return r.listPlain(ctx, `
		SELECT`+bookingColumns+` FROM bookings
		WHERE status = 'in_progress'
		  AND end_time < now() - ($1 * interval '1 second')
	`, int(grace.Seconds()))
}
