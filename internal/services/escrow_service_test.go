package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/repositories"
)

func newEscrowServiceForTest(fdb *fakeDB) (*EscrowService, *fakePool, *fakePublisher) {
	pool := &fakePool{db: fdb}
	pub := &fakePublisher{}
	cfg := &config.Config{
		Currency:    "VND",
		MaxHoldDays: 30,
		AutoRelease: 72 * time.Hour,
	}
	svc := NewEscrowService(
		pool,
		repositories.NewEscrowRepo(fdb),
		repositories.NewBookingRepo(fdb),
		repositories.NewWalletRepo(fdb),
		repositories.NewAuditRepo(fdb),
		pub,
		cfg,
		zap.NewNop(),
	)
	return svc, pool, pub
}

func escrowRow(id, bookingID uuid.UUID, status string, amount int64) []any {
	now := time.Now()
	fee := amount / 11
	return []any{
		id, bookingID, uuid.New(), uuid.New(),
		amount, fee, amount - fee, "VND", status,
		uuid.New(), (*uuid.UUID)(nil), (*uuid.UUID)(nil),
		now, (*time.Time)(nil), (*time.Time)(nil),
		(*string)(nil), (*string)(nil), int64(0), int64(0), now.Add(-time.Hour),
	}
}

func bookingRow(id uuid.UUID, status, paymentStatus string, total int64) []any {
	now := time.Now()
	return []any{
		id, uuid.New(), uuid.New(), uuid.New(), uuid.New(),
		now.Add(-3 * time.Hour), now.Add(-time.Hour), 2.0,
		total, 1, total, int64(0), total, total, "VND",
		status, paymentStatus, (*uuid.UUID)(nil), (*uuid.UUID)(nil), (*string)(nil),
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
		(*time.Time)(nil), (*string)(nil), (*string)(nil), int64(0), int64(0),
		now, now,
	}
}

func TestReleaseAlreadyReleasedIsNoOp(t *testing.T) {
	escrowID := uuid.New()
	fdb := &fakeDB{row: map[string][]any{
		"FROM escrows WHERE id": escrowRow(escrowID, uuid.New(), models.EscrowStatusReleased, 110000),
	}}
	svc, pool, pub := newEscrowServiceForTest(fdb)

	if err := svc.Release(context.Background(), escrowID, "auto-release after hold window"); err != nil {
		t.Fatalf("releasing a released escrow must succeed silently, got %v", err)
	}
	if pool.begins != 0 {
		t.Errorf("no transaction should open for a released escrow, got %d", pool.begins)
	}
	if n := fdb.count("UPDATE escrows"); n != 0 {
		t.Errorf("released escrow was updated %d times, want 0", n)
	}
	if len(pub.published) != 0 {
		t.Errorf("second release published %d events, want 0", len(pub.published))
	}
}

func TestReleaseLostRaceLeavesSingleCredit(t *testing.T) {
	escrowID := uuid.New()
	bookingID := uuid.New()
	fdb := &fakeDB{
		row: map[string][]any{
			"FROM escrows WHERE id":           escrowRow(escrowID, bookingID, models.EscrowStatusHolding, 110000),
			"FROM bookings WHERE id":          bookingRow(bookingID, models.BookingStatusCompleted, models.PaymentStatusPaid, 110000),
			"INSERT INTO wallet_transactions": {uuid.New(), time.Now(), time.Now()},
		},
		tags: map[string]string{"UPDATE escrows": "UPDATE 0"},
	}
	svc, pool, pub := newEscrowServiceForTest(fdb)

	if err := svc.Release(context.Background(), escrowID, "client confirmed"); err != nil {
		t.Fatalf("losing the release race must not error, got %v", err)
	}
	if n := fdb.count("UPDATE bookings SET payment_status"); n != 0 {
		t.Errorf("loser flipped payment status %d times, want 0", n)
	}
	if pool.tx == nil || pool.tx.committed {
		t.Error("loser must roll back so its ledger row never lands")
	}
	if len(pub.published) != 0 {
		t.Errorf("loser published %d events, want 0", len(pub.published))
	}
}

func TestRefundExpiredResolvesDisputedEscrow(t *testing.T) {
	escrowID := uuid.New()
	bookingID := uuid.New()
	disputed := escrowRow(escrowID, bookingID, models.EscrowStatusDisputed, 110000)
	fdb := &fakeDB{
		rows: map[string][][]any{
			"FROM escrows WHERE status IN": {disputed},
		},
		row: map[string][]any{
			"FROM escrows WHERE id":           disputed,
			"INSERT INTO wallet_transactions": {uuid.New(), time.Now(), time.Now()},
			"SELECT GREATEST":                 {int64(110000)},
		},
	}
	svc, pool, pub := newEscrowServiceForTest(fdb)

	svc.RefundExpired(context.Background())

	sweepSeen := false
	for _, sql := range fdb.log {
		if strings.Contains(sql, "FROM escrows WHERE status IN") && strings.Contains(sql, "'disputed'") {
			sweepSeen = true
		}
	}
	if !sweepSeen {
		t.Error("expiry sweep must include disputed escrows, not only holding ones")
	}
	if n := fdb.count("UPDATE escrows"); n != 1 {
		t.Errorf("expired disputed escrow should be refunded exactly once, got %d updates", n)
	}
	if pool.tx == nil || !pool.tx.committed {
		t.Error("forced refund must commit")
	}
	if len(pub.published) != 1 || pub.published[0].Type != events.EventEscrowRefunded {
		t.Errorf("expected one escrow_refunded event, got %v", pub.published)
	}
}
