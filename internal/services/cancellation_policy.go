package services

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/services-marketplace/backend/internal/models"
)

// CancellationPolicy computes the refund/penalty split for a cancellation.
// Client cancellations inside the free window refund in full; later ones
// forfeit a percentage of the total. Worker- and system-initiated
// cancellations always refund the client in full.
type CancellationPolicy struct {
	FreeHours      int
	PenaltyPercent int
}

func (p CancellationPolicy) Compute(startTime, now time.Time, cancelledBy string, totalAmount int64) (refundAmount, penaltyAmount int64) {
	if cancelledBy != models.CancelledByClient {
		return totalAmount, 0
	}

	freeUntil := startTime.Add(-time.Duration(p.FreeHours) * time.Hour)
	if !now.After(freeUntil) {
		return totalAmount, 0
	}

	penalty := decimal.NewFromInt(totalAmount).
		Mul(decimal.NewFromInt(int64(p.PenaltyPercent))).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()
	return totalAmount - penalty, penalty
}
