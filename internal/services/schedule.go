package services

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/services-marketplace/backend/internal/apperr"
)

// ScheduleBounds carries the booking-window constraints applied before any
// overlap check.
type ScheduleBounds struct {
	MinAdvanceHours  int
	MaxAdvanceDays   int
	MinDurationHours int
	MaxDurationHours int
}

// ValidateSchedule checks advance and duration bounds for the half-open
// interval [start, end) and returns the duration in hours rounded to one
// decimal place.
func ValidateSchedule(b ScheduleBounds, now, start, end time.Time) (float64, error) {
	if !end.After(start) {
		return 0, apperr.Validation("end_time must be after start_time")
	}
	if start.Before(now.Add(time.Duration(b.MinAdvanceHours) * time.Hour)) {
		return 0, apperr.Validation("start_time must be at least %d hours from now", b.MinAdvanceHours)
	}
	if start.After(now.AddDate(0, 0, b.MaxAdvanceDays)) {
		return 0, apperr.Validation("start_time must be within %d days from now", b.MaxAdvanceDays)
	}

	hours := decimal.NewFromFloat(end.Sub(start).Hours()).Round(1)
	minD := decimal.NewFromInt(int64(b.MinDurationHours))
	maxD := decimal.NewFromInt(int64(b.MaxDurationHours))
	if hours.LessThan(minD) || hours.GreaterThan(maxD) {
		return 0, apperr.Validation("duration_hours must be between %d and %d, got %s",
			b.MinDurationHours, b.MaxDurationHours, hours)
	}

	return hours.InexactFloat64(), nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Same predicate the conflict query applies in SQL:
// a booking ending exactly when another starts does not collide.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Pricing is the money breakdown of a booking. The client pays total_amount;
// the platform keeps the fee and the worker receives the subtotal on release.
type Pricing struct {
	UnitPrice    int64
	Quantity     int
	Subtotal     int64
	PlatformFee  int64
	TotalAmount  int64
	WorkerPayout int64
}

func ComputePricing(unitPrice int64, quantity int, feePercent int) Pricing {
	subtotal := unitPrice * int64(quantity)
	fee := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(int64(feePercent))).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()

	return Pricing{
		UnitPrice:    unitPrice,
		Quantity:     quantity,
		Subtotal:     subtotal,
		PlatformFee:  fee,
		TotalAmount:  subtotal + fee,
		WorkerPayout: subtotal,
	}
}
