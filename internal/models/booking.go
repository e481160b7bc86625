package models

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses
const (
	BookingStatusPending    = "pending"
	BookingStatusConfirmed  = "confirmed"
	BookingStatusInProgress = "in_progress"
	BookingStatusCompleted  = "completed"
	BookingStatusRejected   = "rejected"
	BookingStatusCancelled  = "cancelled"
	BookingStatusDisputed   = "disputed"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
	PaymentStatusReleased = "released"
)

// Cancellation actors
const (
	CancelledByClient = "client"
	CancelledByWorker = "worker"
	CancelledBySystem = "system"
)

// Valid booking status transitions: from -> []to
var ValidBookingTransitions = map[string][]string{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusRejected, BookingStatusCancelled},
	BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled},
	BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusDisputed},
	BookingStatusCompleted:  {},
	BookingStatusRejected:   {},
	BookingStatusCancelled:  {},
	BookingStatusDisputed:   {},
}

// Valid payment status transitions: from -> []to
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusReleased, PaymentStatusRefunded},
	PaymentStatusFailed:   {},
	PaymentStatusRefunded: {},
	PaymentStatusReleased: {},
}

func IsValidBookingTransition(from, to string) bool {
	allowed, ok := ValidBookingTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidPaymentTransition(from, to string) bool {
	allowed, ok := ValidPaymentTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalBookingStatus reports whether no further status mutation is allowed.
func IsTerminalBookingStatus(status string) bool {
	allowed, ok := ValidBookingTransitions[status]
	return ok && len(allowed) == 0
}

type Booking struct {
	ID              uuid.UUID `json:"id"`
	ClientID        uuid.UUID `json:"client_id"`
	WorkerID        uuid.UUID `json:"worker_id"`
	WorkerServiceID uuid.UUID `json:"worker_service_id"`
	ServiceID       uuid.UUID `json:"service_id"`

	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours float64   `json:"duration_hours"` // one decimal place

	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	Subtotal      int64  `json:"subtotal"`
	PlatformFee   int64  `json:"platform_fee"`
	TotalAmount   int64  `json:"total_amount"`
	WorkerPayout  int64  `json:"worker_payout"`
	Currency      string `json:"currency"`

	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	EscrowID      *uuid.UUID `json:"escrow_id,omitempty"`
	PaymentTxID   *uuid.UUID `json:"payment_transaction_id,omitempty"`

	Note *string `json:"note,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy   *string    `json:"cancelled_by,omitempty"`
	CancelReason  *string    `json:"cancel_reason,omitempty"`
	RefundAmount  int64      `json:"refund_amount"`
	PenaltyAmount int64      `json:"penalty_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookingWithNames embeds Booking and adds display names to avoid N+1 queries.
type BookingWithNames struct {
	Booking
	ClientName *string `json:"client_name,omitempty"`
	WorkerName *string `json:"worker_name,omitempty"`
}
