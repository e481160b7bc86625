package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EscrowStatusHolding           = "holding"
	EscrowStatusReleased          = "released"
	EscrowStatusPartiallyReleased = "partially_released"
	EscrowStatusRefunded          = "refunded"
	EscrowStatusDisputed          = "disputed"
)

type Escrow struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"` // unique: one escrow per booking
	ClientID  uuid.UUID `json:"client_id"`
	WorkerID  uuid.UUID `json:"worker_id"`

	Amount       int64  `json:"amount"`
	PlatformFee  int64  `json:"platform_fee"`
	WorkerPayout int64  `json:"worker_payout"`
	Currency     string `json:"currency"`

	Status string `json:"status"`

	HoldTxID    uuid.UUID  `json:"hold_transaction_id"`
	ReleaseTxID *uuid.UUID `json:"release_transaction_id,omitempty"`
	RefundTxID  *uuid.UUID `json:"refund_transaction_id,omitempty"`

	HeldAt     time.Time  `json:"held_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	ReleaseReason *string `json:"release_reason,omitempty"`
	RefundReason  *string `json:"refund_reason,omitempty"`
	RefundAmount  int64   `json:"refund_amount"`
	PenaltyAmount int64   `json:"penalty_amount"`

	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateRefundSplit enforces refund + penalty == held amount.
func (e *Escrow) ValidateRefundSplit(refundAmount, penaltyAmount int64) bool {
	if refundAmount < 0 || penaltyAmount < 0 {
		return false
	}
	return refundAmount+penaltyAmount == e.Amount
}
