package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet transaction types
const (
	TxTypeDeposit  = "deposit"
	TxTypeWithdraw = "withdraw"
	TxTypePayment  = "payment"
	TxTypeRefund   = "refund"
)

// Wallet transaction statuses. A transaction is terminal once it leaves
// pending; terminal rows are never mutated except to attach gateway metadata.
const (
	TxStatusPending   = "pending"
	TxStatusSuccess   = "success"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

type WalletTransaction struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Type   string    `json:"type"`
	Amount int64     `json:"amount"` // always positive; sign comes from type
	Status string    `json:"status"`

	// Reference passed to / received from the payment gateway. For internal
	// movements (escrow hold/release/refund) this carries the booking or
	// escrow reference instead.
	GatewayTxnRef       string  `json:"gateway_txn_ref"`
	GatewayTxID         *string `json:"gateway_tx_id,omitempty"`
	GatewayResponseCode *string `json:"gateway_response_code,omitempty"`

	Description *string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceDelta returns the signed contribution of a transaction to its
// owner's balance. Only success rows count toward the balance; callers filter
// by status before applying this.
func BalanceDelta(txType string, amount int64) int64 {
	switch txType {
	case TxTypeDeposit, TxTypeRefund:
		return amount
	case TxTypeWithdraw, TxTypePayment:
		return -amount
	}
	return 0
}

func IsTerminalTxStatus(status string) bool {
	return status == TxStatusSuccess || status == TxStatusFailed || status == TxStatusCancelled
}
