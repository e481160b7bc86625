package events

import "context"

// Streams
const (
	StreamBooking = "events:booking"
	StreamWallet  = "events:wallet"
)

// Event types
const (
	EventBookingCreated       = "booking_created"
	EventBookingStatusChanged = "booking_status_changed"
	EventDepositConfirmed     = "deposit_confirmed"
	EventEscrowReleased       = "escrow_released"
	EventEscrowRefunded       = "escrow_refunded"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
