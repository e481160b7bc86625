package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	WorkerServiceID uuid.UUID `json:"worker_service_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Quantity        int       `json:"quantity"`
	Note            *string   `json:"note,omitempty"`
}

type UpdateBookingStatusRequest struct {
	Status string `json:"status"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type RescheduleBookingRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type CreateDepositRequest struct {
	Amount int64 `json:"amount"`
}

type WithdrawRequest struct {
	Amount int64 `json:"amount"`
}
