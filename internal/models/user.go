package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleClient = "client"
	RoleWorker = "worker"
)

type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`

	// Denormalized balance; the wallet ledger is the source of truth and this
	// field is overwritten whenever reconciliation disagrees with the replay.
	CachedBalance int64 `json:"cached_balance"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// WorkerService is a worker's published offering for a catalog service.
type WorkerService struct {
	ID        uuid.UUID `json:"id"`
	WorkerID  uuid.UUID `json:"worker_id"`
	ServiceID uuid.UUID `json:"service_id"`
	Title     string    `json:"title"`
	UnitPrice int64     `json:"unit_price"`
	Currency  string    `json:"currency"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
