package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/models"
)

// UserRepo implements the user/service directory contract: existence and
// active checks for users and worker offerings. Profile CRUD lives elsewhere.
type UserRepo struct {
	q db.Querier
}

func NewUserRepo(q db.Querier) *UserRepo {
	return &UserRepo{q: q}
}

func (r *UserRepo) WithTx(tx pgx.Tx) *UserRepo {
	return &UserRepo{q: tx}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.q.QueryRow(ctx, `
		SELECT id, username, display_name, role, is_active, cached_balance, created_at, last_active_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.IsActive, &u.CachedBalance, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetActiveWorkerService returns an offering only when both the offering and
// its worker are active.
func (r *UserRepo) GetActiveWorkerService(ctx context.Context, id uuid.UUID) (*models.WorkerService, error) {
	var ws models.WorkerService
	err := r.q.QueryRow(ctx, `
		SELECT ws.id, ws.worker_id, ws.service_id, ws.title, ws.unit_price, ws.currency, ws.is_active, ws.created_at
		FROM worker_services ws
		JOIN users w ON w.id = ws.worker_id
		WHERE ws.id = $1 AND ws.is_active = true AND w.is_active = true
	`, id).Scan(&ws.ID, &ws.WorkerID, &ws.ServiceID, &ws.Title, &ws.UnitPrice, &ws.Currency, &ws.IsActive, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *UserRepo) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE users SET last_active_at = now() WHERE id = $1`, id)
	return err
}
