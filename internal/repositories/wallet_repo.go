package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/models"
)

const walletTxColumns = `
	id, user_id, type, amount, status,
	gateway_txn_ref, gateway_tx_id, gateway_response_code, description,
	created_at, updated_at`

type WalletRepo struct {
	q db.Querier
}

func NewWalletRepo(q db.Querier) *WalletRepo {
	return &WalletRepo{q: q}
}

func (r *WalletRepo) WithTx(tx pgx.Tx) *WalletRepo {
	return &WalletRepo{q: tx}
}

func scanWalletTx(row pgx.Row, t *models.WalletTransaction) error {
	return row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status,
		&t.GatewayTxnRef, &t.GatewayTxID, &t.GatewayResponseCode, &t.Description,
		&t.CreatedAt, &t.UpdatedAt,
	)
}

func (r *WalletRepo) Create(ctx context.Context, t *models.WalletTransaction) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount, status, gateway_txn_ref, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, t.UserID, t.Type, t.Amount, t.Status, t.GatewayTxnRef, t.Description,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	if err := scanWalletTx(r.q.QueryRow(ctx, `SELECT`+walletTxColumns+` FROM wallet_transactions WHERE id = $1`, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *WalletRepo) GetByTxnRef(ctx context.Context, txnRef string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	if err := scanWalletTx(r.q.QueryRow(ctx, `SELECT`+walletTxColumns+` FROM wallet_transactions WHERE gateway_txn_ref = $1`, txnRef), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTerminal moves a pending transaction to a terminal status, attaching
// gateway metadata. The pending guard makes repeated gateway callbacks
// no-ops: the second call affects zero rows and the caller treats an
// already-success row as success.
func (r *WalletRepo) MarkTerminal(ctx context.Context, id uuid.UUID, status string, gatewayTxID, responseCode *string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $1,
		    gateway_tx_id = COALESCE($2, gateway_tx_id),
		    gateway_response_code = COALESCE($3, gateway_response_code),
		    updated_at = now()
		WHERE id = $4 AND status = 'pending'
	`, status, gatewayTxID, responseCode, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CalculateBalance replays the ledger: the sum over success rows of the
// signed amount per type, clamped at zero. This is the source of truth; the
// cached users.cached_balance column is a denormalization.
func (r *WalletRepo) CalculateBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `
		SELECT GREATEST(0, COALESCE(SUM(
			CASE WHEN type IN ('deposit', 'refund') THEN amount ELSE -amount END
		), 0))
		FROM wallet_transactions
		WHERE user_id = $1 AND status = 'success'
	`, userID).Scan(&balance)
	return balance, err
}

// LockUser serializes wallet check-then-insert sequences for one user via a
// transaction-scoped advisory lock.
func (r *WalletRepo) LockUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID)
	return err
}

// SumPendingWithdrawals is subtracted from the balance when checking
// spendable funds so an in-flight withdrawal cannot be double-spent.
func (r *WalletRepo) SumPendingWithdrawals(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		WHERE user_id = $1 AND type = 'withdraw' AND status = 'pending'
	`, userID).Scan(&sum)
	return sum, err
}

// SetCachedBalance overwrites the denormalized balance. Last-write-wins is
// safe here: every writer computes from the same immutable ledger.
func (r *WalletRepo) SetCachedBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	_, err := r.q.Exec(ctx, `UPDATE users SET cached_balance = $1 WHERE id = $2`, balance, userID)
	return err
}

func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.q.Query(ctx, `
		SELECT`+walletTxColumns+` FROM wallet_transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := scanWalletTx(rows, &t); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CancelStalePendingDeposits expires deposits whose gateway round trip was
// abandoned. Returns the number of rows cancelled.
func (r *WalletRepo) CancelStalePendingDeposits(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'cancelled', updated_at = now()
		WHERE type = 'deposit' AND status = 'pending'
		  AND created_at < now() - ($1 * interval '1 second')
	`, int(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
