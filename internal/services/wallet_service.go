package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/apperr"
	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/payment"
	"github.com/services-marketplace/backend/internal/repositories"
)

// WalletService owns the append-only transaction ledger and the gateway
// deposit round trip. Balance is always derived by replaying success rows;
// users.cached_balance is overwritten whenever it disagrees.
type WalletService struct {
	pool       db.TxBeginner
	walletRepo *repositories.WalletRepo
	userRepo   *repositories.UserRepo
	auditRepo  *repositories.AuditRepo
	gateway    payment.Gateway
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletService(
	pool db.TxBeginner,
	walletRepo *repositories.WalletRepo,
	userRepo *repositories.UserRepo,
	auditRepo *repositories.AuditRepo,
	gateway payment.Gateway,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		pool:       pool,
		walletRepo: walletRepo,
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		gateway:    gateway,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

type DepositCreated struct {
	PaymentURL    string `json:"payment_url"`
	TransactionID string `json:"transaction_id"`
}

// CreateDeposit records a pending deposit and returns the gateway redirect
// URL. The pending row exists before the URL leaves this process, so a
// callback can never arrive for an unknown reference.
func (s *WalletService) CreateDeposit(ctx context.Context, userID uuid.UUID, amount int64, clientIP string) (*DepositCreated, error) {
	if amount < s.cfg.MinDepositAmount {
		return nil, apperr.Validation("deposit amount must be at least %d %s", s.cfg.MinDepositAmount, s.cfg.Currency)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	if !user.IsActive {
		return nil, apperr.Forbidden("user account is deactivated")
	}

	txnRef := uuid.NewString()
	desc := "wallet deposit via gateway"
	tx := &models.WalletTransaction{
		UserID:        userID,
		Type:          models.TxTypeDeposit,
		Amount:        amount,
		Status:        models.TxStatusPending,
		GatewayTxnRef: txnRef,
		Description:   &desc,
	}
	if err := s.walletRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	url := s.gateway.BuildDepositURL(amount, userID, txnRef, clientIP)

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "deposit_created",
		EntityType:  "wallet_transaction",
		EntityID:    &tx.ID,
		Meta:        map[string]any{"amount": amount, "txn_ref": txnRef},
	})

	return &DepositCreated{PaymentURL: url, TransactionID: txnRef}, nil
}

// ConfirmDepositCallback reconciles an inbound gateway callback. Repeated
// callbacks for an already-confirmed deposit succeed silently without
// touching the ledger again.
func (s *WalletService) ConfirmDepositCallback(ctx context.Context, userID uuid.UUID, params map[string]string) error {
	result, err := s.gateway.VerifyCallback(params)
	if err != nil {
		s.failOwnedPending(ctx, userID, params["pay_txn_ref"])
		return apperr.Wrap(apperr.CodeGatewayFailure, err, "callback verification failed")
	}

	tx, err := s.walletRepo.GetByTxnRef(ctx, result.TxnRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("transaction %s not found", result.TxnRef)
		}
		return err
	}
	if tx.UserID != userID {
		return apperr.Forbidden("transaction does not belong to this user")
	}
	if tx.Status == models.TxStatusSuccess {
		return nil
	}
	if models.IsTerminalTxStatus(tx.Status) {
		return apperr.StateConflict("transaction %s is already %s", tx.ID, tx.Status)
	}

	if result.IsSuccess && result.Amount != tx.Amount {
		_, _ = s.walletRepo.MarkTerminal(ctx, tx.ID, models.TxStatusFailed, &result.GatewayTxID, &result.ResponseCode)
		return apperr.GatewayFailure("callback amount %d does not match transaction amount %d", result.Amount, tx.Amount)
	}

	if !result.IsSuccess {
		_, _ = s.walletRepo.MarkTerminal(ctx, tx.ID, models.TxStatusFailed, &result.GatewayTxID, &result.ResponseCode)
		return apperr.GatewayFailure("gateway declined with code %s", result.ResponseCode)
	}

	updated, err := s.walletRepo.MarkTerminal(ctx, tx.ID, models.TxStatusSuccess, &result.GatewayTxID, &result.ResponseCode)
	if err != nil {
		return err
	}
	if !updated {
		// Concurrent duplicate callback finished first; success if it won.
		current, err := s.walletRepo.GetByID(ctx, tx.ID)
		if err != nil {
			return err
		}
		if current.Status == models.TxStatusSuccess {
			return nil
		}
		return apperr.StateConflict("transaction %s is already %s", tx.ID, current.Status)
	}

	s.reconcileBalance(ctx, userID)

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "deposit_confirmed",
		EntityType:  "wallet_transaction",
		EntityID:    &tx.ID,
		Meta:        map[string]any{"amount": tx.Amount, "gateway_tx_id": result.GatewayTxID},
	})
	_ = s.publisher.Publish(ctx, events.StreamWallet, events.Event{
		Type: events.EventDepositConfirmed,
		Payload: map[string]any{
			"user_id":        userID.String(),
			"transaction_id": tx.ID.String(),
			"amount":         tx.Amount,
		},
	})

	return nil
}

// GetBalance replays the ledger and repairs the cached balance on drift.
func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, apperr.NotFound("user %s not found", userID)
	}

	balance, err := s.walletRepo.CalculateBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user.CachedBalance != balance {
		if err := s.walletRepo.SetCachedBalance(ctx, userID, balance); err != nil {
			s.log.Warn("cached balance overwrite failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return balance, nil
}

// RequestWithdraw opens a pending withdrawal. Spendable funds exclude other
// pending withdrawals, and the check-then-insert runs under a per-user
// advisory lock so two concurrent requests cannot both pass the funds check.
func (s *WalletService) RequestWithdraw(ctx context.Context, userID uuid.UUID, amount int64) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, apperr.Validation("withdraw amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	walletTx := s.walletRepo.WithTx(tx)
	if err := walletTx.LockUser(ctx, userID); err != nil {
		return nil, err
	}

	balance, err := walletTx.CalculateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := walletTx.SumPendingWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance-pending < amount {
		return nil, apperr.Validation("insufficient funds: spendable %d, requested %d", balance-pending, amount)
	}

	desc := "withdrawal request"
	wtx := &models.WalletTransaction{
		UserID:        userID,
		Type:          models.TxTypeWithdraw,
		Amount:        amount,
		Status:        models.TxStatusPending,
		GatewayTxnRef: "withdraw:" + uuid.NewString(),
		Description:   &desc,
	}
	if err := walletTx.Create(ctx, wtx); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "withdraw_requested",
		EntityType:  "wallet_transaction",
		EntityID:    &wtx.ID,
		Meta:        map[string]any{"amount": amount},
	})

	return wtx, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error) {
	return s.walletRepo.ListByUser(ctx, userID, limit, offset)
}

// ExpireStalePendingDeposits cancels deposits whose gateway round trip was
// abandoned. Called by the background worker.
func (s *WalletService) ExpireStalePendingDeposits(ctx context.Context) {
	n, err := s.walletRepo.CancelStalePendingDeposits(ctx, s.cfg.DepositPendingTimeout)
	if err != nil {
		s.log.Error("stale deposit sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("cancelled stale pending deposits", zap.Int64("count", n))
	}
}

// failOwnedPending marks the caller's own pending transaction failed after a
// rejected callback. The ownership check runs before any mutation: a forged
// reference must not fail another user's deposit and block its real callback.
func (s *WalletService) failOwnedPending(ctx context.Context, userID uuid.UUID, txnRef string) {
	if txnRef == "" {
		return
	}
	tx, err := s.walletRepo.GetByTxnRef(ctx, txnRef)
	if err != nil || tx.UserID != userID {
		return
	}
	_, _ = s.walletRepo.MarkTerminal(ctx, tx.ID, models.TxStatusFailed, nil, nil)
}

func (s *WalletService) reconcileBalance(ctx context.Context, userID uuid.UUID) {
	balance, err := s.walletRepo.CalculateBalance(ctx, userID)
	if err != nil {
		s.log.Error("balance replay failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if err := s.walletRepo.SetCachedBalance(ctx, userID, balance); err != nil {
		s.log.Error("cached balance write failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
