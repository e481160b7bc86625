package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/apperr"
	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/payment"
	"github.com/services-marketplace/backend/internal/repositories"
)

func newWalletServiceForTest(fdb *fakeDB, gw payment.Gateway) (*WalletService, *fakePool, *fakePublisher) {
	pool := &fakePool{db: fdb}
	pub := &fakePublisher{}
	cfg := &config.Config{
		Currency:              "VND",
		MinDepositAmount:      10000,
		DepositPendingTimeout: 30 * time.Minute,
	}
	svc := NewWalletService(
		pool,
		repositories.NewWalletRepo(fdb),
		repositories.NewUserRepo(fdb),
		repositories.NewAuditRepo(fdb),
		gw,
		pub,
		cfg,
		zap.NewNop(),
	)
	return svc, pool, pub
}

func walletTxRow(id, userID uuid.UUID, txType string, amount int64, status, ref string) []any {
	now := time.Now()
	return []any{
		id, userID, txType, amount, status,
		ref, (*string)(nil), (*string)(nil), (*string)(nil),
		now, now,
	}
}

func TestConfirmDepositCallbackForgedRefLeavesForeignDeposit(t *testing.T) {
	owner := uuid.New()
	caller := uuid.New()
	fdb := &fakeDB{row: map[string][]any{
		"WHERE gateway_txn_ref": walletTxRow(uuid.New(), owner, models.TxTypeDeposit, 50000, models.TxStatusPending, "ref-a"),
	}}
	svc, _, _ := newWalletServiceForTest(fdb, &fakeGateway{err: errors.New("signature mismatch")})

	err := svc.ConfirmDepositCallback(context.Background(), caller, map[string]string{"pay_txn_ref": "ref-a"})
	if apperr.CodeOf(err) != apperr.CodeGatewayFailure {
		t.Fatalf("code = %s, want EXTERNAL_GATEWAY_FAILURE", apperr.CodeOf(err))
	}
	if n := fdb.count("UPDATE wallet_transactions"); n != 0 {
		t.Errorf("another user's deposit was mutated %d times, want 0", n)
	}
}

func TestConfirmDepositCallbackBadSignatureFailsOwnDeposit(t *testing.T) {
	owner := uuid.New()
	fdb := &fakeDB{row: map[string][]any{
		"WHERE gateway_txn_ref": walletTxRow(uuid.New(), owner, models.TxTypeDeposit, 50000, models.TxStatusPending, "ref-a"),
	}}
	svc, _, _ := newWalletServiceForTest(fdb, &fakeGateway{err: errors.New("signature mismatch")})

	err := svc.ConfirmDepositCallback(context.Background(), owner, map[string]string{"pay_txn_ref": "ref-a"})
	if apperr.CodeOf(err) != apperr.CodeGatewayFailure {
		t.Fatalf("code = %s, want EXTERNAL_GATEWAY_FAILURE", apperr.CodeOf(err))
	}
	if n := fdb.count("UPDATE wallet_transactions"); n != 1 {
		t.Errorf("own deposit should be marked failed exactly once, got %d updates", n)
	}
}

func TestConfirmDepositCallbackDuplicateIsNoOp(t *testing.T) {
	owner := uuid.New()
	fdb := &fakeDB{row: map[string][]any{
		"WHERE gateway_txn_ref": walletTxRow(uuid.New(), owner, models.TxTypeDeposit, 50000, models.TxStatusSuccess, "ref-a"),
	}}
	gw := &fakeGateway{result: &payment.CallbackResult{
		IsSuccess: true, TxnRef: "ref-a", ResponseCode: "00", Amount: 50000, GatewayTxID: "g-1",
	}}
	svc, _, pub := newWalletServiceForTest(fdb, gw)

	if err := svc.ConfirmDepositCallback(context.Background(), owner, map[string]string{"pay_txn_ref": "ref-a"}); err != nil {
		t.Fatalf("duplicate callback for a success row must succeed, got %v", err)
	}
	if n := fdb.count("UPDATE wallet_transactions"); n != 0 {
		t.Errorf("duplicate callback touched the ledger %d times, want 0", n)
	}
	if len(pub.published) != 0 {
		t.Errorf("duplicate callback published %d events, want 0", len(pub.published))
	}
}

func TestConfirmDepositCallbackCreditsOnce(t *testing.T) {
	owner := uuid.New()
	fdb := &fakeDB{row: map[string][]any{
		"WHERE gateway_txn_ref": walletTxRow(uuid.New(), owner, models.TxTypeDeposit, 50000, models.TxStatusPending, "ref-a"),
		"SELECT GREATEST":       {int64(50000)},
	}}
	gw := &fakeGateway{result: &payment.CallbackResult{
		IsSuccess: true, TxnRef: "ref-a", ResponseCode: "00", Amount: 50000, GatewayTxID: "g-1",
	}}
	svc, _, pub := newWalletServiceForTest(fdb, gw)

	if err := svc.ConfirmDepositCallback(context.Background(), owner, map[string]string{"pay_txn_ref": "ref-a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := fdb.count("UPDATE wallet_transactions"); n != 1 {
		t.Errorf("deposit must be confirmed exactly once, got %d updates", n)
	}
	if len(pub.published) != 1 || pub.published[0].Type != events.EventDepositConfirmed {
		t.Errorf("expected one deposit_confirmed event, got %v", pub.published)
	}
}

func TestRequestWithdrawLocksUserAndCommits(t *testing.T) {
	fdb := &fakeDB{row: map[string][]any{
		"SELECT GREATEST":                          {int64(100000)},
		"type = 'withdraw' AND status = 'pending'": {int64(0)},
		"INSERT INTO wallet_transactions":          {uuid.New(), time.Now(), time.Now()},
	}}
	svc, pool, _ := newWalletServiceForTest(fdb, &fakeGateway{})

	wtx, err := svc.RequestWithdraw(context.Background(), uuid.New(), 50000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wtx.Amount != 50000 || wtx.Type != models.TxTypeWithdraw {
		t.Errorf("unexpected transaction %+v", wtx)
	}
	if n := fdb.count("pg_advisory_xact_lock"); n != 1 {
		t.Errorf("withdraw must lock the user before the funds check, got %d locks", n)
	}
	if pool.tx == nil || !pool.tx.committed {
		t.Error("withdraw must commit its transaction")
	}
}

func TestRequestWithdrawInsufficientSpendable(t *testing.T) {
	// Balance 100000 but 60000 already pending: 50000 must be rejected.
	fdb := &fakeDB{row: map[string][]any{
		"SELECT GREATEST":                          {int64(100000)},
		"type = 'withdraw' AND status = 'pending'": {int64(60000)},
	}}
	svc, pool, _ := newWalletServiceForTest(fdb, &fakeGateway{})

	_, err := svc.RequestWithdraw(context.Background(), uuid.New(), 50000)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("code = %s, want VALIDATION", apperr.CodeOf(err))
	}
	if n := fdb.count("INSERT INTO wallet_transactions"); n != 0 {
		t.Errorf("rejected withdraw wrote %d ledger rows, want 0", n)
	}
	if pool.tx == nil || !pool.tx.rolledBack {
		t.Error("rejected withdraw must roll back")
	}
}
