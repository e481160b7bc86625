package payment

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newTestGateway() *HMACGateway {
	return NewHMACGateway("https://pay.example/checkout", "MERCH01", "topsecret", "https://app.example/callback")
}

func TestBuildDepositURL(t *testing.T) {
	g := newTestGateway()
	userID := uuid.New()
	txnRef := uuid.NewString()

	u, err := url.Parse(g.BuildDepositURL(150000, userID, txnRef, "203.0.113.7"))
	if err != nil {
		t.Fatalf("built URL does not parse: %v", err)
	}

	q := u.Query()
	if got := q.Get("pay_amount"); got != "15000000" {
		t.Errorf("pay_amount = %q, want amount x100", got)
	}
	if got := q.Get("pay_txn_ref"); got != txnRef {
		t.Errorf("pay_txn_ref = %q, want %q", got, txnRef)
	}
	if !strings.Contains(q.Get("pay_order_info"), userID.String()) {
		t.Error("pay_order_info should reference the user")
	}
	if q.Get("pay_secure_hash") == "" {
		t.Error("URL must carry a secure hash")
	}
}

func TestVerifyCallbackRoundTrip(t *testing.T) {
	g := newTestGateway()
	txnRef := uuid.NewString()

	params := map[string]string{
		"pay_amount":         "10000000",
		"pay_txn_ref":        txnRef,
		"pay_response_code":  "00",
		"pay_transaction_no": "GW123456",
	}
	params["pay_secure_hash"] = g.sign(canonicalQuery(params))

	res, err := g.VerifyCallback(params)
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if !res.IsSuccess {
		t.Error("response code 00 should be success")
	}
	if res.Amount != 100000 {
		t.Errorf("amount = %d, want 100000", res.Amount)
	}
	if res.TxnRef != txnRef || res.GatewayTxID != "GW123456" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyCallbackDeclined(t *testing.T) {
	g := newTestGateway()
	params := map[string]string{
		"pay_amount":        "5000000",
		"pay_txn_ref":       "ref-1",
		"pay_response_code": "24", // cancelled by user
	}
	params["pay_secure_hash"] = g.sign(canonicalQuery(params))

	res, err := g.VerifyCallback(params)
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if res.IsSuccess {
		t.Error("non-00 response code must not be success")
	}
}

func TestVerifyCallbackTamperedAmount(t *testing.T) {
	g := newTestGateway()
	params := map[string]string{
		"pay_amount":        "10000000",
		"pay_txn_ref":       "ref-2",
		"pay_response_code": "00",
	}
	params["pay_secure_hash"] = g.sign(canonicalQuery(params))
	params["pay_amount"] = "99900000000"

	if _, err := g.VerifyCallback(params); err == nil {
		t.Error("tampered params must fail signature verification")
	}
}

func TestVerifyCallbackMissingHash(t *testing.T) {
	g := newTestGateway()
	if _, err := g.VerifyCallback(map[string]string{"pay_txn_ref": "x"}); err == nil {
		t.Error("missing hash must fail")
	}
}
