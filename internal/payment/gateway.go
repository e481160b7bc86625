package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gateway is the contract the wallet service consumes: build an outbound
// redirect URL for a deposit and verify the signed inbound callback. The real
// money movement happens on the gateway's side; we only reconcile.
type Gateway interface {
	BuildDepositURL(amount int64, userID uuid.UUID, txnRef string, clientIP string) string
	VerifyCallback(params map[string]string) (*CallbackResult, error)
}

type CallbackResult struct {
	IsSuccess    bool
	TxnRef       string
	ResponseCode string
	Amount       int64
	GatewayTxID  string
}

// Response code the gateway sends for an approved payment.
const responseCodeSuccess = "00"

// HMACGateway signs redirect URLs and verifies callbacks with HMAC-SHA512
// over the sorted, URL-encoded query string.
type HMACGateway struct {
	baseURL      string
	merchantCode string
	hashSecret   []byte
	returnURL    string
	now          func() time.Time
}

func NewHMACGateway(baseURL, merchantCode, hashSecret, returnURL string) *HMACGateway {
	return &HMACGateway{
		baseURL:      baseURL,
		merchantCode: merchantCode,
		hashSecret:   []byte(hashSecret),
		returnURL:    returnURL,
		now:          time.Now,
	}
}

func (g *HMACGateway) BuildDepositURL(amount int64, userID uuid.UUID, txnRef string, clientIP string) string {
	params := map[string]string{
		"pay_version":     "2.1.0",
		"pay_command":     "pay",
		"pay_merchant":    g.merchantCode,
		"pay_amount":      strconv.FormatInt(amount*100, 10), // minor units x100 per gateway convention
		"pay_txn_ref":     txnRef,
		"pay_order_info":  fmt.Sprintf("deposit:%s", userID),
		"pay_create_date": g.now().UTC().Format("20060102150405"),
		"pay_ip_addr":     clientIP,
		"pay_return_url":  g.returnURL,
	}

	query := canonicalQuery(params)
	return g.baseURL + "?" + query + "&pay_secure_hash=" + g.sign(query)
}

func (g *HMACGateway) VerifyCallback(params map[string]string) (*CallbackResult, error) {
	received := params["pay_secure_hash"]
	if received == "" {
		return nil, fmt.Errorf("missing pay_secure_hash")
	}

	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == "pay_secure_hash" || k == "pay_secure_hash_type" {
			continue
		}
		signed[k] = v
	}

	expected := g.sign(canonicalQuery(signed))
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	rawAmount, err := strconv.ParseInt(params["pay_amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pay_amount %q: %w", params["pay_amount"], err)
	}

	code := params["pay_response_code"]
	return &CallbackResult{
		IsSuccess:    code == responseCodeSuccess,
		TxnRef:       params["pay_txn_ref"],
		ResponseCode: code,
		Amount:       rawAmount / 100,
		GatewayTxID:  params["pay_transaction_no"],
	}, nil
}

func (g *HMACGateway) sign(query string) string {
	mac := hmac.New(sha512.New, g.hashSecret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery builds the deterministic key-sorted encoded query the
// signature covers. Empty values are excluded, matching gateway behavior.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
