package ethgateway

import (
	"context"
	"errors"
	"math/big"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hostpanel/pkg/plugin"
)

const (
	receiveAddr = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	otherAddr   = "0x1111111111111111111111111111111111111111"
	txHash      = "0x2c6a9b0343b7a3a4519a637dacb4726227a5566b1cbf5e3b4bdecdbb69d71c17"
)

// fakeChain serves a single transaction from memory.
type fakeChain struct {
	tx      *types.Transaction
	pending bool
	receipt *types.Receipt
	head    uint64
	err     error
	closes  int
}

func (c *fakeChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return c.tx, c.pending, c.err
}

func (c *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return c.receipt, c.err
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return c.head, c.err
}

func (c *fakeChain) Close() { c.closes++ }

func paymentTo(addr string) *types.Transaction {
	to := common.HexToAddress(addr)
	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(1e18),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
}

func settledChain() *fakeChain {
	return &fakeChain{
		tx:      paymentTo(receiveAddr),
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
		head:    120,
	}
}

func configured(t *testing.T, chain chainReader) *Gateway {
	t.Helper()
	g := New()
	err := g.Configure(map[string]any{
		"rpcUrl":         "http://127.0.0.1:8545",
		"receiveAddress": receiveAddr,
		"paymentPageUrl": "https://shop.example/pay/eth",
		"confirmations":  float64(12),
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	g.dial = func(context.Context, string) (chainReader, error) {
		if chain == nil {
			return nil, errors.New("node unreachable")
		}
		return chain, nil
	}
	return g
}

func notification() plugin.WebhookPayload {
	return plugin.WebhookPayload{Body: []byte(`{"invoice_id":"inv-1","tx_hash":"` + txHash + `"}`)}
}

func TestProcessPaymentRedirectsToPaymentPage(t *testing.T) {
	g := configured(t, nil)
	result, err := g.ProcessPayment(context.Background(), plugin.PaymentRequest{
		InvoiceID: "inv-1",
		Amount:    250000,
		Currency:  "EUR",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if result.OutcomeCount() != 1 || result.RedirectURL == "" {
		t.Fatalf("expected a redirect outcome, got %+v", result)
	}
	target, err := url.Parse(result.RedirectURL)
	if err != nil {
		t.Fatalf("redirect not a url: %v", err)
	}
	q := target.Query()
	if q.Get("invoice") != "inv-1" || q.Get("to") != receiveAddr {
		t.Fatalf("redirect incomplete: %s", result.RedirectURL)
	}
}

func TestProcessPaymentUnconfigured(t *testing.T) {
	if _, err := New().ProcessPayment(context.Background(), plugin.PaymentRequest{InvoiceID: "inv-1", Amount: 1, Currency: "EUR"}); err == nil {
		t.Fatal("unconfigured gateway must refuse payments")
	}
}

func TestHandleWebhookConfirmedPayment(t *testing.T) {
	chain := settledChain()
	g := configured(t, chain)
	result, err := g.HandleWebhook(context.Background(), notification())
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result == nil || result.InvoiceID != "inv-1" || !result.Paid {
		t.Fatalf("got %+v", result)
	}
	if chain.closes != 1 {
		t.Fatalf("rpc connection must be released after verification, closes=%d", chain.closes)
	}
}

func TestHandleWebhookReleasesConnectionOnRejection(t *testing.T) {
	for name, chain := range map[string]*fakeChain{
		"failed receipt": {receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}},
		"rpc error":      {err: errors.New("rpc: connection reset")},
	} {
		g := configured(t, chain)
		if result, err := g.HandleWebhook(context.Background(), notification()); result != nil || err != nil {
			t.Fatalf("%s: got %+v %v", name, result, err)
		}
		if chain.closes != 1 {
			t.Fatalf("%s: connection leaked, closes=%d", name, chain.closes)
		}
	}
}

func TestHandleWebhookRejectsSilently(t *testing.T) {
	ctx := context.Background()

	failed := settledChain()
	failed.receipt.Status = types.ReceiptStatusFailed

	wrongRecipient := settledChain()
	wrongRecipient.tx = paymentTo(otherAddr)

	unconfirmed := settledChain()
	unconfirmed.head = 105

	pending := settledChain()
	pending.pending = true

	cases := map[string]*fakeChain{
		"node unreachable":      nil,
		"failed receipt":        failed,
		"wrong recipient":       wrongRecipient,
		"too few confirmations": unconfirmed,
		"still pending":         pending,
		"rpc error":             {err: errors.New("rpc: connection reset")},
	}
	for name, chain := range cases {
		g := configured(t, chain)
		result, err := g.HandleWebhook(ctx, notification())
		if result != nil || err != nil {
			t.Fatalf("%s: must resolve to nil, got %+v %v", name, result, err)
		}
	}

	// Malformed notifications never reach the chain.
	g := configured(t, settledChain())
	for name, body := range map[string]string{
		"not json":        `junk`,
		"missing hash":    `{"invoice_id":"inv-1"}`,
		"bad hash":        `{"invoice_id":"inv-1","tx_hash":"0x123"}`,
		"missing invoice": `{"tx_hash":"` + txHash + `"}`,
	} {
		result, err := g.HandleWebhook(ctx, plugin.WebhookPayload{Body: []byte(body)})
		if result != nil || err != nil {
			t.Fatalf("%s: must resolve to nil, got %+v %v", name, result, err)
		}
	}
}

func TestConfirmationWindow(t *testing.T) {
	// Exactly at the boundary: mined in 100, head 111 gives 12 confirmations.
	chain := settledChain()
	chain.head = 111
	g := configured(t, chain)
	result, err := g.HandleWebhook(context.Background(), notification())
	if err != nil || result == nil {
		t.Fatalf("12th confirmation must settle: %+v %v", result, err)
	}

	chain.head = 110
	if result, _ := g.HandleWebhook(context.Background(), notification()); result != nil {
		t.Fatalf("11 confirmations must not settle: %+v", result)
	}
}

func TestIsTxHash(t *testing.T) {
	if !isTxHash(txHash) {
		t.Fatal("valid hash rejected")
	}
	for _, bad := range []string{"", "0x", "0x123", txHash[2:], txHash[:64] + "zz"} {
		if isTxHash(bad) {
			t.Fatalf("hash %q must be rejected", bad)
		}
	}
}

func TestIssuesValidateAddress(t *testing.T) {
	g := New()
	_ = g.Configure(map[string]any{
		"rpcUrl":         "http://127.0.0.1:8545",
		"receiveAddress": "not-an-address",
		"paymentPageUrl": "https://shop.example/pay/eth",
	})
	issues, err := g.Issues(context.Background())
	if err != nil || len(issues) != 1 {
		t.Fatalf("got %+v %v", issues, err)
	}
	if issues[0].Severity != plugin.IssueError {
		t.Fatalf("invalid address must be an error: %+v", issues[0])
	}
}
