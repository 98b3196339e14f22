// Package ethgateway ships the on-chain Ethereum gateway: the customer pays
// to a receiving address and settlement is confirmed by verifying the
// transaction receipt against the configured RPC node.
package ethgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"hostpanel/pkg/plugin"
)

const defaultConfirmations = 12

// Gateway implements the gateway contract for direct Ethereum payments.
type Gateway struct {
	mu             sync.RWMutex
	rpcURL         string
	receiveAddress string
	paymentPageURL string
	confirmations  uint64

	// dial is swappable for tests.
	dial func(ctx context.Context, rawURL string) (chainReader, error)
}

// chainReader is the slice of the RPC client webhook verification needs. The
// connection is per-delivery and must be released once verification is done,
// or websocket RPC URLs leak a live connection per webhook.
type chainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// New returns an unconfigured Ethereum gateway.
func New() *Gateway {
	return &Gateway{
		confirmations: defaultConfirmations,
		dial: func(ctx context.Context, rawURL string) (chainReader, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
	}
}

// Manifest implements plugin.Manifested.
func (*Gateway) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "ethereum",
		Name:        "Ethereum",
		Version:     "0.9.0",
		Description: "Accept ETH payments settled by on-chain confirmation.",
		Author:      "hostpanel",
		Type:        plugin.TypeGateway,
		Shipped:     true,
	}
}

// ProviderKey implements plugin.GatewayPlugin.
func (*Gateway) ProviderKey() string { return "ethereum" }

// Configure implements plugin.Configurable.
func (g *Gateway) Configure(cfg map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rpcURL = stringValue(cfg, "rpcUrl")
	g.receiveAddress = stringValue(cfg, "receiveAddress")
	g.paymentPageURL = stringValue(cfg, "paymentPageUrl")
	g.confirmations = defaultConfirmations
	if raw, ok := cfg["confirmations"]; ok {
		switch n := raw.(type) {
		case float64:
			if n >= 1 {
				g.confirmations = uint64(n)
			}
		case int:
			if n >= 1 {
				g.confirmations = uint64(n)
			}
		}
	}
	return nil
}

// SettingsSchema implements plugin.SettingsProvider.
func (*Gateway) SettingsSchema() []plugin.SettingsField {
	return []plugin.SettingsField{
		{ConfigField: plugin.ConfigField{Key: "rpcUrl", Label: "RPC node URL", Type: plugin.FieldString, Required: true}},
		{ConfigField: plugin.ConfigField{Key: "receiveAddress", Label: "Receiving address", Type: plugin.FieldString, Required: true}},
		{ConfigField: plugin.ConfigField{Key: "paymentPageUrl", Label: "Payment page URL", Type: plugin.FieldString, Required: true}},
		{ConfigField: plugin.ConfigField{Key: "confirmations", Label: "Required confirmations", Type: plugin.FieldNumber, Default: defaultConfirmations, Min: plugin.Float64(1), Max: plugin.Float64(64)}},
	}
}

// Issues implements plugin.IssueReporter.
func (g *Gateway) Issues(_ context.Context) ([]plugin.Issue, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var issues []plugin.Issue
	if g.rpcURL == "" || g.receiveAddress == "" || g.paymentPageURL == "" {
		issues = append(issues, plugin.Issue{
			Message:  "rpcUrl, receiveAddress and paymentPageUrl must be configured",
			Severity: plugin.IssueError,
		})
	} else if !common.IsHexAddress(g.receiveAddress) {
		issues = append(issues, plugin.Issue{
			Message:  "receiveAddress is not a valid Ethereum address",
			Severity: plugin.IssueError,
		})
	}
	return issues, nil
}

// ProcessPayment redirects the customer to the payment page with the payment
// parameters attached; the page drives the wallet interaction.
func (g *Gateway) ProcessPayment(_ context.Context, req plugin.PaymentRequest) (*plugin.PaymentResult, error) {
	g.mu.RLock()
	pageURL, receive := g.paymentPageURL, g.receiveAddress
	g.mu.RUnlock()
	if pageURL == "" || receive == "" {
		return nil, errors.New("ethereum gateway is not configured: set rpcUrl, receiveAddress and paymentPageUrl in the plugin settings")
	}
	target, err := url.Parse(pageURL)
	if err != nil {
		return nil, errors.New("ethereum gateway paymentPageUrl is not a valid URL")
	}
	q := target.Query()
	q.Set("invoice", req.InvoiceID)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("currency", req.Currency)
	q.Set("to", receive)
	target.RawQuery = q.Encode()
	return &plugin.PaymentResult{RedirectURL: target.String()}, nil
}

type txNotification struct {
	InvoiceID string `json:"invoice_id"`
	TxHash    string `json:"tx_hash"`
}

// HandleWebhook verifies the reported transaction on chain: the receipt must
// be successful, the transaction must pay the configured receiving address,
// and enough confirmations must have accumulated. Anything short of that is
// nil — either an irrelevant event or one to retry later once the chain has
// advanced.
func (g *Gateway) HandleWebhook(ctx context.Context, payload plugin.WebhookPayload) (*plugin.WebhookResult, error) {
	g.mu.RLock()
	rpcURL, receive, confirmations := g.rpcURL, g.receiveAddress, g.confirmations
	g.mu.RUnlock()
	if rpcURL == "" || !common.IsHexAddress(receive) {
		return nil, nil
	}
	var note txNotification
	if err := json.Unmarshal(payload.Body, &note); err != nil {
		return nil, nil
	}
	if note.InvoiceID == "" || !isTxHash(note.TxHash) {
		return nil, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := g.dial(dialCtx, rpcURL)
	if err != nil {
		return nil, nil
	}
	defer client.Close()
	hash := common.HexToHash(note.TxHash)
	receipt, err := client.TransactionReceipt(dialCtx, hash)
	if err != nil || receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}
	tx, pending, err := client.TransactionByHash(dialCtx, hash)
	if err != nil || pending || tx == nil || tx.To() == nil {
		return nil, nil
	}
	if *tx.To() != common.HexToAddress(receive) {
		return nil, nil
	}
	head, err := client.BlockNumber(dialCtx)
	if err != nil {
		return nil, nil
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined || head-mined+1 < confirmations {
		return nil, nil
	}
	return &plugin.WebhookResult{InvoiceID: note.InvoiceID, Paid: true}, nil
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func stringValue(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}
