// Package checkout ships the hosted-checkout gateway: the customer is
// redirected to the provider's payment page and settlement arrives later as a
// signed webhook.
package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"hostpanel/pkg/plugin"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const signatureHeader = "X-Checkout-Signature"

// Gateway implements the gateway contract for a hosted checkout provider.
type Gateway struct {
	mu            sync.RWMutex
	endpoint      string
	apiKey        string
	webhookSecret string
}

// New returns an unconfigured hosted-checkout gateway.
func New() *Gateway { return &Gateway{} }

// Manifest implements plugin.Manifested.
func (*Gateway) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "checkout",
		Name:        "Hosted Checkout",
		Version:     "1.2.0",
		Description: "Redirect customers to a hosted payment page and settle via signed webhooks.",
		Author:      "hostpanel",
		Type:        plugin.TypeGateway,
		Shipped:     true,
	}
}

// ProviderKey implements plugin.GatewayPlugin.
func (*Gateway) ProviderKey() string { return "hosted-checkout" }

// Configure implements plugin.Configurable.
func (g *Gateway) Configure(cfg map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoint = stringValue(cfg, "endpoint")
	g.apiKey = stringValue(cfg, "apiKey")
	g.webhookSecret = stringValue(cfg, "webhookSecret")
	return nil
}

// SettingsSchema implements plugin.SettingsProvider.
func (*Gateway) SettingsSchema() []plugin.SettingsField {
	return []plugin.SettingsField{
		{ConfigField: plugin.ConfigField{Key: "endpoint", Label: "Checkout endpoint", Type: plugin.FieldString, Required: true}},
		{ConfigField: plugin.ConfigField{Key: "apiKey", Label: "API key", Type: plugin.FieldString, Required: true}, Secret: true},
		{ConfigField: plugin.ConfigField{Key: "webhookSecret", Label: "Webhook signing secret", Type: plugin.FieldString, Required: true}, Secret: true},
	}
}

// Issues implements plugin.IssueReporter.
func (g *Gateway) Issues(_ context.Context) ([]plugin.Issue, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var issues []plugin.Issue
	if g.endpoint == "" || g.apiKey == "" {
		issues = append(issues, plugin.Issue{
			Message:  "endpoint and apiKey must be configured before payments can start",
			Severity: plugin.IssueError,
		})
	}
	if g.webhookSecret == "" {
		issues = append(issues, plugin.Issue{
			Message:  "webhookSecret is not set; settlement webhooks will be ignored",
			Severity: plugin.IssueWarning,
		})
	}
	return issues, nil
}

// ProcessPayment builds the redirect to the hosted payment page.
func (g *Gateway) ProcessPayment(_ context.Context, req plugin.PaymentRequest) (*plugin.PaymentResult, error) {
	g.mu.RLock()
	endpoint, apiKey := g.endpoint, g.apiKey
	g.mu.RUnlock()
	if endpoint == "" || apiKey == "" {
		return nil, errors.New("hosted checkout is not configured: set endpoint and apiKey in the plugin settings")
	}
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid checkout endpoint: %w", err)
	}
	q := target.Query()
	q.Set("invoice", req.InvoiceID)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("currency", req.Currency)
	if req.ReturnURL != "" {
		q.Set("return_url", req.ReturnURL)
	}
	if req.CancelURL != "" {
		q.Set("cancel_url", req.CancelURL)
	}
	target.RawQuery = q.Encode()
	return &plugin.PaymentResult{RedirectURL: target.String()}, nil
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		InvoiceID string `json:"invoice_id"`
	} `json:"data"`
}

// HandleWebhook verifies the HMAC over the raw body and normalises the event.
// Every failure path resolves to nil: webhook callers are unauthenticated and
// learn nothing about why a delivery was rejected.
func (g *Gateway) HandleWebhook(_ context.Context, payload plugin.WebhookPayload) (*plugin.WebhookResult, error) {
	g.mu.RLock()
	secret := g.webhookSecret
	g.mu.RUnlock()
	if secret == "" {
		return nil, nil
	}
	provided, err := hex.DecodeString(payload.Headers.Get(signatureHeader))
	if err != nil || len(provided) == 0 {
		return nil, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload.Body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return nil, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload.Body, &event); err != nil {
		return nil, nil
	}
	if event.Data.InvoiceID == "" {
		return nil, nil
	}
	switch event.Type {
	case "checkout.session.completed":
		return &plugin.WebhookResult{InvoiceID: event.Data.InvoiceID, Paid: true}, nil
	case "checkout.session.expired":
		return &plugin.WebhookResult{InvoiceID: event.Data.InvoiceID, Paid: false}, nil
	default:
		return nil, nil
	}
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
