// Package balance ships the account-balance gateway: payments settle
// synchronously against the customer's credit balance, so there is no
// redirect and no webhook.
package balance

import (
	"context"

	"hostpanel/pkg/plugin"
)

// Gateway implements the gateway contract for balance payments.
type Gateway struct{}

// New returns the balance gateway.
func New() *Gateway { return &Gateway{} }

// Manifest implements plugin.Manifested.
func (*Gateway) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "balance",
		Name:        "Account Balance",
		Version:     "1.0.0",
		Description: "Pay invoices from the customer's prepaid balance.",
		Author:      "hostpanel",
		Type:        plugin.TypeGateway,
		Shipped:     true,
	}
}

// ProviderKey implements plugin.GatewayPlugin.
func (*Gateway) ProviderKey() string { return "balance" }

// ProcessPayment settles immediately. Whether the balance actually covers the
// invoice is decided by the invoice layer when it consumes the completed
// outcome; this gateway only reports the synchronous settlement shape.
func (*Gateway) ProcessPayment(_ context.Context, _ plugin.PaymentRequest) (*plugin.PaymentResult, error) {
	return &plugin.PaymentResult{Completed: true}, nil
}
