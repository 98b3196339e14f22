package plugin

import (
	"context"
	"net/http"
	"net/url"
)

// Manifested is the minimum surface every plugin export must provide.
type Manifested interface {
	Manifest() Manifest
}

// GatewayPlugin is the mandatory capability set of a payment plugin.
type GatewayPlugin interface {
	Manifested
	// ProviderKey returns the stable key checkout UIs use to select a
	// client-side integration for this gateway.
	ProviderKey() string
	// ProcessPayment starts a payment attempt and returns exactly one of the
	// three outcome shapes carried by PaymentResult.
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// ServicePlugin is the mandatory capability set of a provisioning plugin.
type ServicePlugin interface {
	Manifested
	// ConfigFields describes the per-product values a caller must supply
	// when provisioning through this plugin. Distinct from the plugin's own
	// settings schema.
	ConfigFields() []ConfigField
	// Provision creates the external resource and returns an identifier
	// sufficient for every later lifecycle call.
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
}

// Optional capabilities. The host probes for these with type assertions at
// the call site; a plugin that does not implement one simply never gets the
// corresponding call.

// Configurable receives the stored configuration blob after load and after
// every configuration update.
type Configurable interface {
	Configure(cfg map[string]any) error
}

// SettingsProvider exposes the plugin's own settings schema. Absence means
// the plugin has nothing to configure.
type SettingsProvider interface {
	SettingsSchema() []SettingsField
}

// IssueReporter reports live diagnostics. Results are never cached by the
// host; every call recomputes.
type IssueReporter interface {
	Issues(ctx context.Context) ([]Issue, error)
}

// FieldOptionsProvider serves options for fields marked DynamicOptions,
// scoped to the in-progress values of the other fields. Implementations must
// be side-effect free and safe to call repeatedly.
type FieldOptionsProvider interface {
	FieldOptions(ctx context.Context, fieldKey string, values map[string]any) ([]Option, error)
}

// WebhookHandler ingests a raw webhook delivery. A nil result means the event
// is not recognised or not relevant and must be treated as a no-op.
// Signature verification failures surface as nil, never as errors, so the
// unauthenticated webhook endpoint leaks nothing to callers.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error)
}

// ServiceUpdater applies new configuration to a provisioned resource.
type ServiceUpdater interface {
	UpdateService(ctx context.Context, externalID string, config map[string]any) error
}

// ServiceSuspender suspends a provisioned resource.
type ServiceSuspender interface {
	SuspendService(ctx context.Context, externalID string) error
}

// ServiceResumer resumes a suspended resource.
type ServiceResumer interface {
	ResumeService(ctx context.Context, externalID string) error
}

// ServiceDeleter destroys a provisioned resource.
type ServiceDeleter interface {
	DeleteService(ctx context.Context, externalID string) error
}

// PaymentRequest asks a gateway to start a payment attempt.
type PaymentRequest struct {
	InvoiceID string `json:"invoiceId"`
	// Amount is expressed in minor currency units.
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	UserID    string         `json:"userId"`
	ReturnURL string         `json:"returnUrl,omitempty"`
	CancelURL string         `json:"cancelUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PaymentResult carries exactly one of three outcome shapes: a browser
// redirect, a client secret for embedded confirmation, or synchronous
// completion. Returning none (or several) is a contract violation the host
// rejects.
type PaymentResult struct {
	RedirectURL  string `json:"redirectUrl,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Completed    bool   `json:"completed,omitempty"`
}

// OutcomeCount reports how many outcome shapes the result carries.
func (r *PaymentResult) OutcomeCount() int {
	if r == nil {
		return 0
	}
	n := 0
	if r.RedirectURL != "" {
		n++
	}
	if r.ClientSecret != "" {
		n++
	}
	if r.Completed {
		n++
	}
	return n
}

// WebhookPayload is the raw, unparsed request of a webhook delivery so each
// gateway can run its own signature verification over the exact bytes.
type WebhookPayload struct {
	Body    []byte
	Headers http.Header
	Query   url.Values
}

// WebhookResult is the normalised interpretation of a settlement event.
type WebhookResult struct {
	InvoiceID string `json:"invoiceId"`
	Paid      bool   `json:"paid"`
}

// ProvisionRequest asks a service plugin to create an external resource.
type ProvisionRequest struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	ServiceName string `json:"serviceName"`
	UserID      string `json:"userId"`
	// Config holds the values for the plugin's ConfigFields.
	Config   map[string]any `json:"pluginConfig"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProvisionResult identifies the created resource. ExternalID is the only
// key the host will ever pass back for lifecycle operations.
type ProvisionResult struct {
	ExternalID string         `json:"externalId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
