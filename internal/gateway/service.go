package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "hostpanel/internal/errors"
	"hostpanel/internal/events"
	"hostpanel/pkg/plugin"
)

// Resolver is the slice of the plugin registry the gateway path needs.
type Resolver interface {
	Gateway(id string) plugin.GatewayPlugin
}

// PaymentAttempt is the host-side record of one initiated payment.
type PaymentAttempt struct {
	ID       string                `json:"id"`
	PluginID string                `json:"pluginId"`
	Invoice  string                `json:"invoiceId"`
	Result   *plugin.PaymentResult `json:"result"`
}

// Service drives the payment invocation path: start a payment through an
// enabled gateway plugin, and ingest asynchronous webhooks into normalised
// settlement results.
type Service struct {
	resolver Resolver
	dedup    DedupStore
	bus      events.Bus
	dedupTTL time.Duration
	log      *slog.Logger
}

// NewService wires the gateway path. dedup and bus may not be nil; use the
// memory implementations for single-node deployments.
func NewService(resolver Resolver, dedup DedupStore, bus events.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		resolver: resolver,
		dedup:    dedup,
		bus:      bus,
		dedupTTL: 48 * time.Hour,
		log:      log,
	}
}

// StartPayment asks the gateway plugin to initiate a payment and enforces the
// exactly-one-outcome contract on the result. Plugin errors pass through with
// their message intact; they are operator-facing.
func (s *Service) StartPayment(ctx context.Context, pluginID string, req plugin.PaymentRequest) (*PaymentAttempt, error) {
	if strings.TrimSpace(req.InvoiceID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payment request requires an invoice id")
	}
	if req.Amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payment amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payment request requires a currency")
	}
	gw := s.resolver.Gateway(pluginID)
	if gw == nil {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "no enabled gateway plugin %s", pluginID)
	}
	result, err := gw.ProcessPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.OutcomeCount() != 1 {
		return nil, xerrors.Newf(xerrors.CodeGatewayFailure,
			"gateway %s returned %d payment outcomes, expected exactly one", pluginID, result.OutcomeCount())
	}
	attempt := &PaymentAttempt{
		ID:       uuid.NewString(),
		PluginID: pluginID,
		Invoice:  req.InvoiceID,
		Result:   result,
	}
	s.publish(ctx, events.New(events.TypePaymentInitiated, map[string]any{
		"attemptId": attempt.ID,
		"pluginId":  pluginID,
		"invoiceId": req.InvoiceID,
		"amount":    req.Amount,
		"currency":  req.Currency,
	}))
	return attempt, nil
}

// IngestWebhook forwards a raw webhook delivery to the gateway plugin and
// interprets the outcome. A nil result (unrecognised event, failed
// verification, plugin without webhook support) is a no-op; the caller must
// acknowledge generically either way so nothing leaks to unauthenticated
// senders. Replayed settlement events are recognised through the dedup store
// and not re-published.
func (s *Service) IngestWebhook(ctx context.Context, pluginID string, payload plugin.WebhookPayload) (*plugin.WebhookResult, error) {
	gw := s.resolver.Gateway(pluginID)
	if gw == nil {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "no enabled gateway plugin %s", pluginID)
	}
	handler, ok := gw.(plugin.WebhookHandler)
	if !ok {
		return nil, nil
	}
	result, err := handler.HandleWebhook(ctx, payload)
	if err != nil {
		// Plugins are expected to resolve verification failures to nil
		// themselves; an error here is an internal plugin problem and is
		// degraded to a no-op for the caller.
		s.log.Warn("webhook handler failed", "plugin", pluginID, "error", err)
		return nil, nil
	}
	if result == nil {
		return nil, nil
	}

	first, err := s.dedup.FirstDelivery(ctx, s.dedupKey(pluginID, result, payload), s.dedupTTL)
	if err != nil {
		// Fail open: the invoice layer enforces settlement idempotence, the
		// dedup store only spares it redundant work.
		s.log.Warn("webhook dedup degraded", "plugin", pluginID, "error", err)
		first = true
	}
	if !first {
		s.log.Info("duplicate webhook delivery ignored", "plugin", pluginID, "invoice", result.InvoiceID)
		return result, nil
	}
	s.publish(ctx, events.New(events.TypePaymentSettled, map[string]any{
		"pluginId":  pluginID,
		"invoiceId": result.InvoiceID,
		"paid":      result.Paid,
	}))
	return result, nil
}

func (s *Service) dedupKey(pluginID string, result *plugin.WebhookResult, payload plugin.WebhookPayload) string {
	digest := sha256.Sum256(payload.Body)
	return fmt.Sprintf("%s:%s:%s", pluginID, result.InvoiceID, hex.EncodeToString(digest[:8]))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("event publish failed", "type", event.Type, "error", err)
	}
}
