package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the plugin core.
const (
	TypePaymentInitiated   = "payment.initiated"
	TypePaymentSettled     = "payment.settled"
	TypeServiceProvisioned = "service.provisioned"
	TypeServiceUpdated     = "service.updated"
	TypeServiceSuspended   = "service.suspended"
	TypeServiceResumed     = "service.resumed"
	TypeServiceDeleted     = "service.deleted"
	TypeRegistryReloaded   = "registry.reloaded"
)

// Event is one domain occurrence emitted for downstream consumers (billing
// jobs, notifications). The plugin core only publishes; it never consumes.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh id and the current timestamp.
func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Bus publishes events to whatever transport the deployment wired in.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryBus retains published events in a bounded ring, for dev deployments
// and tests.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemoryBus creates a bus retaining at most limit events.
func NewMemoryBus(limit int) *MemoryBus {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryBus{limit: limit}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if len(b.events) > b.limit {
		b.events = b.events[len(b.events)-b.limit:]
	}
	return nil
}

// Events returns a copy of the retained events.
func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Close implements Bus.
func (b *MemoryBus) Close() error { return nil }
