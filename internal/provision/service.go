package provision

import (
	"context"
	"log/slog"
	"strings"

	xerrors "hostpanel/internal/errors"
	"hostpanel/internal/events"
	"hostpanel/pkg/plugin"
)

// Resolver is the slice of the plugin registry the provisioning path needs.
type Resolver interface {
	Service(id string) plugin.ServicePlugin
}

// Capabilities reports which optional lifecycle operations a service plugin
// implements, so callers can hide the actions a plugin cannot perform.
type Capabilities struct {
	Update  bool `json:"update"`
	Suspend bool `json:"suspend"`
	Resume  bool `json:"resume"`
	Delete  bool `json:"delete"`
}

// Service drives the provisioning invocation path. Every lifecycle call past
// Provision is keyed by the external id the plugin returned; the plugin never
// learns the host's own identifiers beyond what provisioning passed along.
type Service struct {
	resolver Resolver
	bus      events.Bus
	log      *slog.Logger
}

// NewService wires the provisioning path.
func NewService(resolver Resolver, bus events.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{resolver: resolver, bus: bus, log: log}
}

// Provision validates the caller-supplied config against the plugin's field
// schema and creates the external resource. Plugin errors pass through with
// their message intact; they typically tell the operator what to fix.
func (s *Service) Provision(ctx context.Context, pluginID string, req plugin.ProvisionRequest) (*plugin.ProvisionResult, error) {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return nil, err
	}
	fields, err := plugin.ConfigFieldsOf(sp)
	if err != nil {
		return nil, err
	}
	if err := plugin.ValidateValues(fields, req.Config); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid plugin config")
	}
	result, err := sp.Provision(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil || strings.TrimSpace(result.ExternalID) == "" {
		return nil, xerrors.Newf(xerrors.CodePluginFault, "service plugin %s provisioned without an external id", pluginID)
	}
	s.publish(ctx, events.New(events.TypeServiceProvisioned, map[string]any{
		"pluginId":   pluginID,
		"externalId": result.ExternalID,
		"productId":  req.ProductID,
		"userId":     req.UserID,
	}))
	return result, nil
}

// Update applies new configuration to a provisioned resource.
func (s *Service) Update(ctx context.Context, pluginID, externalID string, config map[string]any) error {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return err
	}
	updater, ok := sp.(plugin.ServiceUpdater)
	if !ok {
		return s.unsupported(pluginID, "update")
	}
	if err := updater.UpdateService(ctx, externalID, config); err != nil {
		return err
	}
	s.publishLifecycle(ctx, events.TypeServiceUpdated, pluginID, externalID)
	return nil
}

// Suspend pauses a provisioned resource.
func (s *Service) Suspend(ctx context.Context, pluginID, externalID string) error {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return err
	}
	suspender, ok := sp.(plugin.ServiceSuspender)
	if !ok {
		return s.unsupported(pluginID, "suspend")
	}
	if err := suspender.SuspendService(ctx, externalID); err != nil {
		return err
	}
	s.publishLifecycle(ctx, events.TypeServiceSuspended, pluginID, externalID)
	return nil
}

// Resume reactivates a suspended resource.
func (s *Service) Resume(ctx context.Context, pluginID, externalID string) error {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return err
	}
	resumer, ok := sp.(plugin.ServiceResumer)
	if !ok {
		return s.unsupported(pluginID, "resume")
	}
	if err := resumer.ResumeService(ctx, externalID); err != nil {
		return err
	}
	s.publishLifecycle(ctx, events.TypeServiceResumed, pluginID, externalID)
	return nil
}

// Delete destroys a provisioned resource.
func (s *Service) Delete(ctx context.Context, pluginID, externalID string) error {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return err
	}
	deleter, ok := sp.(plugin.ServiceDeleter)
	if !ok {
		return s.unsupported(pluginID, "delete")
	}
	if err := deleter.DeleteService(ctx, externalID); err != nil {
		return err
	}
	s.publishLifecycle(ctx, events.TypeServiceDeleted, pluginID, externalID)
	return nil
}

// CapabilitiesOf reports the optional lifecycle surface of a plugin.
func (s *Service) CapabilitiesOf(pluginID string) (Capabilities, error) {
	sp, err := s.resolve(pluginID)
	if err != nil {
		return Capabilities{}, err
	}
	_, update := sp.(plugin.ServiceUpdater)
	_, suspend := sp.(plugin.ServiceSuspender)
	_, resume := sp.(plugin.ServiceResumer)
	_, del := sp.(plugin.ServiceDeleter)
	return Capabilities{Update: update, Suspend: suspend, Resume: resume, Delete: del}, nil
}

func (s *Service) resolve(pluginID string) (plugin.ServicePlugin, error) {
	sp := s.resolver.Service(pluginID)
	if sp == nil {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "no enabled service plugin %s", pluginID)
	}
	return sp, nil
}

func (s *Service) unsupported(pluginID, action string) error {
	return xerrors.Newf(xerrors.CodeCapabilityUnsupported, "service plugin %s does not support %s", pluginID, action)
}

func (s *Service) publishLifecycle(ctx context.Context, eventType, pluginID, externalID string) {
	s.publish(ctx, events.New(eventType, map[string]any{
		"pluginId":   pluginID,
		"externalId": externalID,
	}))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("event publish failed", "type", event.Type, "error", err)
	}
}
