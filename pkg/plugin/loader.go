package plugin

import (
	"context"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"

	xerrors "hostpanel/internal/errors"
)

// Instance couples a validated plugin value with its manifest. Exactly one of
// Gateway and Service is non-nil, matching the manifest type.
type Instance struct {
	Manifest Manifest
	Gateway  GatewayPlugin
	Service  ServicePlugin
}

// Value returns the underlying plugin regardless of kind, for optional
// capability probing.
func (i *Instance) Value() any {
	if i == nil {
		return nil
	}
	if i.Gateway != nil {
		return i.Gateway
	}
	if i.Service != nil {
		return i.Service
	}
	return nil
}

// Loader resolves a plugin directory into a validated Instance.
type Loader interface {
	Load(dir string) (*Instance, error)
}

// entryPointCandidates lists the on-disk entry points a plugin directory may
// provide, in preference order. Exactly one must exist.
var entryPointCandidates = []string{
	filepath.Join("backend", "index.so"),
	"index.so",
}

// DiskLoader loads shared-object plugins through the Go plugin mechanism and
// structurally validates the exported value against its declared manifest
// type before it is trusted.
type DiskLoader struct{}

// Load implements Loader.
func (DiskLoader) Load(dir string) (*Instance, error) {
	entry, err := resolveEntryPoint(dir)
	if err != nil {
		return nil, err
	}
	so, err := goplugin.Open(entry)
	if err != nil {
		// The entry point exists but cannot be opened, which is a different
		// failure class than a missing one.
		return nil, xerrors.Wrap(xerrors.CodeUnloadableModule, err, "open plugin module "+entry)
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, xerrors.Newf(xerrors.CodeNoExport, "module %s exports no Plugin symbol", entry)
	}
	candidate := unwrapSymbol(symbol)
	if candidate == nil {
		return nil, xerrors.Newf(xerrors.CodeNoExport, "module %s exports a nil Plugin symbol", entry)
	}
	return Validate(candidate, dir)
}

func resolveEntryPoint(dir string) (string, error) {
	for _, rel := range entryPointCandidates {
		path := filepath.Join(dir, rel)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", xerrors.Newf(xerrors.CodeMissingEntryPoint, "no plugin entry point under %s", dir)
}

// unwrapSymbol accepts the symbol shapes a plugin module may export: the
// plugin value itself, a pointer to it, or a constructor.
func unwrapSymbol(symbol any) any {
	switch s := symbol.(type) {
	case func() any:
		return s()
	case *any:
		if s == nil {
			return nil
		}
		return *s
	default:
		return s
	}
}

// Validate structurally checks that a candidate value satisfies the
// capability set implied by its declared manifest type, and returns the typed
// instance. origin names the source of the candidate in error messages.
func Validate(candidate any, origin string) (*Instance, error) {
	m, ok := candidate.(Manifested)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeMissingManifest, "plugin at %s exposes no manifest", origin)
	}
	manifest := m.Manifest()
	if strings.TrimSpace(manifest.ID) == "" {
		return nil, xerrors.Newf(xerrors.CodeMissingManifest, "plugin at %s has a manifest without an id", origin)
	}

	switch manifest.Type {
	case TypeGateway:
		gw, ok := candidate.(GatewayPlugin)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeIncompleteGatewayContract,
				"gateway plugin %s is missing mandatory methods: %s",
				manifest.ID, strings.Join(missingGatewayMethods(candidate), ", "))
		}
		return &Instance{Manifest: manifest, Gateway: gw}, nil
	case TypeService:
		sp, ok := candidate.(ServicePlugin)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeIncompleteServiceContract,
				"service plugin %s is missing mandatory methods: %s",
				manifest.ID, strings.Join(missingServiceMethods(candidate), ", "))
		}
		return &Instance{Manifest: manifest, Service: sp}, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeUnknownPluginType,
			"plugin %s declares unknown type %q", manifest.ID, manifest.Type)
	}
}

func missingGatewayMethods(candidate any) []string {
	var missing []string
	if _, ok := candidate.(interface{ ProviderKey() string }); !ok {
		missing = append(missing, "ProviderKey")
	}
	if _, ok := candidate.(interface {
		ProcessPayment(context.Context, PaymentRequest) (*PaymentResult, error)
	}); !ok {
		missing = append(missing, "ProcessPayment")
	}
	return missing
}

func missingServiceMethods(candidate any) []string {
	var missing []string
	if _, ok := candidate.(interface{ ConfigFields() []ConfigField }); !ok {
		missing = append(missing, "ConfigFields")
	}
	if _, ok := candidate.(interface {
		Provision(context.Context, ProvisionRequest) (*ProvisionResult, error)
	}); !ok {
		missing = append(missing, "Provision")
	}
	return missing
}
