package plugin

import (
	"context"
	"log/slog"

	xerrors "hostpanel/internal/errors"
)

// Masked replaces secret setting values on read paths. The real value stays
// in the store; only the echoed copy is redacted.
const Masked = "********"

// SettingsSchemaOf returns the settings schema of a plugin, or nil when the
// plugin has no configurable settings. A panicking schema method is treated
// as a plugin bug and surfaced as an error rather than swallowed.
func SettingsSchemaOf(p any) (fields []SettingsField, err error) {
	sp, ok := p.(SettingsProvider)
	if !ok {
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			fields = nil
			err = xerrors.Newf(xerrors.CodePluginFault, "settings schema panicked: %v", rec)
		}
	}()
	return sp.SettingsSchema(), nil
}

// ConfigFieldsOf returns the per-product config fields of a service plugin,
// converting a panic into a plugin-fault error.
func ConfigFieldsOf(sp ServicePlugin) (fields []ConfigField, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fields = nil
			err = xerrors.Newf(xerrors.CodePluginFault, "config fields panicked: %v", rec)
		}
	}()
	return sp.ConfigFields(), nil
}

// IssuesOf returns the live issues reported by a plugin. Plugins without the
// capability report no issues; a failing or panicking reporter degrades to an
// empty list so one broken plugin cannot take down an admin overview.
func IssuesOf(ctx context.Context, p any) []Issue {
	reporter, ok := p.(IssueReporter)
	if !ok {
		return []Issue{}
	}
	issues, err := func() (issues []Issue, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				issues, err = nil, xerrors.Newf(xerrors.CodePluginFault, "issue reporter panicked: %v", rec)
			}
		}()
		return reporter.Issues(ctx)
	}()
	if err != nil {
		slog.Warn("issue reporting degraded", "error", err)
		return []Issue{}
	}
	if issues == nil {
		return []Issue{}
	}
	return issues
}

// FieldOptionsOf fetches dynamic options for a field, passing the current
// in-progress values of the other fields as context. Missing capability,
// errors and panics all degrade to an empty list.
func FieldOptionsOf(ctx context.Context, p any, fieldKey string, values map[string]any) []Option {
	provider, ok := p.(FieldOptionsProvider)
	if !ok {
		return []Option{}
	}
	options, err := func() (options []Option, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				options, err = nil, xerrors.Newf(xerrors.CodePluginFault, "field options panicked: %v", rec)
			}
		}()
		return provider.FieldOptions(ctx, fieldKey, values)
	}()
	if err != nil {
		slog.Warn("field options degraded", "field", fieldKey, "error", err)
		return []Option{}
	}
	if options == nil {
		return []Option{}
	}
	return options
}

// MaskSecrets returns a copy of a config blob with every value whose settings
// field is marked secret replaced by the mask constant.
func MaskSecrets(p any, cfg map[string]any) map[string]any {
	out := cloneConfig(cfg)
	if out == nil {
		return nil
	}
	schema, err := SettingsSchemaOf(p)
	if err != nil || len(schema) == 0 {
		return out
	}
	for _, field := range schema {
		if !field.Secret {
			continue
		}
		if _, present := out[field.Key]; present {
			out[field.Key] = Masked
		}
	}
	return out
}
