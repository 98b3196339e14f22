package plugin

import "fmt"

// FieldType enumerates the value kinds a configurable field can take.
type FieldType string

const (
	FieldNumber  FieldType = "number"
	FieldString  FieldType = "string"
	FieldBoolean FieldType = "boolean"
	FieldSelect  FieldType = "select"
)

// Option is one selectable value for a select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ConfigField describes one value a caller must supply per product/order when
// using a service plugin. Options and DynamicOptions are mutually exclusive:
// a dynamic field tells the host to fetch options through FieldOptions
// instead of using a static list.
type ConfigField struct {
	Key            string    `json:"key"`
	Label          string    `json:"label,omitempty"`
	Type           FieldType `json:"type"`
	Required       bool      `json:"required,omitempty"`
	Default        any       `json:"default,omitempty"`
	Options        []Option  `json:"options,omitempty"`
	DynamicOptions bool      `json:"dynamicOptions,omitempty"`
	Min            *float64  `json:"min,omitempty"`
	Max            *float64  `json:"max,omitempty"`
}

// SettingsField describes one value of the plugin's own settings. A Secret
// field is write-only: its value is never echoed back in plaintext after the
// initial write.
type SettingsField struct {
	ConfigField `yaml:",inline"`
	Secret      bool `json:"secret,omitempty"`
}

// Float64 is a convenience for building Min/Max bounds.
func Float64(v float64) *float64 { return &v }

// ValidateFields checks key uniqueness and the static/dynamic options
// exclusivity across one schema array.
func ValidateFields(fields []ConfigField) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("duplicate field key %q", f.Key)
		}
		seen[f.Key] = struct{}{}
		if f.DynamicOptions && len(f.Options) > 0 {
			return fmt.Errorf("field %q declares both static and dynamic options", f.Key)
		}
	}
	return nil
}

// ValidateValues checks a value map against a schema: required fields must be
// present, numbers must respect Min/Max, and static select values must be one
// of the declared options. Dynamic select fields are not checked against a
// list here because their options only exist upstream.
func ValidateValues(fields []ConfigField, values map[string]any) error {
	for _, f := range fields {
		v, ok := values[f.Key]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Key)
			}
			continue
		}
		switch f.Type {
		case FieldNumber:
			n, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("field %q must be a number", f.Key)
			}
			if f.Min != nil && n < *f.Min {
				return fmt.Errorf("field %q below minimum %v", f.Key, *f.Min)
			}
			if f.Max != nil && n > *f.Max {
				return fmt.Errorf("field %q above maximum %v", f.Key, *f.Max)
			}
		case FieldSelect:
			if f.DynamicOptions || len(f.Options) == 0 {
				continue
			}
			s := fmt.Sprintf("%v", v)
			found := false
			for _, opt := range f.Options {
				if opt.Value == s {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("field %q value %q is not an allowed option", f.Key, s)
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// IssueSeverity grades a reported issue.
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
	IssueInfo    IssueSeverity = "info"
)

// Issue is a live diagnostic a plugin reports about its own configuration or
// upstream health. Issues are recomputed on demand and never persisted.
type Issue struct {
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
	Details  string        `json:"details,omitempty"`
}
