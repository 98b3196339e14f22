package plugin

import (
	"strings"
	"testing"
)

func TestManifestValidate(t *testing.T) {
	if err := (Manifest{ID: "gw", Type: TypeGateway}).Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}
	if err := (Manifest{Type: TypeGateway}).Validate(); err == nil {
		t.Fatal("empty id must be rejected")
	}
	if err := (Manifest{ID: "x", Type: Type("theme")}).Validate(); err == nil {
		t.Fatal("unknown type must be rejected")
	}
}

func TestValidateFields(t *testing.T) {
	ok := []ConfigField{
		{Key: "node", Type: FieldSelect, DynamicOptions: true},
		{Key: "memory", Type: FieldNumber},
	}
	if err := ValidateFields(ok); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}

	dup := []ConfigField{{Key: "node", Type: FieldString}, {Key: "node", Type: FieldString}}
	if err := ValidateFields(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("duplicate keys must be rejected, got %v", err)
	}

	both := []ConfigField{{
		Key:            "node",
		Type:           FieldSelect,
		DynamicOptions: true,
		Options:        []Option{{Value: "a", Label: "a"}},
	}}
	if err := ValidateFields(both); err == nil {
		t.Fatal("static and dynamic options are mutually exclusive")
	}

	if err := ValidateFields([]ConfigField{{Type: FieldString}}); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestValidateValues(t *testing.T) {
	schema := []ConfigField{
		{Key: "node", Type: FieldSelect, Required: true, DynamicOptions: true},
		{Key: "plan", Type: FieldSelect, Options: []Option{{Value: "small", Label: "Small"}, {Value: "large", Label: "Large"}}},
		{Key: "memory", Type: FieldNumber, Min: Float64(256), Max: Float64(65536)},
	}

	if err := ValidateValues(schema, map[string]any{"node": "pve1", "plan": "small", "memory": 1024}); err != nil {
		t.Fatalf("valid values rejected: %v", err)
	}
	if err := ValidateValues(schema, map[string]any{"plan": "small"}); err == nil {
		t.Fatal("missing required field must be rejected")
	}
	if err := ValidateValues(schema, map[string]any{"node": "pve1", "memory": 128}); err == nil {
		t.Fatal("value below minimum must be rejected")
	}
	if err := ValidateValues(schema, map[string]any{"node": "pve1", "memory": 1 << 20}); err == nil {
		t.Fatal("value above maximum must be rejected")
	}
	if err := ValidateValues(schema, map[string]any{"node": "pve1", "memory": "lots"}); err == nil {
		t.Fatal("non-numeric value for a number field must be rejected")
	}
	if err := ValidateValues(schema, map[string]any{"node": "pve1", "plan": "medium"}); err == nil {
		t.Fatal("value outside the static options must be rejected")
	}
	// JSON decoding hands numbers over as float64.
	if err := ValidateValues(schema, map[string]any{"node": "pve1", "memory": float64(512)}); err != nil {
		t.Fatalf("float64 must be accepted for number fields: %v", err)
	}
	// Optional fields may be absent.
	if err := ValidateValues(schema, map[string]any{"node": "pve1"}); err != nil {
		t.Fatalf("absent optional fields must pass: %v", err)
	}
}

func TestPaymentResultOutcomeCount(t *testing.T) {
	cases := []struct {
		result *PaymentResult
		want   int
	}{
		{nil, 0},
		{&PaymentResult{}, 0},
		{&PaymentResult{RedirectURL: "https://pay.example/x"}, 1},
		{&PaymentResult{ClientSecret: "cs_123"}, 1},
		{&PaymentResult{Completed: true}, 1},
		{&PaymentResult{RedirectURL: "https://pay.example/x", Completed: true}, 2},
	}
	for _, tc := range cases {
		if got := tc.result.OutcomeCount(); got != tc.want {
			t.Fatalf("OutcomeCount(%+v) = %d, want %d", tc.result, got, tc.want)
		}
	}
}
