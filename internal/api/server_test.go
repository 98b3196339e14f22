package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"hostpanel/internal/events"
	"hostpanel/internal/gateway"
	"hostpanel/internal/provision"
	"hostpanel/pkg/plugin"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]plugin.State
}

func (s *memStore) Get(_ context.Context, id string) (plugin.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok, nil
}

func (s *memStore) Save(_ context.Context, id string, st plugin.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
	return nil
}

type testGateway struct{}

func (testGateway) Manifest() plugin.Manifest {
	return plugin.Manifest{ID: "testpay", Name: "Test Pay", Type: plugin.TypeGateway, Shipped: true}
}

func (testGateway) ProviderKey() string { return "test-pay" }

func (testGateway) ProcessPayment(_ context.Context, req plugin.PaymentRequest) (*plugin.PaymentResult, error) {
	return &plugin.PaymentResult{RedirectURL: "https://pay.example/" + req.InvoiceID}, nil
}

func (testGateway) SettingsSchema() []plugin.SettingsField {
	return []plugin.SettingsField{
		{ConfigField: plugin.ConfigField{Key: "endpoint", Type: plugin.FieldString}},
		{ConfigField: plugin.ConfigField{Key: "apiKey", Type: plugin.FieldString}, Secret: true},
	}
}

func (testGateway) HandleWebhook(_ context.Context, payload plugin.WebhookPayload) (*plugin.WebhookResult, error) {
	if payload.Headers.Get("X-Test-Signature") != "good" {
		return nil, nil
	}
	return &plugin.WebhookResult{InvoiceID: "inv-1", Paid: true}, nil
}

type testService struct{}

func (testService) Manifest() plugin.Manifest {
	return plugin.Manifest{ID: "testvm", Name: "Test VM", Type: plugin.TypeService, Shipped: true}
}

func (testService) ConfigFields() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: "node", Type: plugin.FieldSelect, Required: true, DynamicOptions: true},
		{Key: "memory", Type: plugin.FieldNumber, Min: plugin.Float64(256)},
	}
}

func (testService) Provision(_ context.Context, req plugin.ProvisionRequest) (*plugin.ProvisionResult, error) {
	node, _ := req.Config["node"].(string)
	return &plugin.ProvisionResult{ExternalID: "vm-" + node + "-101"}, nil
}

func (testService) FieldOptions(_ context.Context, fieldKey string, _ map[string]any) ([]plugin.Option, error) {
	if fieldKey != "node" {
		return nil, nil
	}
	return []plugin.Option{{Value: "pve1", Label: "pve1"}, {Value: "pve2", Label: "pve2"}}, nil
}

func (testService) SuspendService(context.Context, string) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry, err := plugin.New(
		plugin.Config{Store: &memStore{states: map[string]plugin.State{}}},
		plugin.WithBuiltins(testGateway{}, testService{}),
	)
	require.NoError(t, err)
	_, err = registry.Reload(context.Background())
	require.NoError(t, err)

	bus := events.NewMemoryBus(0)
	gateways := gateway.NewService(registry, gateway.NewMemoryDedup(), bus, nil)
	provisions := provision.NewService(registry, bus, nil)

	ts := httptest.NewServer(NewServer("", registry, gateways, provisions, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestListPlugins(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/plugins")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Plugins []struct {
			Manifest plugin.Manifest `json:"manifest"`
			Enabled  bool            `json:"enabled"`
		} `json:"plugins"`
		Failures []struct {
			Source string `json:"source"`
			Reason string `json:"reason"`
		} `json:"failures"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Plugins, 2)
	require.Empty(t, body.Failures)
	for _, p := range body.Plugins {
		require.False(t, p.Enabled, "plugins must start disabled")
	}
}

func TestGetPluginDetail(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/plugins/testvm")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Manifest     plugin.Manifest      `json:"manifest"`
		ConfigFields []plugin.ConfigField `json:"configFields"`
	}
	decode(t, resp, &detail)
	require.Equal(t, "testvm", detail.Manifest.ID)
	require.Len(t, detail.ConfigFields, 2)

	resp, err = http.Get(ts.URL + "/api/v1/plugins/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnableFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/gateways")
	require.NoError(t, err)
	var listing struct {
		Gateways []struct {
			ID          string `json:"id"`
			ProviderKey string `json:"providerKey"`
		} `json:"gateways"`
	}
	decode(t, resp, &listing)
	require.Empty(t, listing.Gateways, "disabled gateways must not be listed")

	resp = post(t, ts.URL+"/api/v1/plugins/testpay/enable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/v1/gateways")
	require.NoError(t, err)
	decode(t, resp, &listing)
	require.Len(t, listing.Gateways, 1)
	require.Equal(t, "test-pay", listing.Gateways[0].ProviderKey)

	resp = post(t, ts.URL+"/api/v1/plugins/nope/enable", "")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigRoundTripMasksSecrets(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/v1/plugins/testpay/config",
		strings.NewReader(`{"endpoint":"https://pay.example","apiKey":"sk_live_123"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Config map[string]any `json:"config"`
	}
	decode(t, resp, &body)
	require.Equal(t, plugin.Masked, body.Config["apiKey"])
	require.Equal(t, "https://pay.example", body.Config["endpoint"])

	resp, err = http.Get(ts.URL + "/api/v1/plugins/testpay/config")
	require.NoError(t, err)
	decode(t, resp, &body)
	require.Equal(t, plugin.Masked, body.Config["apiKey"])
}

func TestStartPaymentEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := post(t, ts.URL+"/api/v1/plugins/testpay/enable", "")
	resp.Body.Close()

	resp = post(t, ts.URL+"/api/v1/gateways/testpay/payments",
		`{"invoiceId":"inv-1","amount":1999,"currency":"EUR","userId":"u-1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var attempt struct {
		ID     string                `json:"id"`
		Result *plugin.PaymentResult `json:"result"`
	}
	decode(t, resp, &attempt)
	require.NotEmpty(t, attempt.ID)
	require.Equal(t, "https://pay.example/inv-1", attempt.Result.RedirectURL)

	resp = post(t, ts.URL+"/api/v1/gateways/testpay/payments", `{"invoiceId":"inv-1"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/gateways/testpay/payments", `not json`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpointIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	resp := post(t, ts.URL+"/api/v1/plugins/testpay/enable", "")
	resp.Body.Close()

	// A delivery that fails verification gets the same acknowledgment as one
	// that succeeds.
	for _, signature := range []string{"good", "forged"} {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/testpay", strings.NewReader(`{"event":"settled"}`))
		require.NoError(t, err)
		req.Header.Set("X-Test-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var ack map[string]any
		decode(t, resp, &ack)
		require.Equal(t, map[string]any{"received": true}, ack)
	}

	resp = post(t, ts.URL+"/webhooks/unknown", "{}")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProvisionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp := post(t, ts.URL+"/api/v1/plugins/testvm/enable", "")
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/services/testvm/capabilities")
	require.NoError(t, err)
	var caps provision.Capabilities
	decode(t, resp, &caps)
	require.True(t, caps.Suspend)
	require.False(t, caps.Update)

	resp = post(t, ts.URL+"/api/v1/services/testvm/provision",
		`{"serviceName":"web-1","pluginConfig":{"node":"pve1","memory":1024}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result plugin.ProvisionResult
	decode(t, resp, &result)
	require.Equal(t, "vm-pve1-101", result.ExternalID)

	resp = post(t, ts.URL+"/api/v1/services/testvm/provision", `{"pluginConfig":{"memory":1024}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing required field")

	resp = post(t, ts.URL+"/api/v1/services/testvm/actions/suspend", `{"externalId":"vm-pve1-101"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/services/testvm/actions/update", `{"externalId":"vm-pve1-101","config":{}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "unsupported capability")

	resp = post(t, ts.URL+"/api/v1/services/testvm/actions/suspend", `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "externalId is required")
}

func TestFieldOptionsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/plugins/testvm/fields/node/options?storage=local")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Options []plugin.Option `json:"options"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Options, 2)

	// Unknown fields degrade to an empty list rather than an error.
	resp, err = http.Get(ts.URL + "/api/v1/plugins/testvm/fields/ghost/options")
	require.NoError(t, err)
	decode(t, resp, &body)
	require.Empty(t, body.Options)
}

func TestIssuesEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/plugins/testpay/issues")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Issues []plugin.Issue `json:"issues"`
	}
	decode(t, resp, &body)
	require.NotNil(t, body.Issues)
	require.Empty(t, body.Issues)
}

func TestReloadEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/plugins/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Failures []any `json:"failures"`
	}
	decode(t, resp, &body)
	require.Empty(t, body.Failures)
}
