// Package proxmox ships the service plugin provisioning QEMU virtual
// machines on a Proxmox VE cluster.
package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"hostpanel/pkg/plugin"
)

// Service implements the service contract against the Proxmox VE HTTP API.
// It supports suspend, resume and delete but not in-place updates; resizing a
// VM means reprovisioning.
type Service struct {
	mu     sync.RWMutex
	apiURL string
	token  string
	client *http.Client
}

// New returns an unconfigured Proxmox service plugin.
func New() *Service {
	return &Service{client: &http.Client{Timeout: 10 * time.Second}}
}

// Manifest implements plugin.Manifested.
func (*Service) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "proxmox",
		Name:        "Proxmox VE",
		Version:     "2.0.1",
		Description: "Provision QEMU virtual machines on a Proxmox VE cluster.",
		Author:      "hostpanel",
		Type:        plugin.TypeService,
		Shipped:     true,
	}
}

// Configure implements plugin.Configurable.
func (s *Service) Configure(cfg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiURL = strings.TrimRight(stringValue(cfg, "apiUrl"), "/")
	s.token = stringValue(cfg, "token")
	verify := true
	if v, ok := cfg["verifyTls"].(bool); ok {
		verify = v
	}
	transport := &http.Transport{}
	if !verify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	s.client = &http.Client{Timeout: 10 * time.Second, Transport: transport}
	return nil
}

// SettingsSchema implements plugin.SettingsProvider.
func (*Service) SettingsSchema() []plugin.SettingsField {
	return []plugin.SettingsField{
		{ConfigField: plugin.ConfigField{Key: "apiUrl", Label: "API base URL", Type: plugin.FieldString, Required: true}},
		{ConfigField: plugin.ConfigField{Key: "token", Label: "API token", Type: plugin.FieldString, Required: true}, Secret: true},
		{ConfigField: plugin.ConfigField{Key: "verifyTls", Label: "Verify TLS certificates", Type: plugin.FieldBoolean, Default: true}},
	}
}

// ConfigFields implements plugin.ServicePlugin. These are the per-product
// values: which node and storage to place the VM on and how large it is.
func (*Service) ConfigFields() []plugin.ConfigField {
	return []plugin.ConfigField{
		{Key: "node", Label: "Cluster node", Type: plugin.FieldSelect, Required: true, DynamicOptions: true},
		{Key: "storage", Label: "Storage pool", Type: plugin.FieldString, Required: true, Default: "local"},
		{Key: "memory", Label: "Memory (MiB)", Type: plugin.FieldNumber, Required: true, Min: plugin.Float64(256), Max: plugin.Float64(65536)},
		{Key: "disk", Label: "Disk (GiB)", Type: plugin.FieldNumber, Required: true, Min: plugin.Float64(5), Max: plugin.Float64(2000)},
	}
}

// Issues implements plugin.IssueReporter.
func (s *Service) Issues(_ context.Context) ([]plugin.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var issues []plugin.Issue
	if s.apiURL == "" || s.token == "" {
		issues = append(issues, plugin.Issue{
			Message:  "apiUrl and token must be configured before provisioning",
			Severity: plugin.IssueError,
		})
	}
	return issues, nil
}

// FieldOptions implements plugin.FieldOptionsProvider for the node field.
func (s *Service) FieldOptions(ctx context.Context, fieldKey string, _ map[string]any) ([]plugin.Option, error) {
	if fieldKey != "node" {
		return nil, nil
	}
	var listing struct {
		Data []struct {
			Node   string `json:"node"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := s.get(ctx, "/api2/json/nodes", &listing); err != nil {
		return nil, err
	}
	options := make([]plugin.Option, 0, len(listing.Data))
	for _, node := range listing.Data {
		label := node.Node
		if node.Status != "" && node.Status != "online" {
			label = fmt.Sprintf("%s (%s)", node.Node, node.Status)
		}
		options = append(options, plugin.Option{Value: node.Node, Label: label})
	}
	return options, nil
}

// Provision creates the VM and returns an external id of the form
// vm-<node>-<vmid>, which carries everything later lifecycle calls need.
func (s *Service) Provision(ctx context.Context, req plugin.ProvisionRequest) (*plugin.ProvisionResult, error) {
	if err := s.requireSettings(); err != nil {
		return nil, err
	}
	node := fmt.Sprintf("%v", req.Config["node"])
	if node == "" || node == "<nil>" {
		return nil, errors.New("config field node is required")
	}
	var next struct {
		Data string `json:"data"`
	}
	if err := s.get(ctx, "/api2/json/cluster/nextid", &next); err != nil {
		return nil, fmt.Errorf("allocate vm id: %w", err)
	}
	vmid, err := strconv.Atoi(next.Data)
	if err != nil {
		return nil, fmt.Errorf("unexpected vm id %q from cluster", next.Data)
	}

	form := url.Values{}
	form.Set("vmid", strconv.Itoa(vmid))
	form.Set("name", sanitizeName(req.ServiceName))
	if mem, ok := numberValue(req.Config["memory"]); ok {
		form.Set("memory", strconv.Itoa(int(mem)))
	}
	if disk, ok := numberValue(req.Config["disk"]); ok {
		storage := fmt.Sprintf("%v", req.Config["storage"])
		form.Set("scsi0", fmt.Sprintf("%s:%d", storage, int(disk)))
	}
	if err := s.post(ctx, fmt.Sprintf("/api2/json/nodes/%s/qemu", node), form); err != nil {
		return nil, fmt.Errorf("create vm on node %s: %w", node, err)
	}
	return &plugin.ProvisionResult{
		ExternalID: fmt.Sprintf("vm-%s-%d", node, vmid),
		Metadata:   map[string]any{"node": node, "vmid": vmid},
	}, nil
}

// SuspendService implements plugin.ServiceSuspender by stopping the VM.
func (s *Service) SuspendService(ctx context.Context, externalID string) error {
	return s.vmAction(ctx, externalID, "status/stop")
}

// ResumeService implements plugin.ServiceResumer by starting the VM.
func (s *Service) ResumeService(ctx context.Context, externalID string) error {
	return s.vmAction(ctx, externalID, "status/start")
}

// DeleteService implements plugin.ServiceDeleter.
func (s *Service) DeleteService(ctx context.Context, externalID string) error {
	if err := s.requireSettings(); err != nil {
		return err
	}
	node, vmid, err := parseExternalID(externalID)
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("/api2/json/nodes/%s/qemu/%d", node, vmid), nil, nil)
}

func (s *Service) vmAction(ctx context.Context, externalID, action string) error {
	if err := s.requireSettings(); err != nil {
		return err
	}
	node, vmid, err := parseExternalID(externalID)
	if err != nil {
		return err
	}
	return s.post(ctx, fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/%s", node, vmid, action), nil)
}

func (s *Service) requireSettings() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiURL == "" || s.token == "" {
		return errors.New("proxmox plugin is not configured: set apiUrl and token in the plugin settings")
	}
	return nil
}

func parseExternalID(externalID string) (node string, vmid int, err error) {
	rest, ok := strings.CutPrefix(externalID, "vm-")
	if !ok {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	sep := strings.LastIndex(rest, "-")
	if sep <= 0 {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	vmid, err = strconv.Atoi(rest[sep+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	return rest[:sep], vmid, nil
}

func (s *Service) get(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

func (s *Service) post(ctx context.Context, path string, form url.Values) error {
	return s.do(ctx, http.MethodPost, path, form, nil)
}

func (s *Service) do(ctx context.Context, method, path string, form url.Values, out any) error {
	s.mu.RLock()
	base, token, client := s.apiURL, s.token, s.client
	s.mu.RUnlock()
	if base == "" || token == "" {
		return errors.New("proxmox plugin is not configured: set apiUrl and token in the plugin settings")
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "PVEAPIToken="+token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox api unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxmox api returned %s for %s", resp.Status, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ', r == '_', r == '.':
			return '-'
		default:
			return -1
		}
	}, name)
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "vm"
	}
	return cleaned
}

func stringValue(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
