package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	xerrors "hostpanel/internal/errors"
	"hostpanel/pkg/plugin"
)

// maxWebhookBody bounds raw webhook reads; anything larger is not a
// legitimate provider notification.
const maxWebhookBody = 1 << 20

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

type pluginSummary struct {
	Manifest plugin.Manifest `json:"manifest"`
	Enabled  bool            `json:"enabled"`
}

type loadFailureView struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

type pluginDetail struct {
	Manifest       plugin.Manifest        `json:"manifest"`
	Enabled        bool                   `json:"enabled"`
	SettingsSchema []plugin.SettingsField `json:"settingsSchema,omitempty"`
	ConfigFields   []plugin.ConfigField   `json:"configFields,omitempty"`
	Config         map[string]any         `json:"config"`
}

type gatewayView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProviderKey string `json:"providerKey"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.All()
	plugins := make([]pluginSummary, 0, len(entries))
	for _, e := range entries {
		plugins = append(plugins, pluginSummary{Manifest: e.Manifest, Enabled: e.Enabled})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plugins":  plugins,
		"failures": failureViews(s.registry.Failures()),
	})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, ok := s.registry.ByID(id)
	if !ok {
		s.writeError(w, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id))
		return
	}
	inst, ok := s.registry.InstanceOf(id)
	if !ok {
		// A reload can retire the entry between the two lookups.
		s.writeError(w, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id))
		return
	}
	detail := pluginDetail{Manifest: entry.Manifest, Enabled: entry.Enabled}

	schema, err := plugin.SettingsSchemaOf(inst.Value())
	if err != nil {
		s.writeError(w, err)
		return
	}
	detail.SettingsSchema = schema
	if inst.Service != nil {
		fields, err := plugin.ConfigFieldsOf(inst.Service)
		if err != nil {
			s.writeError(w, err)
			return
		}
		detail.ConfigFields = fields
	}
	cfg, err := s.registry.Config(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	detail.Config = cfg
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := mux.Vars(r)["id"]
	var err error
	if enabled {
		err = s.registry.Enable(r.Context(), id)
	} else {
		err = s.registry.Disable(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	entry, _ := s.registry.ByID(id)
	writeJSON(w, http.StatusOK, pluginSummary{Manifest: entry.Manifest, Enabled: entry.Enabled})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.registry.Config(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode config body"))
		return
	}
	cfg, err := s.registry.UpdateConfig(r.Context(), mux.Vars(r)["id"], partial)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := s.registry.InstanceOf(id)
	if !ok {
		s.writeError(w, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": plugin.IssuesOf(r.Context(), inst.Value())})
}

func (s *Server) handleFieldOptions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	inst, ok := s.registry.InstanceOf(vars["id"])
	if !ok {
		s.writeError(w, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", vars["id"]))
		return
	}
	// The in-progress values of the other fields arrive as query params.
	values := make(map[string]any, len(r.URL.Query()))
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			values[key] = vals[0]
		}
	}
	options := plugin.FieldOptionsOf(r.Context(), inst.Value(), vars["key"], values)
	writeJSON(w, http.StatusOK, map[string]any{"options": options})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	failures, err := s.registry.Reload(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failureViews(failures)})
}

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways := s.registry.Gateways()
	views := make([]gatewayView, 0, len(gateways))
	for _, gw := range gateways {
		manifest := gw.Manifest()
		views = append(views, gatewayView{ID: manifest.ID, Name: manifest.Name, ProviderKey: gw.ProviderKey()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"gateways": views})
}

func (s *Server) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	var req plugin.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode payment request"))
		return
	}
	attempt, err := s.gateways.StartPayment(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read webhook body"))
		return
	}
	payload := plugin.WebhookPayload{Body: body, Headers: r.Header, Query: r.URL.Query()}
	if _, err := s.gateways.IngestWebhook(r.Context(), mux.Vars(r)["id"], payload); err != nil {
		s.writeError(w, err)
		return
	}
	// The acknowledgment is deliberately generic: webhook endpoints are
	// unauthenticated and must not reveal whether verification succeeded.
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := s.provisions.CapabilitiesOf(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req plugin.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode provision request"))
		return
	}
	result, err := s.provisions.Provision(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type serviceActionRequest struct {
	ExternalID string         `json:"externalId"`
	Config     map[string]any `json:"config,omitempty"`
}

func (s *Server) handleServiceAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req serviceActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode action request"))
		return
	}
	if req.ExternalID == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "externalId is required"))
		return
	}
	var err error
	switch vars["action"] {
	case "update":
		err = s.provisions.Update(r.Context(), vars["id"], req.ExternalID, req.Config)
	case "suspend":
		err = s.provisions.Suspend(r.Context(), vars["id"], req.ExternalID)
	case "resume":
		err = s.provisions.Resume(r.Context(), vars["id"], req.ExternalID)
	case "delete":
		err = s.provisions.Delete(r.Context(), vars["id"], req.ExternalID)
	default:
		err = xerrors.Newf(xerrors.CodeInvalidArgument, "unknown service action %q", vars["action"])
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func failureViews(failures []plugin.LoadFailure) []loadFailureView {
	views := make([]loadFailureView, 0, len(failures))
	for _, f := range failures {
		views = append(views, loadFailureView{Source: f.Source, Reason: f.Err.Error()})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
		if cause := e.Unwrap(); cause != nil {
			message = message + ": " + cause.Error()
		}
	}
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}

func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeCapabilityUnsupported:
		return http.StatusMethodNotAllowed
	case xerrors.CodeGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
