package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hostpanel/internal/gateway"
	"hostpanel/internal/provision"
	"hostpanel/pkg/plugin"
)

// Server exposes the admin and public REST surface over the plugin core.
type Server struct {
	addr       string
	registry   *plugin.Registry
	gateways   *gateway.Service
	provisions *provision.Service
	log        *slog.Logger
}

// NewServer constructs the API server.
func NewServer(addr string, registry *plugin.Registry, gateways *gateway.Service, provisions *provision.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:       addr,
		registry:   registry,
		gateways:   gateways,
		provisions: provisions,
		log:        log,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	admin := r.PathPrefix("/api/v1").Subrouter()
	admin.HandleFunc("/plugins", s.handleListPlugins).Methods(http.MethodGet)
	admin.HandleFunc("/plugins/reload", s.handleReload).Methods(http.MethodPost)
	admin.HandleFunc("/plugins/{id}", s.handleGetPlugin).Methods(http.MethodGet)
	admin.HandleFunc("/plugins/{id}/enable", s.handleEnable).Methods(http.MethodPost)
	admin.HandleFunc("/plugins/{id}/disable", s.handleDisable).Methods(http.MethodPost)
	admin.HandleFunc("/plugins/{id}/config", s.handleGetConfig).Methods(http.MethodGet)
	admin.HandleFunc("/plugins/{id}/config", s.handleUpdateConfig).Methods(http.MethodPatch)
	admin.HandleFunc("/plugins/{id}/issues", s.handleIssues).Methods(http.MethodGet)
	admin.HandleFunc("/plugins/{id}/fields/{key}/options", s.handleFieldOptions).Methods(http.MethodGet)

	// Checkout-facing surface.
	admin.HandleFunc("/gateways", s.handleListGateways).Methods(http.MethodGet)
	admin.HandleFunc("/gateways/{id}/payments", s.handleStartPayment).Methods(http.MethodPost)

	admin.HandleFunc("/services/{id}/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	admin.HandleFunc("/services/{id}/provision", s.handleProvision).Methods(http.MethodPost)
	admin.HandleFunc("/services/{id}/actions/{action}", s.handleServiceAction).Methods(http.MethodPost)

	r.HandleFunc("/webhooks/{id}", s.handleWebhook).Methods(http.MethodPost)
	return r
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
