// Package server exposes the component state service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txn2/component-state/pkg/admin"
	"github.com/txn2/component-state/pkg/collector"
	"github.com/txn2/component-state/pkg/componentstate"
	"github.com/txn2/component-state/pkg/health"
	cshttp "github.com/txn2/component-state/pkg/http"
	"github.com/txn2/component-state/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	maxBodyBytes      = 1 << 20
	maxEventWait      = 30 * time.Second
)

// Components is the subset of the component manager served over HTTP.
type Components interface {
	Create(ctx context.Context, msg componentstate.MessageRef, cc componentstate.CorrelationContext, opts ...componentstate.CreateOption) (componentstate.ComponentState, error)
	Update(ctx context.Context, id string, partial componentstate.Data, correlationID string) (componentstate.ComponentState, error)
	UpdateForUser(ctx context.Context, userID, id string, partial componentstate.Data, correlationID string) (componentstate.ComponentState, error)
	Get(id string) (componentstate.ComponentState, bool)
	UserSessions(userID string) []componentstate.ComponentState
}

// Collectors delivers user input to the collector of a message and reads
// it back for the owning component.
type Collectors interface {
	Dispatch(messageID string, ev collector.Event) error
	Poll(ctx context.Context, h componentstate.CollectorHandle, limit int, wait time.Duration) ([]collector.Event, bool, error)
}

// Options configures the HTTP handler.
type Options struct {
	Components Components
	Collectors Collectors
	Health     *health.Checker

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	// Admin is mounted under /api/v1/admin/ when non-nil.
	Admin http.Handler

	// EnforceOwnership restricts updates to the component owner even when
	// no X-User-ID header is sent.
	EnforceOwnership bool

	Logger *slog.Logger
}

// Handler serves the component state API.
type Handler struct {
	mux  *http.ServeMux
	opts Options
}

// NewHandler creates the HTTP handler.
func NewHandler(opts Options) http.Handler {
	h := &Handler{mux: http.NewServeMux(), opts: opts}
	h.registerRoutes()

	var handler http.Handler = h.mux
	handler = cshttp.RequestLogger(opts.Logger)(handler)
	handler = cshttp.IdentityMiddleware()(handler)
	return handler
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/v1/components", h.createComponent)
	h.mux.HandleFunc("GET /api/v1/components/{id}", h.getComponent)
	h.mux.HandleFunc("PATCH /api/v1/components/{id}", h.updateComponent)
	h.mux.HandleFunc("GET /api/v1/users/{userID}/components", h.listUserComponents)
	if h.opts.Collectors != nil {
		h.mux.HandleFunc("POST /api/v1/messages/{messageID}/events", h.dispatchEvent)
		h.mux.HandleFunc("GET /api/v1/components/{id}/events", h.pollEvents)
	}

	if h.opts.Health != nil {
		h.mux.HandleFunc("GET /healthz", h.opts.Health.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.opts.Health.ReadinessHandler())
	}
	if h.opts.Metrics != nil {
		path := h.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		h.mux.Handle("GET "+path, h.opts.Metrics)
	}
	if h.opts.Admin != nil {
		h.mux.Handle("/api/v1/admin/", h.opts.Admin)
	}
}

// NewWithConfig loads the config file and builds the platform and its
// HTTP server. The caller starts the platform before serving.
func NewWithConfig(configPath string) (*platform.Platform, *http.Server, error) {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return NewWithPlatformConfig(cfg)
}

// NewWithPlatformConfig builds the platform and its HTTP server from cfg.
func NewWithPlatformConfig(cfg *platform.Config) (*platform.Platform, *http.Server, error) {
	p, err := platform.New(platform.WithConfig(cfg), platform.WithVersion(Version))
	if err != nil {
		return nil, nil, fmt.Errorf("creating platform: %w", err)
	}
	return p, New(p), nil
}

// New builds an http.Server serving p.
func New(p *platform.Platform) *http.Server {
	cfg := p.Config()
	opts := Options{
		Components:       p.Manager(),
		Collectors:       p.Collectors(),
		Health:           p.Health(),
		MetricsPath:      cfg.Metrics.Path,
		EnforceOwnership: cfg.Components.EnforceOwnership,
		Admin:            newAdminHandler(p),
	}
	if exp := p.Metrics(); exp != nil {
		opts.Metrics = exp.Handler()
	}

	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// newAdminHandler returns nil when no admin key is configured.
func newAdminHandler(p *platform.Platform) http.Handler {
	auth := p.AdminAuthenticator()
	if auth == nil {
		return nil
	}

	deps := admin.Deps{Components: p.Manager()}
	if store := p.AuditStore(); store != nil {
		deps.AuditQuerier = store
		deps.AuditMetricsQuerier = store
	}
	return admin.NewHandler(deps, admin.RequireAdmin(auth))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// componentErrorStatus maps manager and collector errors to HTTP status codes.
func componentErrorStatus(err error) int {
	var ere *componentstate.ExternalResourceError
	switch {
	case errors.Is(err, componentstate.ErrComponentStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, componentstate.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, componentstate.ErrInvalidContext),
		errors.Is(err, collector.ErrMissingMessage):
		return http.StatusBadRequest
	case errors.Is(err, collector.ErrCollectorExists):
		return http.StatusConflict
	case errors.Is(err, collector.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &ere):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeComponentError(w http.ResponseWriter, err error) {
	status := componentErrorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("server: component operation failed", "error", err)
	}
	writeError(w, status, err.Error())
}
