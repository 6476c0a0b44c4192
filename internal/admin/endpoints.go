// Package admin serves a read-only HTTP view of a running engine: its
// registrations, startup tasks, discovery results and metrics.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/xraph/corekit/internal/engine"
	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EndpointConfig configures the admin endpoints.
type EndpointConfig struct {
	PathPrefix      string            `json:"path_prefix"      yaml:"path_prefix"`
	AuthToken       string            `json:"auth_token"       yaml:"auth_token"`
	CacheMaxAge     int               `json:"cache_max_age"    yaml:"cache_max_age"`
	Headers         map[string]string `json:"headers"          yaml:"headers"`
	ResponseTimeout time.Duration     `json:"response_timeout" yaml:"response_timeout"`
}

// DefaultEndpointConfig returns default configuration for admin endpoints.
func DefaultEndpointConfig() *EndpointConfig {
	return &EndpointConfig{
		Headers:         make(map[string]string),
		ResponseTimeout: 10 * time.Second,
	}
}

// Handlers serves the admin endpoints for one engine.
type Handlers struct {
	engine *engine.Engine
	logger logger.Logger
	config *EndpointConfig
}

func NewHandlers(e *engine.Engine, l logger.Logger, config *EndpointConfig) *Handlers {
	if config == nil {
		config = DefaultEndpointConfig()
	}
	return &Handlers{engine: e, logger: logger.OrNoop(l), config: config}
}

// Router returns a chi router with every admin endpoint mounted under the
// configured prefix. Each request runs inside its own registry scope.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(ScopeMiddleware(h.engine.Registry(), h.logger))

	routes := func(r chi.Router) {
		r.Get("/healthz", h.wrapHandler(h.healthHandler))
		r.Get("/services", h.wrapHandler(h.servicesHandler))
		r.Get("/tasks", h.wrapHandler(h.tasksHandler))
		r.Get("/discovery", h.wrapHandler(h.discoveryHandler))
		r.Method(http.MethodGet, "/metrics", h.engine.Metrics().Handler())
	}
	if prefix := strings.TrimSuffix(h.config.PathPrefix, "/"); prefix != "" {
		r.Route(prefix, routes)
	} else {
		routes(r)
	}
	return r
}

func (h *Handlers) wrapHandler(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.setCommonHeaders(w)

		if !h.authenticateRequest(r) {
			h.sendError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if h.config.ResponseTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), h.config.ResponseTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		handler(w, r)
	}
}

func (h *Handlers) setCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if h.config.CacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", h.config.CacheMaxAge))
	} else {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}
	for key, value := range h.config.Headers {
		w.Header().Set(key, value)
	}
}

func (h *Handlers) authenticateRequest(r *http.Request) bool {
	if h.config.AuthToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == h.config.AuthToken
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Tasks     int       `json:"tasks"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handlers) healthHandler(w http.ResponseWriter, r *http.Request) {
	state := h.engine.State()
	resp := HealthResponse{
		Status:    "ok",
		State:     state.String(),
		Tasks:     len(h.engine.Tasks()),
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if state != engine.StateStarted {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	h.sendJSON(w, code, resp)
}

// ServiceInfo describes one registration.
type ServiceInfo struct {
	Key            string   `json:"key"`
	Lifetime       string   `json:"lifetime"`
	Implementation string   `json:"implementation"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Generic        bool     `json:"generic,omitempty"`
}

// Services lists the engine's registrations in registration order.
func Services(e *engine.Engine) []ServiceInfo {
	descs := e.Registry().Descriptors()
	out := make([]ServiceInfo, 0, len(descs))
	for _, d := range descs {
		info := ServiceInfo{
			Key:            d.Key.String(),
			Lifetime:       d.Lifetime.String(),
			Implementation: d.Implementation,
			Generic:        d.Generic,
		}
		for _, dep := range d.Dependencies {
			info.Dependencies = append(info.Dependencies, dep.String())
		}
		out = append(out, info)
	}
	return out
}

func (h *Handlers) servicesHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, Services(h.engine))
}

func (h *Handlers) tasksHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, h.engine.Tasks())
}

// ModuleInfo summarises a catalog module.
type ModuleInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Exports int    `json:"exports"`
	Scanned bool   `json:"scanned"`
}

// DiscoveryReport is the body of /discovery.
type DiscoveryReport struct {
	Modules      []ModuleInfo `json:"modules"`
	Repositories []string     `json:"repositories"`
	Skipped      []string     `json:"skipped"`
}

// Discovery summarises what the engine's finder saw.
func Discovery(e *engine.Engine) DiscoveryReport {
	finder := e.Finder()
	report := DiscoveryReport{
		Modules:      []ModuleInfo{},
		Repositories: []string{},
		Skipped:      []string{},
	}
	for _, m := range finder.Catalog().Modules() {
		report.Modules = append(report.Modules, ModuleInfo{
			Name:    m.Name,
			Version: m.Version,
			Exports: len(m.Exports),
			Scanned: finder.Eligible(m.Name),
		})
	}
	for _, key := range e.Repositories() {
		report.Repositories = append(report.Repositories, key.String())
	}
	for _, sk := range e.Skipped() {
		report.Skipped = append(report.Skipped, sk.String())
	}
	return report
}

func (h *Handlers) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, Discovery(h.engine))
}

func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode JSON response", logger.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Server runs the admin handlers on their own listener.
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

func NewServer(addr string, h *Handlers) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: h.logger,
	}
}

// Start listens in the background. Errors after startup are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin server listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", logger.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
