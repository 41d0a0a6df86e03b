package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"order-hub/internal/auth"
	"order-hub/internal/cache"
	"order-hub/internal/inbox"
	"order-hub/internal/metrics"
	"order-hub/internal/orders"
	"order-hub/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	WhatsAppWebhook http.Handler
	Realtime        http.Handler
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository repo.Repository
	Redis      *cache.Redis
	Orders     *orders.Service
	Inbox      *inbox.Service
	Tokens     *auth.Tokens
}

// Config controls listening and error rendering.
type Config struct {
	Addr     string
	BasePath string
	// Production hides internal error messages from responses.
	Production bool
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
	production bool
}

// New creates the HTTP server with health, metrics, webhook, storefront and
// dashboard routes.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, deps Dependencies) *Server {
	server := &Server{
		logger:     logger.With("component", "http"),
		metrics:    metricRegistry,
		handlers:   handlers,
		deps:       deps,
		basePath:   normaliseBasePath(cfg.BasePath),
		production: cfg.Production,
	}

	server.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mountWithBasePath(server.basePath, server.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.handlers.WhatsAppWebhook != nil {
		mux.Handle("/webhook/whatsapp", s.handlers.WhatsAppWebhook)
	}
	if s.handlers.Realtime != nil {
		mux.Handle("GET /ws", s.handlers.Realtime)
	}

	mux.HandleFunc("POST /restaurants/{slug}/orders", s.handleCreateOrder)

	mux.Handle("GET /api/orders", s.authenticated(s.handleListOrders))
	mux.Handle("GET /api/orders/{id}", s.authenticated(s.handleGetOrder))
	mux.Handle("PATCH /api/orders/{id}/status", s.authenticated(s.handleSetOrderStatus))
	mux.Handle("POST /api/orders/{id}/assign", s.authenticated(s.handleAssignOrder))
	mux.Handle("POST /api/orders/{id}/cancel", s.authenticated(s.handleCancelOrder))

	mux.Handle("GET /api/conversations", s.authenticated(s.handleListConversations))
	mux.Handle("GET /api/conversations/{id}/messages", s.authenticated(s.handleListMessages))
	mux.Handle("POST /api/conversations/{id}/messages", s.authenticated(s.handleReply))
	mux.Handle("POST /api/conversations/{id}/read", s.authenticated(s.handleMarkRead))
	return mux
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if s.deps.Repository != nil {
		checks["database"] = "ok"
		if err := s.deps.Repository.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		}
	}
	if s.deps.Redis != nil {
		checks["redis"] = "ok"
		if err := s.deps.Redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
