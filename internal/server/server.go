// Package server exposes bias analysis over HTTP and live editing sessions
// over WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/cache"
	"github.com/raaihank/feedback-sentinel/internal/config"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"github.com/raaihank/feedback-sentinel/internal/security"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/raaihank/feedback-sentinel/internal/web"
	"github.com/raaihank/feedback-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

// AnalysisCache memoizes analyses by library version and text
type AnalysisCache interface {
	Get(ctx context.Context, version, text string) *cache.LookupResult
	Store(ctx context.Context, version, text string, analysis bias.Analysis) error
}

// Server represents the HTTP service
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	library *termlib.Library
	cache   AnalysisCache
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub

	renderer  atomic.Pointer[bias.Renderer]
	limiter   *security.RateLimiter
	startedAt time.Time
}

// New creates a new server instance. analysisCache may be nil.
func New(cfg *config.Config, library *termlib.Library, analysisCache AnalysisCache, log *logger.Logger) (*Server, error) {
	if library == nil {
		return nil, fmt.Errorf("term library is required")
	}

	wsHub := websocket.NewHub(websocket.HubConfigFrom(cfg), library.Current, log.WithComponent("websocket"))

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		library:   library,
		cache:     analysisCache,
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		limiter:   security.NewRateLimiter(cfg.RateLimit),
		startedAt: time.Now(),
	}
	s.renderer.Store(bias.NewRenderer(cfg.Detector.Theme))

	library.OnReload(func(snap termlib.Snapshot) {
		wsHub.BroadcastLibraryReload(websocket.LibraryReloadEvent{
			Version:   snap.Version,
			TermCount: snap.TermCount,
			Compiled:  snap.Compiled,
			Source:    snap.Source,
		})
	})

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	// Demo editor and dashboard pages
	s.router.HandleFunc("/", web.ServeEditor).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleSession).Methods(http.MethodGet)
		s.router.HandleFunc(s.config.WebSocket.Path+"/monitor", s.wsHub.HandleMonitor).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/terms", s.handleTerms).Methods(http.MethodGet)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/render", s.handleRender).Methods(http.MethodPost)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	snap := s.library.Snapshot()
	s.logger.Info("Starting Feedback Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("library_version", snap.Version),
		zap.Int("terms", snap.Compiled),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
	)

	go s.wsHub.Run(ctx)
	s.limiter.StartCleanupRoutine(ctx, 30*time.Minute)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Feedback Sentinel server")
	return s.server.Shutdown(ctx)
}

// Reload applies the hot-reloadable parts of a changed configuration
func (s *Server) Reload(cfg *config.Config) {
	s.renderer.Store(bias.NewRenderer(cfg.Detector.Theme))
	s.limiter.Reconfigure(cfg.RateLimit)
	s.logger.Info("Configuration reloaded",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
	)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
