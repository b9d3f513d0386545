// Package api exposes the scanner over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"github.com/raaihank/pii-sentinel/internal/web"
	"github.com/raaihank/pii-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Server is the HTTP front end of the scanner
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	scanner *scanner.Scanner
	router  *mux.Router
	server  *http.Server

	metrics *metrics.Metrics
	hub     *websocket.Hub
	audit   *audit.Store
	cache   *cache.VerdictCache
	limiter *RateLimiter
	proxies []netip.Prefix

	version   string
	startedAt time.Time
}

// Option configures optional server components
type Option func(*Server)

// WithMetrics exposes Prometheus metrics and records HTTP timings
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHub serves the WebSocket event feed
func WithHub(h *websocket.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithAudit serves the audit trail endpoints
func WithAudit(a *audit.Store) Option {
	return func(s *Server) { s.audit = a }
}

// WithCache serves verdict cache statistics
func WithCache(c *cache.VerdictCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithVersion sets the version reported by /info
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a new API server
func New(cfg *config.Config, sc *scanner.Scanner, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("api"),
		scanner:   sc,
		router:    mux.NewRouter(),
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range cfg.Server.TrustedProxies {
		prefix, err := config.ParseProxy(p)
		if err != nil {
			s.logger.Warn("Ignoring invalid trusted proxy", zap.String("proxy", p), zap.Error(err))
			continue
		}
		s.proxies = append(s.proxies, prefix)
	}

	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.ClientTTL)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(securityHeadersMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	if s.hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimitMiddleware)
	v1.Use(s.bodyLimitMiddleware)

	v1.HandleFunc("/scan/text", s.handleScanText).Methods(http.MethodPost)
	v1.HandleFunc("/scan/file", s.handleScanFile).Methods(http.MethodPost)
	v1.HandleFunc("/patterns", s.handleListPatterns).Methods(http.MethodGet)
	v1.HandleFunc("/patterns", s.handleAddPattern).Methods(http.MethodPost)

	if s.audit != nil {
		v1.HandleFunc("/audit/recent", s.handleAuditRecent).Methods(http.MethodGet)
		v1.HandleFunc("/audit/stats", s.handleAuditStats).Methods(http.MethodGet)
	}
	if s.cache != nil {
		v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background loops bound to ctx and serves HTTP until Stop
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PII Sentinel API server",
		zap.String("addr", s.server.Addr),
		zap.Int("rules", s.scanner.Rules()),
		zap.Bool("websocket", s.hub != nil && s.config.WebSocket.Enabled),
		zap.Bool("metrics", s.metrics != nil && s.config.Metrics.Enabled),
		zap.Bool("rate_limit", s.limiter != nil),
	)

	if s.hub != nil {
		go s.hub.Run(ctx)
		go s.statusLoop(ctx)
	}
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII Sentinel API server")
	return s.server.Shutdown(ctx)
}

// statusLoop broadcasts a system status snapshot every status interval
func (s *Server) statusLoop(ctx context.Context) {
	interval := s.config.WebSocket.StatusInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.BroadcastStatus(s.status())
		}
	}
}

func (s *Server) status() websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:         "healthy",
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		ActiveRules:    s.scanner.Rules(),
		RuleGeneration: s.scanner.Generation(),
	}
}
