// Package http implements the REST API of StudyQuest: user and clan
// progression endpoints, administrative overrides, health probes and the
// websocket notification stream mount point.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/application/command"
	"github.com/studyquest/studyquest-hub/internal/application/query"
	"github.com/studyquest/studyquest-hub/internal/interface/http/handlers"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config is the listener and request-handling configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS for these origins; "*" echoes any origin.
	AllowedOrigins []string

	// RateLimitPerMinute is the sustained per-IP rate; 0 disables limiting.
	// Bursts up to the same number are allowed.
	RateLimitPerMinute int

	// TrustedProxies are the peers whose forwarding headers name the client.
	// Empty means the socket peer is always the client.
	TrustedProxies []netip.Prefix
}

// DefaultConfig listens on :8080 with conservative limits.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxBodyBytes:       64 << 10,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
	}
}

// ConfigFromApp overlays the application's HTTP section on DefaultConfig.
// Zero durations and an empty origin list keep the defaults.
func ConfigFromApp(cfg config.HTTPConfig) Config {
	c := DefaultConfig()
	c.Host, c.Port = cfg.Host, cfg.Port
	for _, d := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&c.ReadTimeout, cfg.ReadTimeout},
		{&c.WriteTimeout, cfg.WriteTimeout},
		{&c.IdleTimeout, cfg.IdleTimeout},
	} {
		if d.src > 0 {
			*d.dst = d.src
		}
	}
	if len(cfg.AllowedOrigins) > 0 {
		c.AllowedOrigins = cfg.AllowedOrigins
	}
	c.RateLimitPerMinute = cfg.RateLimitPerMinute
	for _, entry := range cfg.TrustedProxies {
		// Validate already rejected malformed entries.
		if p, err := config.ParseProxy(entry); err == nil {
			c.TrustedProxies = append(c.TrustedProxies, p)
		}
	}
	return c
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains the handlers behind the routes. A nil handler makes
// its route answer 501.
type Dependencies struct {
	// Commands
	RegisterUser  *command.RegisterUserHandler
	LogSession    *command.LogStudySessionHandler
	Prestige      *command.PrestigeHandler
	ClaimClanPerk *command.ClaimClanPerkHandler
	AdminOverride *command.AdminOverrideHandler
	CreateClan    *command.CreateClanHandler
	SetClan       *command.SetClanHandler

	// Queries
	GetProgress *query.GetProgressHandler
	GetClan     *query.GetClanHandler

	// EventStream serves GET /ws/users/{id}/events.
	EventStream http.Handler

	HealthChecker handlers.HealthChecker
	AdminAuth     *handlers.AdminKeyAuth
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server owns the listener, the route table and the middleware stack.
type Server struct {
	config      Config
	deps        Dependencies
	router      *http.ServeMux
	httpServer  *http.Server
	logger      *logger.Logger
	rateLimiter *rateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer registers the routes and builds the middleware stack. Nothing
// listens until Start.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.AdminAuth == nil {
		deps.AdminAuth = handlers.NewAdminKeyAuth("")
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With(logger.Component("http")),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.wrap(s.router),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler is the router behind every middleware, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// Health
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// Users
	s.router.HandleFunc("POST /api/v1/users", s.handleRegisterUser)
	s.router.HandleFunc("GET /api/v1/users/{id}/progress", s.handleGetProgress)
	s.router.HandleFunc("POST /api/v1/users/{id}/sessions", s.handleLogSession)
	s.router.HandleFunc("POST /api/v1/users/{id}/prestige", s.handlePrestige)
	s.router.HandleFunc("POST /api/v1/users/{id}/clan-perk", s.handleClaimClanPerk)
	s.router.HandleFunc("PUT /api/v1/users/{id}/clan", s.handleSetClan)

	// Clans
	s.router.HandleFunc("POST /api/v1/clans", s.handleCreateClan)
	s.router.HandleFunc("GET /api/v1/clans/{id}", s.handleGetClan)

	// Admin
	admin := s.deps.AdminAuth.Middleware(s.writeAuthError)
	s.router.Handle("PATCH /api/v1/admin/users/{id}", admin(http.HandlerFunc(s.handleAdminOverride)))

	// Notification stream
	if s.deps.EventStream != nil {
		s.router.Handle("GET /ws/users/{id}/events", s.deps.EventStream)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// ErrServerRunning is returned by Start on a server that is already serving.
var ErrServerRunning = errors.New("http: server already running")

// Start blocks serving requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running, s.startedAt = true, time.Now()
	s.mu.Unlock()

	s.logger.Info("listening", logger.String("address", s.config.Address()))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel receives Start's error,
// if any, and is closed when serving stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Hijacked websocket connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.logger.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime is zero when the server is not running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
