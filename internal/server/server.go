// Package server exposes the keyrelay HTTP APIs on gin: the admin and
// user key routes served by keyadmin, and the guarded token route served
// by keyguard.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// Config holds listener settings.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewEngine returns a gin engine with the common middleware chain:
// recovery, request ID, tracing, logging and, when m is non-nil, metrics.
func NewEngine(logger observability.Logger, m *observability.Metrics) *gin.Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(Recovery(logger), RequestID(), Tracing(), Logging(logger))
	if m != nil {
		engine.Use(Metrics(m))
	}
	engine.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Route not found")
	})
	engine.NoMethod(func(c *gin.Context) {
		respondError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return engine
}

// AdminRoutes groups what the keyadmin API is built from.
type AdminRoutes struct {
	Keys       *KeyHandler
	AdminToken string
	// Limiter throttles /admin per client IP when non-nil.
	Limiter *ClientLimiter
}

// Register mounts /admin and /user on engine.
func (r AdminRoutes) Register(engine *gin.Engine) {
	admin := engine.Group("/admin")
	if r.Limiter != nil {
		admin.Use(r.Limiter.Middleware())
	}
	admin.Use(AdminToken(r.AdminToken))
	r.Keys.RegisterAdminRoutes(admin)

	r.Keys.RegisterUserRoutes(engine.Group("/user"))
}

// GuardRoutes groups what the keyguard API is built from.
type GuardRoutes struct {
	Guard gin.HandlerFunc
	Token *TokenHandler
}

// Register mounts GET /token behind the guard.
func (r GuardRoutes) Register(engine *gin.Engine) {
	engine.GET("/token", r.Guard, r.Token.Get)
}

// Server runs an http.Server over a handler.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  observability.Logger
	server  *http.Server
	addr    atomic.Value
	running atomic.Bool
}

// New creates a Server.
func New(cfg Config, handler http.Handler, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{cfg: cfg, handler: handler, logger: logger}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server on %s is already running", s.cfg.Address)
	}

	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.addr.Store(ln.Addr().String())
	s.running.Store(true)

	s.logger.Info("http server started", observability.String("address", s.Addr()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", observability.Error(err))
		}
		s.running.Store(false)
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return s.cfg.Address
}

// Stop drains in-flight requests until ctx is done, then closes.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("stopping http server", observability.String("address", s.Addr()))
	if err := s.server.Shutdown(ctx); err != nil {
		if closeErr := s.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close http server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown http server gracefully: %w", err)
	}
	s.running.Store(false)
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}
