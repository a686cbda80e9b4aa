// Package api provides the HTTP REST API and WebSocket upgrade endpoint for
// Doorman Core.
//
// It exposes authentication, device registry operations, QR activation,
// visitor approval and command dispatch to dashboards and provisioning
// tools, and hands real-time connections off to the gateway hub.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carrick-labs/doorman-core/internal/auth"
	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/device"
	"github.com/carrick-labs/doorman-core/internal/gateway"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.ServerConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Users    auth.UserRepository
	Tokens   auth.TokenRepository
	Visitors *visitor.Engine
	Commands *command.Dispatcher
	Hub      *gateway.Hub
	Version  string
}

// Server is the HTTP API server for Doorman Core.
type Server struct {
	cfg      config.ServerConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	users    auth.UserRepository
	tokens   auth.TokenRepository
	visitors *visitor.Engine
	commands *command.Dispatcher
	hub      *gateway.Hub
	version  string
	limiter  *ipLimiter
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates an API server with the given dependencies. The server is not
// started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Visitors == nil {
		return nil, fmt.Errorf("visitor engine is required")
	}

	var limiter *ipLimiter
	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		limiter = newIPLimiter(rl.RequestsPerMinute, time.Minute)
	}

	return &Server{
		cfg:      deps.Config,
		limiter:  limiter,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		users:    deps.Users,
		tokens:   deps.Tokens,
		visitors: deps.Visitors,
		commands: deps.Commands,
		hub:      deps.Hub,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Expired refresh tokens accumulate without this.
	go s.cleanTokensLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to ten seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// tokenCleanupInterval controls how often expired refresh tokens are purged.
const tokenCleanupInterval = time.Hour

func (s *Server) cleanTokensLoop(ctx context.Context) {
	if s.tokens == nil {
		return
	}
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.tokens.DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn("refresh token cleanup failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("expired refresh tokens purged", "count", n)
			}
		}
	}
}
