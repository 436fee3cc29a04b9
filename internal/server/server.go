// Package server assembles the rooms, the connection hub and the shared
// broadcast registry behind a single HTTP handler.
package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/store"
)

// Dependencies are the collaborators a Server is built from. Registry and
// Authenticator are required; a nil Logger disables logging.
type Dependencies struct {
	Registry      *broadcast.Registry
	Authenticator *auth.Authenticator
	Notifications store.NotificationStore
	Projects      store.ProjectStore
	// HealthChecks are reported by run_health_check in addition to the
	// broadcast bus and any collaborator implementing store.Pinger.
	HealthChecks map[string]HealthCheck
	Logger       *zap.Logger
}

// Server owns the WebSocket rooms of one process.
type Server struct {
	cfg      *Config
	registry *broadcast.Registry
	auth     *auth.Authenticator
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger

	notifications *notificationRoom
	projects      *projectRoom
	collaboration *collaborationRoom
	health        *healthRoom
}

// New creates a Server. A nil cfg uses NewConfig.
func New(cfg *Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)
	cfg = &sanitized

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		registry: deps.Registry,
		auth:     deps.Authenticator,
		hub:      NewHub(logger.Named("hub")),
		logger:   logger,
	}
	policy := newOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	s.notifications = &notificationRoom{
		store:   deps.Notifications,
		limit:   cfg.NotificationLimit,
		timeout: cfg.StoreTimeout,
		logger:  logger,
	}
	s.projects = &projectRoom{
		store:    deps.Projects,
		registry: deps.Registry,
		timeout:  cfg.StoreTimeout,
		logger:   logger,
	}
	s.collaboration = &collaborationRoom{registry: deps.Registry, logger: logger}
	s.health = &healthRoom{
		registry: deps.Registry,
		hub:      s.hub,
		checks:   buildHealthChecks(deps),
		timeout:  healthCheckTimeout,
		started:  time.Now(),
		logger:   logger,
	}
	return s
}

func buildHealthChecks(deps Dependencies) map[string]HealthCheck {
	checks := map[string]HealthCheck{
		"broadcast_bus": func(context.Context) error { return nil },
	}
	if p, ok := deps.Notifications.(store.Pinger); ok {
		checks["notification_store"] = p.Ping
	}
	if p, ok := deps.Projects.(store.Pinger); ok {
		checks["project_store"] = p.Ping
	}
	for name, check := range deps.HealthChecks {
		checks[name] = check
	}
	return checks
}

// Start runs the hub loop. It must be called before serving requests.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
}

// Shutdown closes every connection and waits for their pumps to exit.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// Registry returns the broadcast registry other subsystems publish through.
func (s *Server) Registry() *broadcast.Registry { return s.registry }

// Hub returns the connection tracker.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the sanitized configuration in use.
func (s *Server) Config() *Config { return s.cfg }
