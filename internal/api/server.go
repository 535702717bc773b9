// Package api provides the HTTP REST API and WebSocket server for Ember Core.
//
// It exposes entity registry operations, coordinator status, and real-time
// state updates to user interfaces and tooling.
//
// The server follows the same lifecycle pattern as other infrastructure
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

	"github.com/emberhaus/ember-core/internal/coordinator"
	"github.com/emberhaus/ember-core/internal/entity"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
	"github.com/emberhaus/ember-core/internal/infrastructure/logging"
	"github.com/emberhaus/ember-core/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Security     config.SecurityConfig
	Logger       *logging.Logger
	Managers     []*entity.Manager
	Coordinators []*coordinator.Coordinator
	MQTT         *mqtt.Client // optional; enables the WebSocket state relay
	ExternalHub  *Hub         // if set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server for Ember Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	managers     map[string]*entity.Manager
	domains      []string // registration order, for stable listings
	coordinators []*coordinator.Coordinator
	mqtt         *mqtt.Client
	version      string
	server       *http.Server
	hub          *Hub
	externalHub  bool               // true if hub was injected externally
	cancel       context.CancelFunc // cancels background goroutines on Close()
	detach       []func()           // coordinator listener removals, run on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(deps.Managers) == 0 {
		return nil, fmt.Errorf("at least one entity manager is required")
	}
	// MQTT is optional. Without it the WebSocket relay is disabled and
	// real-time updates come from the hub sink instead.

	managers := make(map[string]*entity.Manager, len(deps.Managers))
	domains := make([]string, 0, len(deps.Managers))
	for _, m := range deps.Managers {
		if _, dup := managers[m.Domain()]; dup {
			return nil, fmt.Errorf("duplicate manager for domain %q", m.Domain())
		}
		managers[m.Domain()] = m
		domains = append(domains, m.Domain())
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger,
		managers:     managers,
		domains:      domains,
		coordinators: deps.Coordinators,
		mqtt:         deps.MQTT,
		version:      deps.Version,
	}

	// Use an externally-provided hub if available (needed when managers
	// project directly to WebSocket clients via HubStateSink).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Sink returns a StateSink that broadcasts entity state changes to
// WebSocket clients. Wire it into a manager when MQTT is disabled;
// with MQTT enabled the broker relay covers the same updates.
func (s *Server) Sink() entity.StateSink {
	return &hubSink{hub: s.hub}
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to MQTT state topics for
// real-time broadcast, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// An external hub is run by its owner.
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	// Relay coordinator fetch attempts to subscribed clients.
	for _, c := range s.coordinators {
		coord := c
		s.detach = append(s.detach, coord.AddListener(func() {
			s.hub.Broadcast(WSChannelCoordinatorUpdated, statusOf(coord))
		}))
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, MQTT relay callbacks stop via client)
	if s.cancel != nil {
		s.cancel()
	}
	for _, remove := range s.detach {
		remove()
	}
	s.detach = nil

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
