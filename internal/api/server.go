package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/bridge"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// outletTimeout bounds one controller round trip made by a handler.
const outletTimeout = 15 * time.Second

// auditTimeout bounds one audit write.
const auditTimeout = 5 * time.Second

// Directory resolves exposed outlets. *accessory.Reconciler satisfies it.
type Directory interface {
	Lookup(id accessory.Identity) (*accessory.Accessory, error)
	Accessories() []*accessory.Accessory
}

// TelemetryStore serves the last persisted reading of an outlet.
// *bridge.Bridge satisfies it.
type TelemetryStore interface {
	StoredTelemetry(ctx context.Context, id accessory.Identity) (unifi.Telemetry, time.Time, bool, error)
}

// HealthSource reports bridge health. *bridge.Bridge satisfies it.
type HealthSource interface {
	Health() bridge.HealthMessage
}

// EventSource delivers bridge events to the WebSocket hub.
// *bridge.Bridge satisfies it.
type EventSource interface {
	AddListener(l bridge.Listener)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Directory Directory

	// Telemetry is the fallback for readings not yet taken this run. Optional.
	Telemetry TelemetryStore

	// Health is included in the health endpoint when set. Optional.
	Health HealthSource

	// Rediscover runs one discovery pass on demand. Optional.
	Rediscover func(ctx context.Context) error

	// Events feeds the WebSocket stream. Optional.
	Events EventSource

	// Audit records switch and discovery requests and serves
	// GET /audit. Optional.
	Audit AuditLog

	Version string
}

// Server is the HTTP API server for the PDU bridge.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	directory  Directory
	telemetry  TelemetryStore
	health     HealthSource
	rediscover func(ctx context.Context) error
	audit      AuditLog
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	tickets    *ticketStore
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("outlet directory is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		directory:  deps.Directory,
		telemetry:  deps.Telemetry,
		health:     deps.Health,
		rediscover: deps.Rediscover,
		audit:      deps.Audit,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Config.WebSocket, deps.Logger),
		tickets:    newTicketStore(),
	}
	if deps.Events != nil {
		deps.Events.AddListener(s.hub.Publish)
	}
	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())

	hubCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(hubCtx)
	go s.cleanTicketsLoop(hubCtx)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

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

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
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
