package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/config"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/logging"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the enrollment surface the API drives.
type Controller interface {
	Load(ctx context.Context) error
	Targets() ([]enroll.SensorTarget, []enroll.LightTarget)
	SetSelected(class enroll.Class, index int, selected bool) error
	Start(ctx context.Context, opts enroll.StartOptions) (string, error)
	Skip() error
	Cancel() error
	Status() enroll.RunStatus
}

// Bus is the transport surface the API drives.
type Bus interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Health() transport.Health
}

var (
	_ Controller = (*enroll.Controller)(nil)
	_ Bus        = (*transport.Manager)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Controller Controller
	Bus        Bus
	Journal    journal.Repository // optional; /runs answers 503 without it
	ListPorts  func() ([]string, error)
	Version    string
}

// Server is the HTTP API server of the enrollment station.
//
// The hub exists from New on, so progress subscribers can be wired before
// Start is called.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	controller Controller
	bus        Bus
	journal    journal.Repository
	listPorts  func() ([]string, error)
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, controller, bus)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("enrollment controller is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	listPorts := deps.ListPorts
	if listPorts == nil {
		listPorts = transport.ListPorts
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		controller: deps.Controller,
		bus:        deps.Bus,
		journal:    deps.Journal,
		listPorts:  listPorts,
		version:    deps.Version,
		hub:        NewHub(deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so an occupied port is reported
// here; serving happens in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())
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
