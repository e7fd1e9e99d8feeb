package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectorView is the part of the connector the API reads.
// *connector.Connector implements it.
type ConnectorView interface {
	Entity(ctx context.Context) (*device.Connector, error)
	Stats(ctx context.Context) connector.HealthStats
}

// HealthChecker is implemented by infrastructure clients
// (*database.DB, *mqtt.Client, *influxdb.Client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Connector  ConnectorView
	Repository device.Repository
	States     device.StateManager

	// Checks are reported by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	// Pool is optional and adds database pool statistics to the metrics.
	Pool func() sql.DBStats

	// History is optional and adds InfluxDB point counters to the metrics.
	History func() influxdb.Stats

	Version string
}

// Server is the operations HTTP server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	connector  ConnectorView
	repo       device.Repository
	states     device.StateManager
	checks     map[string]HealthChecker
	pool       func() sql.DBStats
	history    func() influxdb.Stats
	version    string
	startTime  time.Time
	server     *http.Server
	listenAddr string
	mu         sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Connector == nil || deps.Repository == nil || deps.States == nil {
		return nil, fmt.Errorf("connector, repository and state manager are required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		connector: deps.Connector,
		repo:      deps.Repository,
		states:    deps.States,
		checks:    deps.Checks,
		pool:      deps.Pool,
		history:   deps.History,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The listener is bound before Start returns, so a port conflict is
// reported here. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the address the server listens on, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
