package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/bridges/tinkerforge"
	"github.com/nerrad567/meinheim-core/internal/device"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/logging"
	"github.com/nerrad567/meinheim-core/internal/rules"
	"github.com/nerrad567/meinheim-core/internal/transit"
)

const gracefulShutdownTimeout = 10 * time.Second

// SocketService switches configured sockets. *device.Registry implements it.
type SocketService interface {
	Switch(ctx context.Context, id string, on bool, source string) (device.Socket, error)
	Lookup(uid string, address uint32, unit uint8) (device.Socket, bool)
	List() []device.SocketStatus
}

// RuleService controls the rule set. *rules.Registry implements it.
type RuleService interface {
	Start(ctx context.Context, id, source string) (rules.Status, error)
	Stop(ctx context.Context, id, source string) (rules.Status, error)
	Status(id string) (rules.Status, error)
	List() []rules.Status
}

// SensorService reads bricklets. *tinkerforge.Gateway implements it.
type SensorService interface {
	GetIlluminance(ctx context.Context, uid string) float64
	GetDistance(ctx context.Context, uid string) float64
	Devices() []tinkerforge.DeviceEntry
	Connected() bool
}

// DepartureSource looks up transit departures. *transit.Client implements it.
type DepartureSource interface {
	Departures(ctx context.Context) []transit.Departure
}

// HistorySource lists recent audit entries.
type HistorySource interface {
	Recent(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// HealthChecker is implemented by the MQTT, InfluxDB and database clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server. Transit, History, Checks
// and DB are optional.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Sockets SocketService
	Rules   RuleService
	Sensors SensorService
	Transit DepartureSource
	History HistorySource
	Hub     *Hub
	Checks  map[string]HealthChecker
	DB      *sql.DB
	Version string
}

// Server is the HTTP server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	sockets  SocketService
	rules    RuleService
	sensors  SensorService
	transit  DepartureSource
	history  HistorySource
	hub      *Hub
	ownHub   bool
	checks   map[string]HealthChecker
	db       *sql.DB
	version  string
	started  time.Time
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sockets == nil || deps.Rules == nil || deps.Sensors == nil {
		return nil, fmt.Errorf("sockets, rules and sensors are required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		sockets: deps.Sockets,
		rules:   deps.Rules,
		sensors: deps.Sensors,
		transit: deps.Transit,
		history: deps.History,
		hub:     deps.Hub,
		checks:  deps.Checks,
		db:      deps.DB,
		version: deps.Version,
		started: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}
	return s, nil
}

// Handler returns the router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Addr returns the bound listen address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening for HTTP: %w", err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close drains in-flight requests for up to ten seconds.
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

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
