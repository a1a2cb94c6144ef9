package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/audit"
	"github.com/nerrad567/gray-logic-xbox/internal/auth"
	consolebridge "github.com/nerrad567/gray-logic-xbox/internal/bridges/console"
	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader reads what the store sink persisted.
// consoles.Repository satisfies it.
type HistoryReader interface {
	History(ctx context.Context, consoleID string, q consoles.HistoryQuery) ([]consoles.HistoryEntry, error)
	DeviceInfo(ctx context.Context, consoleID string) (*consoles.StoredDeviceInfo, error)
}

// MQTTStatus reports the broker connection. *mqtt.Client satisfies it.
type MQTTStatus interface {
	IsConnected() bool
}

// BridgeStats exposes the MQTT bridge counters. *console.Bridge satisfies it.
type BridgeStats interface {
	Statistics() consolebridge.BridgeStatistics
}

// DBStats exposes connection pool statistics. *database.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Consoles is required.
	Consoles consoles.Controller

	// The remaining dependencies are optional; the endpoints that need
	// them answer 503 without them.
	History       HistoryReader
	Audit         audit.Repository
	Authenticator *auth.Authenticator
	MQTT          MQTTStatus
	Bridge        BridgeStats
	DB            DBStats

	// Hub is used instead of creating one. The caller registers it as a
	// manager sink and runs it.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for the console bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	consoles  consoles.Controller
	history   HistoryReader
	auditRepo audit.Repository
	authn     *auth.Authenticator
	mqtt      MQTTStatus
	bridge    BridgeStats
	db        DBStats
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	auditCh     chan *audit.Entry
	auditDone   chan struct{}
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, console controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Consoles == nil {
		return nil, fmt.Errorf("console controller is required")
	}
	if deps.Security.JWT.Secret != "" && !deps.Authenticator.Enabled() {
		deps.Logger.Warn("JWT secret is set but no operators are configured; login is impossible")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		consoles:  deps.Consoles,
		history:   deps.History,
		auditRepo: deps.Audit,
		authn:     deps.Authenticator,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub so it can be registered as a
// console event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless it was injected), the audit writer
// and ticket cleanup, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}
	go s.cleanTicketsLoop(srvCtx)

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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes pending audit entries.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Background goroutines stop after in-flight requests so their audit
	// entries are still written.
	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
