package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/infrastructure/config"
	"github.com/nerrad567/experiment-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/experiment-core/internal/infrastructure/logging"
	"github.com/nerrad567/experiment-core/internal/infrastructure/metrics"
	"github.com/nerrad567/experiment-core/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Container *component.Container

	// Metrics is optional; /metrics is not routed without it.
	Metrics *metrics.Metrics

	// MQTT and Influx are optional and only reported on by /system.
	MQTT   *mqtt.Client
	Influx *influxdb.Client

	Version string
}

// Server is the HTTP API server. It is created with New and started with
// Start.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	container *component.Container
	metrics   *metrics.Metrics
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	cancel    context.CancelFunc
	stopWatch func()
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Container == nil {
		return nil, fmt.Errorf("component container is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		container: deps.Container,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start binds the listener, starts the WebSocket hub and begins serving in
// the background. Slot changes are broadcast to WebSocket clients until
// Close.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	s.stopWatch = s.watchSlots()

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	server := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	server, cancel, stopWatch := s.server, s.cancel, s.stopWatch
	s.server, s.cancel, s.stopWatch = nil, nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if stopWatch != nil {
		stopWatch()
	}
	if cancel != nil {
		cancel()
	}

	ctx, timeout := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer timeout()

	s.logger.Info("API server shutting down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
