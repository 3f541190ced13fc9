// Package overlay serves live watcher state and events to local overlay UIs.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
)

// Config holds overlay server settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns loopback-only defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:25252",
		QueueSize:    64,
		WriteTimeout: 5 * time.Second,
	}
}

// StatusSource reports what /api/status shows.
type StatusSource interface {
	State() domain.WatcherState
	Target() domain.Target
	RelayConnected() bool
}

// Status is the /api/status response body.
type Status struct {
	State   domain.WatcherState `json:"state"`
	Target  domain.Target       `json:"target"`
	Clients int                 `json:"clients"`
	Relay   bool                `json:"relay"`
}

// Server is the overlay HTTP surface.
type Server struct {
	cfg      Config
	status   StatusSource
	hub      *Hub
	router   *gin.Engine
	upgrader websocket.Upgrader
	subs     []*hook.Subscription
	logger   *zap.Logger
}

// NewServer subscribes to bus and builds the router.
func NewServer(cfg Config, bus *hook.EventBus, status StatusSource, logger *zap.Logger) *Server {
	logger = logger.Named("overlay")
	s := &Server{
		cfg:    cfg,
		status: status,
		hub:    NewHub(cfg.QueueSize, cfg.WriteTimeout, logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowLoopbackOrigin,
		},
	}
	s.subs = hook.Observe(bus, func(event string, data map[string]any) {
		s.hub.Broadcast(Event{Event: event, Data: data})
	})

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
	}
	s.router.GET("/ws", s.handleWS)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the client hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("overlay server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("overlay server failed: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down overlay server: %w", err)
	}
	s.logger.Info("overlay server stopped")
	return nil
}

// Close unsubscribes from the bus and drops all clients.
func (s *Server) Close() {
	hook.UnsubscribeAll(s.subs)
	s.hub.Close()
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Status{
		State:   s.status.State(),
		Target:  s.status.Target(),
		Clients: s.hub.Count(),
		Relay:   s.status.RelayConnected(),
	})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade overlay connection", zap.Error(err))
		return
	}
	s.hub.Serve(conn)
}

// allowLoopbackOrigin accepts requests without an Origin (native clients)
// and browser pages served from the local machine.
func allowLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
