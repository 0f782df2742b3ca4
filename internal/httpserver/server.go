// Package httpserver exposes tunnel control, visitor queries and a live
// event stream over HTTP.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/tunnelscope/internal/eventbus"
	"github.com/tinytelemetry/tunnelscope/internal/identity"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:8420"

// TunnelController is the supervisor contract used by the API.
type TunnelController interface {
	Start(ctx context.Context, cfg model.TunnelConfig) error
	Stop()
	Status() model.TunnelStatus
}

// EventSource provides live and recent tunnel events.
type EventSource interface {
	Subscribe(buffer int) *eventbus.Subscription
	Recent(n int) []model.Event
}

// Deps are the collaborators behind the API. Tunnel and Events may be nil,
// which disables their routes.
type Deps struct {
	Store       model.VisitorStore
	Tunnel      TunnelController
	Events      EventSource
	Emitter     model.Emitter
	Fingerprint func(ip string) model.Fingerprint
	// DefaultTimeoutSeconds applies to start requests that omit one.
	DefaultTimeoutSeconds int
}

// Server provides the HTTP API.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates an HTTP API server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if deps.Emitter == nil {
		deps.Emitter = model.EmitterFunc(func(model.Event) {})
	}
	if deps.Fingerprint == nil {
		deps.Fingerprint = identity.Fingerprint
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)

	api.GET("/tunnel", s.handleTunnelStatus)
	api.POST("/tunnel/start", s.handleTunnelStart)
	api.POST("/tunnel/stop", s.handleTunnelStop)

	api.GET("/visitors", s.handleVisitors)
	api.DELETE("/visitors", s.handleClearVisitors)
	api.GET("/visitors/export", s.handleExport)
	api.GET("/visitors/countries", s.handleCountries)
	api.GET("/visitors/:ip/fingerprint", s.handleFingerprint)

	api.GET("/events", s.handleEventStream)
	api.GET("/events/recent", s.handleRecentEvents)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server and closes event streams.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.deps.Store.TotalVisitors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	body := gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"visitor_count": count,
	}
	if s.deps.Tunnel != nil {
		body["tunnel"] = s.deps.Tunnel.Status().State
	}
	if ps, err := processStats(selfPID()); err == nil {
		body["process"] = ps
	}
	c.JSON(http.StatusOK, body)
}
