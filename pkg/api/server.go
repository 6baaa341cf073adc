// Package api exposes the control-plane HTTP surface and the live
// WebSocket stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/runner"
	"github.com/craftlab-ai/gauntlet/pkg/telemetry"
)

// Server bundles the HTTP router and its dependencies.
type Server struct {
	service  *runner.TestService
	manager  *events.ConnectionManager
	metrics  *telemetry.Metrics
	engine   *gin.Engine
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer builds the router with all routes registered.
func NewServer(service *runner.TestService, manager *events.ConnectionManager, metrics *telemetry.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	s := &Server{
		service: service,
		manager: manager,
		metrics: metrics,
		engine:  engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard origins are not restricted; the API carries no
			// credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/tests/scenarios", s.handleListScenarios)
		api.POST("/tests", s.handleCreateTest)
		api.GET("/tests", s.handleListTests)
		api.GET("/tests/:id", s.handleGetTest)
		api.POST("/tests/:id/start", s.handleStartTest)
		api.POST("/tests/:id/stop", s.handleStopTest)
		api.DELETE("/tests/:id", s.handleDeleteTest)
		api.GET("/tests/:id/logs", s.handleGetLogs)
	}

	s.engine.GET("/ws/tests", s.handleWebSocket)
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// handleHealth probes the repository so load balancers stop routing to
// an instance whose database is gone.
func (s *Server) handleHealth(c *gin.Context) {
	active, err := s.service.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"activeTests": active,
		"connections": s.manager.ActiveConnections(),
	})
}

// handleWebSocket upgrades the request and hands the socket to the
// connection manager, which blocks for the connection's lifetime.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}
	s.manager.HandleConnection(conn)
}

// requestLogger logs completed requests at debug except failures.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= 500 {
			slog.Error("Request failed", attrs...)
		} else {
			slog.Debug("Request handled", attrs...)
		}
	}
}
