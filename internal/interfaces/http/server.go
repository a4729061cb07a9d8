// Package http exposes the operational surface: health, queue status,
// recent event history, forced reprocessing, and one-shot sync triggers.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/application/events"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/domain/event"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
)

// EventService is the queue surface the handlers need.  *events.Queue
// satisfies it.
type EventService interface {
	Enqueue(identity string, payload json.RawMessage, category, source string) events.EnqueueResult
	Status() events.Status
	Recent(limit int) []event.EntrySnapshot
	ForceReprocess(identity string) bool
}

// SyncTrigger runs a one-shot batch reconciliation over the given keys.
// The wiring layer binds it to a Synchronizer plus the configured worker.
type SyncTrigger interface {
	Run(ctx context.Context, keys []string, force bool) (*batchsync.Summary, error)
}

// Server wraps the gin engine and the underlying http.Server lifecycle.
type Server struct {
	srv     *http.Server
	engine  *gin.Engine
	logger  logging.Logger
	started time.Time
}

// NewServer assembles the router.  metricsHandler may be nil when metrics
// are disabled; the route is simply not mounted.
func NewServer(
	cfg config.ServerConfig,
	queue EventService,
	sync SyncTrigger,
	metricsHandler http.Handler,
	logger logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("http")

	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine:  engine,
		logger:  logger,
		started: time.Now(),
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}

	h := &handler{queue: queue, sync: sync, server: s}

	engine.GET("/healthz", h.health)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := engine.Group("/api/v1")
	{
		api.POST("/events", h.enqueueEvent)
		api.GET("/events/status", h.eventStatus)
		api.GET("/events/recent", h.recentEvents)
		api.POST("/events/:identity/reprocess", h.reprocessEvent)
		api.POST("/sync", h.triggerSync)
	}

	return s
}

// Start blocks serving requests until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logging.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request handled", fields...)
		}
	}
}
