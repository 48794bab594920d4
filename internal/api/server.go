// Package api exposes the schedule operations over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/health"
	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

// Scheduler is the application layer the handlers call.
type Scheduler interface {
	Schedule(ctx context.Context, req store.CreateRequest) (event.Event, error)
	Get(ctx context.Context, namespace, key string, id uuid.UUID) (event.Event, error)
	Search(ctx context.Context, q search.Query) (schedule.SearchResult, error)
	Settle(ctx context.Context, req store.SettleRequest) (event.Event, error)
	SettleAndNext(ctx context.Context, req store.SettleAndNextRequest) (event.Event, error)
	Advance(ctx context.Context, req schedule.AdvanceRequest) (event.Event, error)
}

// Server is the HTTP front door.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	sched  Scheduler
	logger *slog.Logger
}

// NewServer builds the router: health probes at the root and the schedule
// API under /v1/schedule.
func NewServer(cfg config.ServerConfig, sched Scheduler, hh *health.Handler, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(recovery(logger), requestLogger(logger))

	s := &Server{
		router: router,
		sched:  sched,
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	hh.Register(router)

	v1 := router.Group("/v1")
	if cfg.RateLimit > 0 {
		v1.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	s.setupRoutes(v1)

	return s
}

func (s *Server) setupRoutes(v1 *gin.RouterGroup) {
	events := v1.Group("/schedule")
	{
		events.POST("", s.handleSchedule)
		events.POST("/search", s.handleSearch)
		events.PUT("/settle", s.handleSettle)
		events.PUT("/settle-and-next", s.handleSettleAndNext)
		events.PUT("/advance", s.handleAdvance)
		events.GET("/:namespace/:key/:id", s.handleGet)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
