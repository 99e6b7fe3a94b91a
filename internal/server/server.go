// Package server exposes trip jobs, step sync and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/service"
)

// DefaultPollInterval is how often the websocket stream re-reads a job.
const DefaultPollInterval = time.Second

// Options configures a Server.
type Options struct {
	Version      string
	Metrics      *metrics.Collector
	Gatherer     prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	PollInterval time.Duration
}

// Server routes HTTP requests to the job service.
type Server struct {
	jobs     *service.JobService
	logger   *slog.Logger
	version  string
	stats    *metrics.Collector
	gatherer prometheus.Gatherer
	poll     time.Duration
	router   *gin.Engine
}

// New creates a server with its routes registered.
func New(jobs *service.JobService, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		jobs:     jobs,
		logger:   logger,
		version:  opts.Version,
		stats:    opts.Metrics,
		gatherer: opts.Gatherer,
		poll:     opts.PollInterval,
	}
	if s.stats == nil {
		s.stats = metrics.NewCollector()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}

	router := gin.New()
	router.Use(gin.Recovery(), LoggingMiddleware(logger))
	s.routes(router)
	s.router = router
	return s
}

// routes registers:
//
//	POST  /v1/trips/:tripId/jobs     start a job
//	GET   /v1/trips/:tripId/jobs     list a trip's jobs
//	GET   /v1/jobs/:jobId            job status
//	POST  /v1/jobs/:jobId/cancel     cancel a job
//	GET   /v1/jobs/:jobId/ws         stream job snapshots
//	POST  /v1/steps/:stepId/sync     synchronous step recomputation
//	PATCH /v1/lodgings/:id/active    toggle a lodging
//	PATCH /v1/activities/:id/active  toggle an activity
//	GET   /v1/stats, /metrics, /health
func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/trips/:tripId/jobs", s.startJob)
	v1.GET("/trips/:tripId/jobs", s.listJobs)
	v1.GET("/jobs/:jobId", s.getJob)
	v1.POST("/jobs/:jobId/cancel", s.cancelJob)
	v1.GET("/jobs/:jobId/ws", s.watchJob)
	v1.POST("/steps/:stepId/sync", s.syncStep)
	v1.PATCH("/lodgings/:id/active", s.setLodgingActive)
	v1.PATCH("/activities/:id/active", s.setActivityActive)
	v1.GET("/stats", s.getStats)
}

// Handler returns the HTTP handler for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
