// Package server exposes the completion webhook over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/metalagman/trellis/internal/completion"
	"github.com/metalagman/trellis/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Completer handles a merged change request.
type Completer interface {
	Handle(ctx context.Context, pr int, runID string) (completion.Result, error)
}

// TaskLister lists task records.
type TaskLister interface {
	List(ctx context.Context) ([]task.Task, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr      string
	Secret    string
	Completer Completer
	Gatherer  prometheus.Gatherer
	// Tasks, when set, backs the read-only task listing.
	Tasks TaskLister
	// Lock, when set, is held around every completion pass.
	Lock func(ctx context.Context) (release func(), err error)
}

// Server is the webhook server.
type Server struct {
	router *gin.Engine
	server *http.Server
	cfg    Config

	// mu serializes completion passes.
	mu sync.Mutex
}

// New creates a server.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{router: router, cfg: cfg}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.cfg.Tasks != nil {
		s.router.GET("/tasks", s.handleTasks)
	}
	s.router.POST("/webhooks/github", s.handleGitHub)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting webhook server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down webhook server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleTasks(c *gin.Context) {
	items, err := s.cfg.Tasks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		return
	}
	status := task.Status(c.Query("status"))
	all := c.Query("all") == "true"
	c.JSON(http.StatusOK, gin.H{"ok": true, "tasks": task.Filter(items, status, all)})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
