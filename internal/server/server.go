// Package server exposes the snapshot, forced update, logs and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/storage"
)

// DefaultLogLimit is used when the logs endpoint gets no limit.
const DefaultLogLimit = 100

const maxLogLimit = 1000

// Backend runs cycles and serves the live snapshot.
type Backend interface {
	Snapshot(ctx context.Context) ([]byte, error)
	RunCycle(ctx context.Context) (netstats.Result, error)
	Ping(ctx context.Context) error
}

// LogReader lists recent event log entries.
type LogReader interface {
	Recent(ctx context.Context, limit int) ([]storage.LogEntry, error)
}

// AveragesReader computes the current period averages.
type AveragesReader interface {
	ComputeAverages(ctx context.Context) (*netstats.PeriodAverages, error)
}

// Options configure the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// Server is the gin-based API server.
type Server struct {
	opts     Options
	router   *gin.Engine
	backend  Backend
	logs     LogReader
	averages AveragesReader
	now      func() time.Time
	logger   zerolog.Logger
}

// New wires routes. metricsHandler may be nil.
func New(opts Options, backend Backend, logs LogReader, averages AveragesReader, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:     opts,
		router:   gin.New(),
		backend:  backend,
		logs:     logs,
		averages: averages,
		now:      time.Now,
		logger:   logger.With().Str("component", "http_server").Logger(),
	}

	s.router.Use(gin.Recovery(), s.requestLogger(), cors(opts.CORSOrigins))

	s.router.GET("/health", s.health)
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := s.router.Group("/api")
	{
		api.GET("/qubic/tool", s.tool)

		stats := api.Group("/network-stats")
		stats.POST("/update", s.update)
		stats.GET("/logs", s.recentLogs)
		stats.GET("/averages", s.periodAverages)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request served")
	}
}

func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || wildcard {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
