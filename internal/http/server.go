// Package http serves the compressarr REST API.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/compressarr/internal/http/middleware"
)

// ServerConfig tunes the listener and its shutdown behavior.
type ServerConfig struct {
	Host string
	Port int
	// ReadTimeout and WriteTimeout bound one exchange; IdleTimeout is how
	// long a keep-alive connection may sit quiet.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownTimeout is how long draining connections get on shutdown.
	ShutdownTimeout time.Duration
	// CORSOrigins restricts cross-origin requests; empty allows all origins.
	CORSOrigins []string
}

// DefaultServerConfig returns the tuning used when no configuration is loaded.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server hosts the compressarr API: huma operations for the JSON surface on
// a chi router that also carries plain routes like archive downloads.
type Server struct {
	config ServerConfig
	router *chi.Mux
	api    huma.API
	logger *slog.Logger
}

// NewServer assembles the router, the middleware chain, and the OpenAPI
// surface. version labels the OpenAPI document.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(config.CORSOrigins))
	// Backup archives are already compressed; the wrapper keeps gzip off them.
	router.Use(middleware.SkipCompressionForArchives(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("compressarr API", version)
	humaConfig.Info.Description = "Video compression pipeline: scan, approve, synthesize, transcode, replace"

	return &Server{
		config: config,
		router: router,
		api:    humachi.New(router, humaConfig),
		logger: logger,
	}
}

// API returns the huma API that operations register on.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi router for routes that bypass huma, like streaming
// downloads.
func (s *Server) Router() *chi.Mux { return s.router }

// ListenAndServe blocks serving requests until ctx is canceled, then drains
// connections for at most ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	failed := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			failed <- fmt.Errorf("starting server: %w", err)
		}
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
