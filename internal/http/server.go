// Package http provides the HTTP server that publishes a compiled reel and
// hosts browser playback sessions.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/http/middleware"
)

// compressionLevel balances CPU against transfer size for chunk files.
const compressionLevel = 5

// Server represents the HTTP server.
type Server struct {
	config     config.ServerConfig
	cors       middleware.CORSConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration.
// The version is published in the OpenAPI document.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	cors := middleware.DefaultCORSConfig(cfg.CORSOrigins)

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.ContextLogger(logger))
	router.Use(middleware.RequestLogging())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cors))
	router.Use(middleware.NewCompression(compressionLevel))

	humaConfig := huma.DefaultConfig("asciireel API", version)
	humaConfig.Info.Description = "ASCII animation reel publishing and playback API"
	api := humachi.New(router, humaConfig)

	return &Server{
		config: cfg,
		cors:   cors,
		router: router,
		api:    api,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// CheckOrigin validates websocket upgrade origins against the CORS allow-list.
func (s *Server) CheckOrigin(r *http.Request) bool {
	return s.cors.CheckOrigin(r)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", slog.String("address", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and blocks until ctx is cancelled or
// the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return s.serveUntil(ctx, ln)
}

func (s *Server) serveUntil(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		// Shutdown's own timeout bounds the drain.
		return s.Shutdown(context.WithoutCancel(ctx))
	case err := <-errChan:
		return err
	}
}
