// Package server runs the domreplay HTTP API: the shield middleware stack,
// the service routes and, when enabled, the MCP streamable endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/shield"
)

// Config configures a Server.
type Config struct {
	Addr    string
	Limits  shield.Limits
	MCP     bool // serve the MCP tools on /mcp
	Version string
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8740"
	}
	if c.Limits.Rate <= 0 {
		c.Limits = shield.DefaultLimits()
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registrar is a service exposing HTTP routes and MCP tools.
// *domreplay.Service and *watcher.Watcher implement it.
type Registrar interface {
	RegisterHTTP(r chi.Router)
	RegisterMCP(srv *mcp.Server)
}

// Server is the HTTP front of the domreplay services.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *slog.Logger
}

// New builds the router serving services.
func New(cfg Config, services ...Registrar) *Server {
	cfg.defaults()
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(cfg.Limits, cfg.Logger) {
		r.Use(mw)
	}
	for _, svc := range services {
		svc.RegisterHTTP(r)
	}

	if cfg.MCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "domreplay", Version: cfg.Version}, nil)
		for _, svc := range services {
			svc.RegisterMCP(mcpSrv)
		}
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}
	return &Server{cfg: cfg, handler: r, logger: cfg.Logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// No WriteTimeout: live websockets outlive it and set their own
	// deadlines.
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", ln.Addr().String(), "mcp", s.cfg.MCP)
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server: shutdown", "error", err)
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server: stopped")
	return nil
}
