// Package mcpserver exposes the coordination tools over MCP. It
// co-hosts transports for compatibility with different clients:
// - SSE transport (/sse) for Claude Desktop, Cursor, etc.
// - Streamable HTTP transport (/mcp) for Codex
// - optional stdio JSON-RPC for directly spawned clients
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/common/portutil"
)

// Config holds the MCP server configuration.
type Config struct {
	Host         string // Interface to bind, loopback by default
	Port         int    // Preferred port
	PortMax      int    // Upper bound of the fallback scan range
	Stdio        bool   // Also serve stdio JSON-RPC
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the SSE, Streamable HTTP, and stdio transports with
// lifecycle management. Long-poll tools hold connections open for up to
// ten minutes, so the HTTP timeouts must exceed the longest tool wait.
type Server struct {
	cfg                  Config
	deps                 Dependencies
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	port                 int
	logger               *logger.Logger
}

// New creates an MCP server over the given services.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.PortMax < cfg.Port {
		cfg.PortMax = cfg.Port
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 630 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 630 * time.Second
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Default().WithFields(),
	}
}

// Start brings up the HTTP transports (and stdio when configured) and
// returns once the server is listening. The port is the configured one
// when free, otherwise the first available port up to PortMax.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"aiswarm",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.deps, s.logger)

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	port, err := portutil.FindAvailablePort(s.cfg.Host, s.cfg.Port, s.cfg.PortMax)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	s.port = port

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP server listening",
			zap.Int("port", port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.cfg.Stdio {
		go func() {
			s.logger.Info("MCP stdio transport active")
			if err := server.ServeStdio(mcpServer); err != nil && ctx.Err() == nil {
				s.logger.Error("MCP stdio transport error", zap.Error(err))
			}
		}()
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		_ = listener.Close()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the HTTP transports, draining in-flight
// long polls up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown Streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

// Port returns the bound port once Start has succeeded.
func (s *Server) Port() int {
	return s.port
}

// SSEEndpoint returns the full SSE URL for clients that use SSE
// transport.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://%s:%d/sse", s.cfg.Host, s.port)
}

// StreamableHTTPEndpoint returns the full URL for clients that use
// streamable HTTP transport.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://%s:%d/mcp", s.cfg.Host, s.port)
}
