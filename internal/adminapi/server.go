// Package adminapi exposes a read-only HTTP inspection surface for
// humans and dashboards. All mutation goes through the MCP tools; this
// API only snapshots store state.
package adminapi

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/httpmw"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/agent"
	"github.com/aiswarm/aiswarm/internal/coord/memory"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/coord/task"
)

// Config holds the admin API listener settings.
type Config struct {
	Host string
	Port int
}

// Server is the read-only inspection API server.
type Server struct {
	cfg        Config
	store      *store.Store
	agents     *agent.Service
	tasks      *task.Service
	memory     *memory.Service
	router     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer creates the admin API server.
func NewServer(cfg Config, st *store.Store, agents *agent.Service, tasks *task.Service, mem *memory.Service, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		store:  st,
		agents: agents,
		tasks:  tasks,
		memory: mem,
		router: gin.New(),
		logger: log.WithFields(zap.String("component", "admin-api")),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.logger, "admin"))
	s.setupRoutes()
	return s
}

// Router returns the HTTP router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		api.GET("/agents", s.handleListAgents)
		api.GET("/agents/:id", s.handleGetAgent)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/memory", s.handleListMemory)
		api.GET("/events", s.handleRecentEvents)
	}
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: s.router}
	go func() {
		s.logger.Info("admin API listening", zap.String("addr", addr))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin API server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
