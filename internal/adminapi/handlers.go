package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/coord/store"
)

// respondError maps coordination error kinds onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.KindInvalidInput, errs.KindInvalidState:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAgents(c *gin.Context) {
	var filter store.AgentFilter
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseAgentStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown agent status: " + raw})
			return
		}
		filter.Status = status
	}
	filter.PersonaID = c.Query("persona")

	agents, err := s.agents.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	a, err := s.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseTaskStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task status: " + raw})
			return
		}
		tasks, err := s.tasks.GetByStatus(ctx, status)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
		return
	}

	tasks, err := s.store.Read().ListTasks(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.tasks.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleListMemory(c *gin.Context) {
	entries, err := s.memory.List(c.Request.Context(), c.Query("namespace"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	for _, e := range entries {
		e.Value = ""
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := s.store.Read().RecentEventLogs(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
