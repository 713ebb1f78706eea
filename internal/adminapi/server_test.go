package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/agent"
	"github.com/aiswarm/aiswarm/internal/coord/memory"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/coord/task"
	"github.com/aiswarm/aiswarm/internal/db"
	"github.com/aiswarm/aiswarm/internal/events/bus"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

type fixture struct {
	server *Server
	store  *store.Store
	agents *agent.Service
	tasks  *task.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool, err := db.OpenMemoryPool()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.New(pool, clk, nil)
	require.NoError(t, err)

	taskNotifier := notify.NewTaskNotifier(bus.Options{}, nil)
	agentNotifier := notify.NewAgentNotifier(bus.Options{}, nil)
	memoryNotifier := notify.NewMemoryNotifier(bus.Options{}, nil)
	t.Cleanup(taskNotifier.Close)
	t.Cleanup(agentNotifier.Close)
	t.Cleanup(memoryNotifier.Close)

	events := eventlog.New(st, clk)
	agents := agent.NewService(st, agentNotifier, events, clk, nil)
	tasks := task.NewService(st, taskNotifier, events, clk, nil)
	mem := memory.NewService(st, memoryNotifier, events, clk, nil)

	return &fixture{
		server: NewServer(Config{Host: "127.0.0.1", Port: 0}, st, agents, tasks, mem, logger.Default()),
		store:  st,
		agents: agents,
		tasks:  tasks,
	}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func (f *fixture) registerAgent(t *testing.T, persona string) string {
	t.Helper()
	ctx := context.Background()
	op, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = op.Close() }()

	a, err := f.agents.Register(ctx, op, agent.RegisterRequest{
		PersonaID:        persona,
		AgentType:        "claude-code",
		WorkingDirectory: "/tmp/work",
	})
	require.NoError(t, err)
	require.NoError(t, op.Commit(ctx))
	return a.ID
}

func (f *fixture) createTask(t *testing.T, description, persona string) string {
	t.Helper()
	ctx := context.Background()
	op, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = op.Close() }()

	created, err := f.tasks.Create(ctx, op, task.CreateRequest{Description: description, PersonaID: persona})
	require.NoError(t, err)
	require.NoError(t, op.Commit(ctx))
	return created.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListAgentsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerAgent(t, "reviewer")
	f.registerAgent(t, "architect")

	rec, body := f.get(t, "/api/v1/agents")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = f.get(t, "/api/v1/agents?persona=Reviewer")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = f.get(t, "/api/v1/agents?status=sleeping")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAgentEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.registerAgent(t, "reviewer")

	rec, body := f.get(t, "/api/v1/agents/"+id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "starting", body["status"])

	rec, _ = f.get(t, "/api/v1/agents/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.createTask(t, "review the diff", "reviewer")

	rec, body := f.get(t, "/api/v1/tasks")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.get(t, "/api/v1/tasks?status=pending")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.get(t, "/api/v1/tasks?status=completed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])

	rec, body = f.get(t, "/api/v1/tasks/"+id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "review the diff", body["description"])

	rec, _ = f.get(t, "/api/v1/tasks/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecentEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerAgent(t, "reviewer")
	f.createTask(t, "x", "reviewer")

	rec, body := f.get(t, "/api/v1/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = f.get(t, "/api/v1/events?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = f.get(t, "/api/v1/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
