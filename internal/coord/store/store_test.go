package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/db"
)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	pool, err := db.OpenMemoryPool()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := New(pool, clk, nil)
	require.NoError(t, err)
	return st, clk
}

// withWrite runs fn in a committed write scope.
func withWrite(t *testing.T, st *Store, fn func(w *WriteScope)) {
	t.Helper()
	w, err := st.Write(context.Background())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	fn(w)
	require.NoError(t, w.Complete())
}

func insertAgent(t *testing.T, st *Store, id, persona string, status models.AgentStatus, heartbeat time.Time) {
	t.Helper()
	withWrite(t, st, func(w *WriteScope) {
		require.NoError(t, w.InsertAgent(context.Background(), &models.Agent{
			ID:               id,
			PersonaID:        persona,
			AgentType:        "claude-code",
			WorkingDirectory: "/tmp/work",
			Status:           status,
			RegisteredAt:     heartbeat,
			LastHeartbeat:    heartbeat,
			StartedAt:        heartbeat,
		}))
	})
}

func insertTask(t *testing.T, st *Store, task *models.Task) {
	t.Helper()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.Priority == 0 {
		task.Priority = models.PriorityNormal
	}
	withWrite(t, st, func(w *WriteScope) {
		require.NoError(t, w.InsertTask(context.Background(), task))
	})
}

func claim(t *testing.T, st *Store, agentID, persona string) *models.Task {
	t.Helper()
	var claimed *models.Task
	withWrite(t, st, func(w *WriteScope) {
		var err error
		claimed, err = w.ClaimNextTask(context.Background(), agentID, persona, st.Clock().Now())
		require.NoError(t, err)
	})
	return claimed
}

func strPtr(s string) *string { return &s }

func TestClaimNextTaskOrdering(t *testing.T) {
	st, clk := newTestStore(t)
	base := clk.Now()

	insertTask(t, st, &models.Task{ID: "t-low", Priority: models.PriorityLow, Description: "low", CreatedAt: base})
	insertTask(t, st, &models.Task{ID: "t-high-late", Priority: models.PriorityHigh, Description: "high late", CreatedAt: base.Add(2 * time.Second)})
	insertTask(t, st, &models.Task{ID: "t-high-early", Priority: models.PriorityHigh, Description: "high early", CreatedAt: base.Add(time.Second)})
	insertTask(t, st, &models.Task{ID: "t-tie-b", Priority: models.PriorityNormal, Description: "tie", CreatedAt: base})
	insertTask(t, st, &models.Task{ID: "t-tie-a", Priority: models.PriorityNormal, Description: "tie", CreatedAt: base})

	var order []string
	for {
		task := claim(t, st, "agent-1", "reviewer")
		if task == nil {
			break
		}
		order = append(order, task.ID)
		assert.Equal(t, models.TaskInProgress, task.Status)
		require.NotNil(t, task.AgentID)
		assert.Equal(t, "agent-1", *task.AgentID)
	}

	assert.Equal(t, []string{"t-high-early", "t-high-late", "t-tie-a", "t-tie-b", "t-low"}, order)
}

func TestClaimNextTaskEligibility(t *testing.T) {
	st, clk := newTestStore(t)
	now := clk.Now()

	insertTask(t, st, &models.Task{ID: "t-other-agent", AgentID: strPtr("agent-other"), Description: "targeted elsewhere", CreatedAt: now})
	insertTask(t, st, &models.Task{ID: "t-other-persona", PersonaID: strPtr("architect"), Description: "other persona", CreatedAt: now})
	insertTask(t, st, &models.Task{ID: "t-mine", AgentID: strPtr("agent-1"), Description: "targeted at me", CreatedAt: now.Add(time.Second)})
	insertTask(t, st, &models.Task{ID: "t-untagged", Description: "anyone", CreatedAt: now.Add(2 * time.Second)})

	first := claim(t, st, "agent-1", "reviewer")
	require.NotNil(t, first)
	assert.Equal(t, "t-mine", first.ID)

	second := claim(t, st, "agent-1", "reviewer")
	require.NotNil(t, second)
	assert.Equal(t, "t-untagged", second.ID)

	third := claim(t, st, "agent-1", "reviewer")
	assert.Nil(t, third)
}

func TestClaimNextTaskPersonaCaseInsensitive(t *testing.T) {
	st, clk := newTestStore(t)

	insertTask(t, st, &models.Task{ID: "t-1", PersonaID: strPtr("Reviewer"), Description: "x", CreatedAt: clk.Now()})

	task := claim(t, st, "agent-1", "rEvIeWeR")
	require.NotNil(t, task)
	assert.Equal(t, "t-1", task.ID)
}

func TestClaimNextTaskEachTaskClaimedOnce(t *testing.T) {
	st, clk := newTestStore(t)
	insertTask(t, st, &models.Task{ID: "t-1", Description: "x", CreatedAt: clk.Now()})

	first := claim(t, st, "agent-a", "p")
	second := claim(t, st, "agent-b", "p")
	require.NotNil(t, first)
	assert.Nil(t, second)
}

func TestFinishTaskTransitions(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	insertTask(t, st, &models.Task{ID: "t-1", Description: "x", CreatedAt: clk.Now()})
	require.NotNil(t, claim(t, st, "agent-1", "p"))

	clk.Advance(time.Minute)
	withWrite(t, st, func(w *WriteScope) {
		task, err := w.FinishTask(ctx, "t-1", "agent-1", "done", true, clk.Now())
		require.NoError(t, err)
		assert.Equal(t, models.TaskCompleted, task.Status)
		require.NotNil(t, task.CompletedAt)
		assert.Equal(t, "done", task.Result)
	})

	// Terminal tasks reject further completion reports.
	w, err := st.Write(ctx)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	_, err = w.FinishTask(ctx, "t-1", "agent-1", "again", true, clk.Now())
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
	assert.Contains(t, err.Error(), "not in progress")
}

func TestFinishTaskRejectsWrongAgent(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	insertTask(t, st, &models.Task{ID: "t-1", Description: "x", CreatedAt: clk.Now()})
	require.NotNil(t, claim(t, st, "agent-1", "p"))

	w, err := st.Write(ctx)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	_, err = w.FinishTask(ctx, "t-1", "agent-2", "", false, clk.Now())
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestTouchHeartbeatPromotesAndNeverDecreases(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()
	registered := clk.Now()

	insertAgent(t, st, "agent-1", "reviewer", models.AgentStarting, registered)

	clk.Advance(10 * time.Second)
	withWrite(t, st, func(w *WriteScope) {
		status, err := w.TouchHeartbeat(ctx, "agent-1", clk.Now())
		require.NoError(t, err)
		assert.Equal(t, models.AgentRunning, status)
	})

	latest := clk.Now()
	// A heartbeat carrying an older timestamp must not move last_heartbeat
	// backwards.
	withWrite(t, st, func(w *WriteScope) {
		_, err := w.TouchHeartbeat(ctx, "agent-1", registered)
		require.NoError(t, err)
	})

	agent, err := st.Read().GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentRunning, agent.Status)
	assert.False(t, agent.LastHeartbeat.Before(latest))
}

func TestTouchHeartbeatRecoversUnhealthy(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	insertAgent(t, st, "agent-1", "reviewer", models.AgentUnhealthy, clk.Now())
	withWrite(t, st, func(w *WriteScope) {
		status, err := w.TouchHeartbeat(ctx, "agent-1", clk.Now())
		require.NoError(t, err)
		assert.Equal(t, models.AgentRunning, status)
	})
}

func TestSetAgentStatusStampsStoppedAt(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	insertAgent(t, st, "agent-1", "reviewer", models.AgentRunning, clk.Now())

	clk.Advance(time.Minute)
	withWrite(t, st, func(w *WriteScope) {
		require.NoError(t, w.SetAgentStatus(ctx, "agent-1", models.AgentKilled, clk.Now()))
	})

	agent, err := st.Read().GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentKilled, agent.Status)
	require.NotNil(t, agent.StoppedAt)

	w, err := st.Write(ctx)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	err = w.SetAgentStatus(ctx, "missing", models.AgentKilled, clk.Now())
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMarkStaleAgentsUnhealthy(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()
	start := clk.Now()

	insertAgent(t, st, "stale", "reviewer", models.AgentRunning, start)
	insertAgent(t, st, "starting", "reviewer", models.AgentStarting, start)
	clk.Advance(2 * time.Minute)
	insertAgent(t, st, "fresh", "reviewer", models.AgentRunning, clk.Now())

	cutoff := clk.Now().Add(-90 * time.Second)
	withWrite(t, st, func(w *WriteScope) {
		ids, err := w.MarkStaleAgentsUnhealthy(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []string{"stale"}, ids)
	})

	agent, err := st.Read().GetAgent(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.AgentUnhealthy, agent.Status)

	agent, err = st.Read().GetAgent(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.AgentRunning, agent.Status)
}

func TestListAgentsFilters(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	insertAgent(t, st, "a-1", "Reviewer", models.AgentRunning, clk.Now())
	insertAgent(t, st, "a-2", "architect", models.AgentRunning, clk.Now())
	insertAgent(t, st, "a-3", "reviewer", models.AgentStopped, clk.Now())

	all, err := st.Read().ListAgents(ctx, AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := st.Read().ListAgents(ctx, AgentFilter{Status: models.AgentRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	reviewers, err := st.Read().ListAgents(ctx, AgentFilter{PersonaID: "REVIEWER"})
	require.NoError(t, err)
	assert.Len(t, reviewers, 2)
}

func TestMemoryUpsertPreservesHistory(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()
	created := clk.Now()

	withWrite(t, st, func(w *WriteScope) {
		entry, updated, err := w.UpsertMemoryEntry(ctx, &models.MemoryEntry{
			ID: "m-1", Namespace: "ns", Key: "k", Value: "hello", Type: "text",
		}, created)
		require.NoError(t, err)
		assert.False(t, updated)
		assert.Equal(t, int64(5), entry.Size)
		assert.Equal(t, created, entry.CreatedAt)
	})

	withWrite(t, st, func(w *WriteScope) {
		require.NoError(t, w.TouchMemoryAccess(ctx, "ns", "k", clk.Now()))
	})

	clk.Advance(time.Minute)
	withWrite(t, st, func(w *WriteScope) {
		entry, updated, err := w.UpsertMemoryEntry(ctx, &models.MemoryEntry{
			ID: "m-2", Namespace: "ns", Key: "k", Value: "longer value", Type: "text",
		}, clk.Now())
		require.NoError(t, err)
		assert.True(t, updated)
		assert.Equal(t, "m-1", entry.ID, "identity survives updates")
		assert.Equal(t, int64(1), entry.AccessCount)
	})

	stored, err := st.Read().GetMemoryEntry(ctx, "ns", "k")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "longer value", stored.Value)
	assert.Equal(t, int64(len("longer value")), stored.Size)
	assert.True(t, stored.LastUpdatedAt.After(stored.CreatedAt))
}

func TestMemoryDelete(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	withWrite(t, st, func(w *WriteScope) {
		_, _, err := w.UpsertMemoryEntry(ctx, &models.MemoryEntry{
			ID: "m-1", Namespace: "ns", Key: "k", Value: "v", Type: "json",
		}, clk.Now())
		require.NoError(t, err)
	})

	withWrite(t, st, func(w *WriteScope) {
		deleted, err := w.DeleteMemoryEntry(ctx, "ns", "k")
		require.NoError(t, err)
		assert.True(t, deleted)
	})
	withWrite(t, st, func(w *WriteScope) {
		deleted, err := w.DeleteMemoryEntry(ctx, "ns", "k")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	entry, err := st.Read().GetMemoryEntry(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestEventLogAppendAndRecent(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		withWrite(t, st, func(w *WriteScope) {
			require.NoError(t, w.AppendEventLog(ctx, &models.EventLogEntry{
				ID:        uuid.New().String(),
				EventType: "task.created",
				Timestamp: clk.Now(),
				Severity:  models.SeverityInformation,
				Payload:   "{}",
			}))
		})
	}

	entries, err := st.Read().RecentEventLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp), "newest first")
}

func TestOperationCommitHooks(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	// Hooks run only after commit.
	op, err := st.Begin(ctx)
	require.NoError(t, err)
	fired := 0
	op.OnCommit(func(context.Context) { fired++ })
	op.OnCommit(func(context.Context) { fired++ })
	require.NoError(t, op.Write().InsertTask(ctx, &models.Task{
		ID: "t-1", Status: models.TaskPending, Description: "x",
		Priority: models.PriorityNormal, CreatedAt: clk.Now(),
	}))
	assert.Equal(t, 0, fired)
	require.NoError(t, op.Commit(ctx))
	assert.Equal(t, 2, fired)

	// Hooks are discarded on rollback, and so is the write.
	op, err = st.Begin(ctx)
	require.NoError(t, err)
	op.OnCommit(func(context.Context) { fired++ })
	require.NoError(t, op.Write().InsertTask(ctx, &models.Task{
		ID: "t-2", Status: models.TaskPending, Description: "x",
		Priority: models.PriorityNormal, CreatedAt: clk.Now(),
	}))
	require.NoError(t, op.Close())
	assert.Equal(t, 2, fired)

	_, err = st.Read().GetTask(ctx, "t-2")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
