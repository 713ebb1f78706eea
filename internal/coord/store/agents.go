package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
)

const agentColumns = `id, persona_id, agent_type, working_directory, status, process_id,
	model, worktree_name, registered_at, last_heartbeat, started_at, stopped_at`

// GetAgent retrieves an agent by id.
func (q *queries) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	err := sqlx.GetContext(ctx, q.ext, &agent,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("Agent not found: %s", id)
	}
	if err != nil {
		return nil, errs.Internal(err, "failed to load agent %s", id)
	}
	return &agent, nil
}

// AgentFilter narrows ListAgents. Zero value lists everything.
type AgentFilter struct {
	Status    models.AgentStatus
	PersonaID string
}

// ListAgents returns a snapshot of agents matching the filter, newest
// registration first.
func (q *queries) ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PersonaID != "" {
		conds = append(conds, "persona_lc = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.PersonaID)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY registered_at DESC, id ASC"

	var agents []*models.Agent
	if err := sqlx.SelectContext(ctx, q.ext, &agents, query, args...); err != nil {
		return nil, errs.Internal(err, "failed to list agents")
	}
	return agents, nil
}

// InsertAgent persists a new agent. The lowercase persona copy is stored
// alongside the original so routing queries stay index-friendly.
func (w *WriteScope) InsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := w.ext.ExecContext(ctx, `
		INSERT INTO agents (
			id, persona_id, persona_lc, agent_type, working_directory, status,
			process_id, model, worktree_name, registered_at, last_heartbeat, started_at, stopped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.PersonaID, strings.ToLower(agent.PersonaID), agent.AgentType,
		agent.WorkingDirectory, agent.Status, agent.ProcessID, agent.Model,
		agent.WorktreeName, agent.RegisteredAt, agent.LastHeartbeat, agent.StartedAt, agent.StoppedAt)
	if err != nil {
		return errs.Internal(err, "failed to insert agent %s", agent.ID)
	}
	return nil
}

// TouchHeartbeat sets last_heartbeat to now and promotes a starting agent
// to running. Returns the resulting status, or NotFound.
func (w *WriteScope) TouchHeartbeat(ctx context.Context, id string, now time.Time) (models.AgentStatus, error) {
	agent, err := w.GetAgent(ctx, id)
	if err != nil {
		return "", err
	}
	status := agent.Status
	if status == models.AgentStarting || status == models.AgentUnhealthy {
		status = models.AgentRunning
	}
	// last_heartbeat never decreases
	if now.Before(agent.LastHeartbeat) {
		now = agent.LastHeartbeat
	}
	_, err = w.ext.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ?, status = ? WHERE id = ?`,
		now, status, id)
	if err != nil {
		return "", errs.Internal(err, "failed to record heartbeat for %s", id)
	}
	return status, nil
}

// SetAgentStatus transitions an agent, stamping stopped_at when the new
// status is terminal.
func (w *WriteScope) SetAgentStatus(ctx context.Context, id string, status models.AgentStatus, now time.Time) error {
	var stoppedAt *time.Time
	if status.Terminal() {
		stoppedAt = &now
	}
	res, err := w.ext.ExecContext(ctx,
		`UPDATE agents SET status = ?, stopped_at = COALESCE(?, stopped_at) WHERE id = ?`,
		status, stoppedAt, id)
	if err != nil {
		return errs.Internal(err, "failed to update agent %s status", id)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errs.NotFound("Agent not found: %s", id)
	}
	return nil
}

// MarkStaleAgentsUnhealthy flips running agents whose last heartbeat is
// older than the cutoff. Returns the ids transitioned.
func (w *WriteScope) MarkStaleAgentsUnhealthy(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, w.ext, &ids,
		`SELECT id FROM agents WHERE status = ? AND last_heartbeat < ?`,
		models.AgentRunning, cutoff)
	if err != nil {
		return nil, errs.Internal(err, "failed to find stale agents")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`UPDATE agents SET status = ? WHERE id IN (?)`,
		models.AgentUnhealthy, ids)
	if err != nil {
		return nil, errs.Internal(err, "failed to build unhealthy update")
	}
	if _, err := w.ext.ExecContext(ctx, w.ext.Rebind(query), args...); err != nil {
		return nil, errs.Internal(err, "failed to mark agents unhealthy")
	}
	return ids, nil
}
