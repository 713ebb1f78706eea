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

const taskColumns = `id, agent_id, status, persona_id, description, priority,
	created_at, started_at, completed_at, result`

// GetTask retrieves a work item by id.
func (q *queries) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := sqlx.GetContext(ctx, q.ext, &task,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("Task not found: %s", id)
	}
	if err != nil {
		return nil, errs.Internal(err, "failed to load task %s", id)
	}
	return &task, nil
}

// ListTasksByStatus returns tasks in the given status, dispatch order.
func (q *queries) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []*models.Task
	err := sqlx.SelectContext(ctx, q.ext, &tasks,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ?
		 ORDER BY priority DESC, created_at ASC, id ASC`, status)
	if err != nil {
		return nil, errs.Internal(err, "failed to list tasks by status %s", status)
	}
	return tasks, nil
}

// ListTasks returns every task, newest first.
func (q *queries) ListTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	err := sqlx.SelectContext(ctx, q.ext, &tasks,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, errs.Internal(err, "failed to list tasks")
	}
	return tasks, nil
}

// InsertTask persists a new pending work item.
func (w *WriteScope) InsertTask(ctx context.Context, task *models.Task) error {
	var personaLC *string
	if task.PersonaID != nil {
		lc := strings.ToLower(strings.TrimSpace(*task.PersonaID))
		personaLC = &lc
	}
	_, err := w.ext.ExecContext(ctx, `
		INSERT INTO tasks (
			id, agent_id, status, persona_id, persona_lc, description, priority,
			created_at, started_at, completed_at, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.AgentID, task.Status, task.PersonaID, personaLC,
		task.Description, task.Priority, task.CreatedAt, task.StartedAt,
		task.CompletedAt, task.Result)
	if err != nil {
		return errs.Internal(err, "failed to insert task %s", task.ID)
	}
	return nil
}

// ClaimNextTask atomically claims the best eligible pending task for the
// agent: either a task already targeted at this agent, or an unclaimed
// task whose persona tag is absent or matches the agent's persona
// (case-insensitive). Tie-break is priority DESC, created_at ASC, id ASC.
// Returns nil with no error when nothing is eligible.
func (w *WriteScope) ClaimNextTask(ctx context.Context, agentID, personaID string, now time.Time) (*models.Task, error) {
	personaLC := strings.ToLower(strings.TrimSpace(personaID))
	row := w.ext.QueryRowxContext(ctx, `
		UPDATE tasks
		SET agent_id = ?, status = ?, started_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ?
			  AND (agent_id = ?
			       OR (agent_id IS NULL AND (persona_lc IS NULL OR persona_lc = ?)))
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+taskColumns,
		agentID, models.TaskInProgress, now,
		models.TaskPending, agentID, personaLC)

	var task models.Task
	if err := row.StructScan(&task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Internal(err, "failed to claim task for agent %s", agentID)
	}
	return &task, nil
}

// FinishTask transitions an in-progress task to completed or failed,
// stamping completed_at and storing the result. The task must be
// in progress and owned by agentID.
func (w *WriteScope) FinishTask(ctx context.Context, taskID, agentID, result string, success bool, now time.Time) (*models.Task, error) {
	task, err := w.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskInProgress {
		return nil, errs.InvalidState("Task %s is not in progress (status: %s)", taskID, task.Status)
	}
	if task.AgentID == nil || *task.AgentID != agentID {
		return nil, errs.InvalidState("Task %s is not claimed by agent %s", taskID, agentID)
	}

	status := models.TaskCompleted
	if !success {
		status = models.TaskFailed
	}
	_, err = w.ext.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		status, now, result, taskID)
	if err != nil {
		return nil, errs.Internal(err, "failed to finish task %s", taskID)
	}

	task.Status = status
	task.CompletedAt = &now
	task.Result = result
	return task, nil
}
