package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/agent"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/memory"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/coord/task"
)

// handlers adapts tool invocations to service calls. Every handler
// returns a shaped JSON object with at least {success, errorMessage?};
// service failures become failure results, never protocol errors.
type handlers struct {
	deps   Dependencies
	logger *logger.Logger
}

// shape marshals a result object into a tool result.
func shape(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(`{"success":false,"errorMessage":"Failed to encode result"}`)
	}
	return mcp.NewToolResultText(string(data))
}

func success(fields map[string]any) *mcp.CallToolResult {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return shape(out)
}

func failureMsg(msg string) *mcp.CallToolResult {
	return shape(map[string]any{"success": false, "errorMessage": msg})
}

// failure translates a service error into a failure result. Internal
// errors are logged with their cause; the client sees a stable message.
func (h *handlers) failure(err error) *mcp.CallToolResult {
	if errs.KindOf(err) == errs.KindInternal {
		h.logger.Error("tool handler internal error", zap.Error(err))
		return failureMsg("Internal error; see server logs")
	}
	return failureMsg(err.Error())
}

// inOperation runs fn inside a transactional operation, committing when
// fn succeeds. Publish hooks queued by services fire after commit.
func (h *handlers) inOperation(ctx context.Context, fn func(op *store.Operation) (*mcp.CallToolResult, error)) *mcp.CallToolResult {
	op, err := h.deps.Store.Begin(ctx)
	if err != nil {
		return h.failure(err)
	}
	defer func() { _ = op.Close() }()

	res, err := fn(op)
	if err != nil {
		return h.failure(err)
	}
	if err := op.Commit(ctx); err != nil {
		return h.failure(err)
	}
	return res
}

func (h *handlers) registerAgent() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		persona, err := req.RequireString("persona")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		agentType, err := req.RequireString("agentType")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		workingDirectory, err := req.RequireString("workingDirectory")
		if err != nil {
			return failureMsg(err.Error()), nil
		}

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			a, err := h.deps.Agents.Register(ctx, op, agent.RegisterRequest{
				PersonaID:        persona,
				AgentType:        agentType,
				WorkingDirectory: workingDirectory,
				Model:            req.GetString("model", ""),
				WorktreeName:     req.GetString("worktree", ""),
			})
			if err != nil {
				return nil, err
			}
			return success(map[string]any{
				"agentId": a.ID,
				"persona": a.PersonaID,
				"status":  a.Status,
				"message": "Registered. Send heartbeats and call get_next_task to receive work.",
			}), nil
		}), nil
	}
}

func (h *handlers) heartbeat() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agentId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			ok, err := h.deps.Agents.Heartbeat(ctx, op, agentID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return failureMsg("Agent not found or no longer active: " + agentID), nil
			}
			return success(map[string]any{"agentId": agentID}), nil
		}), nil
	}
}

func (h *handlers) killAgent() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agentId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			if err := h.deps.Agents.Kill(ctx, op, agentID); err != nil {
				return nil, err
			}
			return success(map[string]any{
				"agentId": agentID,
				"status":  models.AgentKilled,
			}), nil
		}), nil
	}
}

func (h *handlers) listAgents() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var filter store.AgentFilter
		if raw := req.GetString("status", ""); raw != "" {
			status, ok := models.ParseAgentStatus(raw)
			if !ok {
				return failureMsg("Unknown agent status: " + raw), nil
			}
			filter.Status = status
		}
		filter.PersonaID = req.GetString("persona", "")

		agents, err := h.deps.Agents.List(ctx, filter)
		if err != nil {
			return h.failure(err), nil
		}
		return success(map[string]any{
			"agents": agents,
			"count":  len(agents),
		}), nil
	}
}

func (h *handlers) createTask() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		priority, ok := models.ParseTaskPriority(req.GetString("priority", ""))
		if !ok {
			return failureMsg("Unknown priority; use low, normal, high, or critical"), nil
		}

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			t, err := h.deps.Tasks.Create(ctx, op, task.CreateRequest{
				AgentID:     req.GetString("agentId", ""),
				PersonaID:   req.GetString("personaId", ""),
				Description: description,
				Priority:    priority,
			})
			if err != nil {
				return nil, err
			}
			return success(map[string]any{
				"taskId":   t.ID,
				"status":   t.Status,
				"priority": t.Priority,
			}), nil
		}), nil
	}
}

func (h *handlers) getNextTask() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agentId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}

		cfg := task.DispatchConfig{
			Wait:         h.deps.DefaultTaskWait,
			PollInterval: h.deps.PollInterval,
		}
		if waitMs := req.GetInt("waitMs", 0); waitMs > 0 {
			cfg.Wait = time.Duration(waitMs) * time.Millisecond
		}
		if pollMs := req.GetInt("pollMs", 0); pollMs > 0 {
			cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
		}

		d, err := h.deps.Tasks.GetNext(ctx, agentID, cfg)
		if err != nil {
			return h.failure(err), nil
		}
		return shape(d), nil
	}
}

func (h *handlers) reportTaskCompletion() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		agentID, err := req.RequireString("agentId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		args := req.GetArguments()
		rawSuccess, ok := args["success"].(bool)
		if !ok {
			return failureMsg("success is required and must be a boolean"), nil
		}

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			t, err := h.deps.Tasks.ReportCompletion(ctx, op, taskID, agentID, req.GetString("result", ""), rawSuccess)
			if err != nil {
				return nil, err
			}
			return success(map[string]any{
				"taskId": t.ID,
				"status": t.Status,
			}), nil
		}), nil
	}
}

func (h *handlers) getTaskStatus() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		t, err := h.deps.Tasks.GetStatus(ctx, taskID)
		if err != nil {
			return h.failure(err), nil
		}
		return success(map[string]any{"task": t}), nil
	}
}

func (h *handlers) getTasksByStatus() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("status")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		status, ok := models.ParseTaskStatus(raw)
		if !ok {
			return failureMsg("Unknown task status: " + raw), nil
		}
		tasks, err := h.deps.Tasks.GetByStatus(ctx, status)
		if err != nil {
			return h.failure(err), nil
		}
		return success(map[string]any{
			"tasks": tasks,
			"count": len(tasks),
		}), nil
	}
}

func (h *handlers) saveMemory() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return failureMsg(err.Error()), nil
		}

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			entry, err := h.deps.Memory.Save(ctx, op, memory.SaveRequest{
				Key:       key,
				Value:     value,
				Namespace: req.GetString("namespace", ""),
				Type:      req.GetString("type", ""),
				Metadata:  req.GetString("metadata", ""),
			})
			if err != nil {
				return nil, err
			}
			return success(map[string]any{
				"key":       entry.Key,
				"namespace": entry.Namespace,
				"size":      entry.Size,
			}), nil
		}), nil
	}
}

func (h *handlers) readMemory() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		namespace := req.GetString("namespace", "")

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			entry, err := h.deps.Memory.Read(ctx, op, key, namespace)
			if err != nil {
				return nil, err
			}
			if entry == nil {
				return failureMsg("Memory key not found: " + key), nil
			}
			return success(map[string]any{"entry": entry}), nil
		}), nil
	}
}

func (h *handlers) listMemory() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := h.deps.Memory.List(ctx, req.GetString("namespace", ""))
		if err != nil {
			return h.failure(err), nil
		}
		// Listing is an index operation; drop values to keep results small.
		for _, e := range entries {
			e.Value = ""
		}
		return success(map[string]any{
			"entries": entries,
			"count":   len(entries),
		}), nil
	}
}

func (h *handlers) waitForMemoryKey() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		timeout := 30 * time.Second
		if timeoutMs := req.GetInt("timeoutMs", 0); timeoutMs > 0 {
			timeout = time.Duration(timeoutMs) * time.Millisecond
		}

		entry, err := h.deps.Memory.WaitForKey(ctx, key, req.GetString("namespace", ""), timeout, h.deps.PollInterval)
		if err != nil {
			return h.failure(err), nil
		}
		return success(map[string]any{"entry": entry}), nil
	}
}

func (h *handlers) deleteMemory() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return failureMsg(err.Error()), nil
		}
		namespace := req.GetString("namespace", "")

		return h.inOperation(ctx, func(op *store.Operation) (*mcp.CallToolResult, error) {
			deleted, err := h.deps.Memory.Delete(ctx, op, key, namespace)
			if err != nil {
				return nil, err
			}
			if !deleted {
				return failureMsg("Memory key not found: " + key), nil
			}
			return success(map[string]any{"key": key}), nil
		}), nil
	}
}
