package mcpserver

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/agent"
	"github.com/aiswarm/aiswarm/internal/coord/memory"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/coord/task"
)

// Dependencies bundles the services the tool handlers call into.
type Dependencies struct {
	Store  *store.Store
	Agents *agent.Service
	Tasks  *task.Service
	Memory *memory.Service

	// DefaultTaskWait bounds get_next_task when the call omits waitMs.
	DefaultTaskWait time.Duration
	// PollInterval is the fallback re-check period for long polls.
	PollInterval time.Duration
}

func registerTools(s *server.MCPServer, deps Dependencies, log *logger.Logger) {
	h := &handlers{deps: deps, logger: log}

	s.AddTool(
		mcp.NewTool("register_agent",
			mcp.WithDescription("Register this agent with the swarm coordinator. Call once at startup; the returned agentId identifies you in every other tool call."),
			mcp.WithString("persona",
				mcp.Required(),
				mcp.Description("The persona name used for task routing (e.g. 'reviewer', 'architect'). Case-insensitive."),
			),
			mcp.WithString("agentType",
				mcp.Required(),
				mcp.Description("The kind of agent client (e.g. 'claude-code', 'codex')"),
			),
			mcp.WithString("workingDirectory",
				mcp.Required(),
				mcp.Description("Absolute path of the directory the agent works in"),
			),
			mcp.WithString("model",
				mcp.Description("Model identifier the agent runs on (optional)"),
			),
			mcp.WithString("worktree",
				mcp.Description("Git worktree name the agent is bound to (optional)"),
			),
		),
		h.registerAgent(),
	)

	s.AddTool(
		mcp.NewTool("heartbeat",
			mcp.WithDescription("Report liveness. Call periodically; agents without a heartbeat for 90 seconds are marked unhealthy."),
			mcp.WithString("agentId",
				mcp.Required(),
				mcp.Description("Your agent ID from register_agent"),
			),
		),
		h.heartbeat(),
	)

	s.AddTool(
		mcp.NewTool("kill_agent",
			mcp.WithDescription("Terminate an agent's registration. The agent stops receiving tasks immediately."),
			mcp.WithString("agentId",
				mcp.Required(),
				mcp.Description("The agent ID to kill"),
			),
		),
		h.killAgent(),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List registered agents, optionally filtered by status or persona."),
			mcp.WithString("status",
				mcp.Description("Filter by lifecycle status: starting, running, stopping, stopped, failed, killed, unhealthy (optional)"),
			),
			mcp.WithString("persona",
				mcp.Description("Filter by persona name, case-insensitive (optional)"),
			),
		),
		h.listAgents(),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a work item. Target a specific agent with agentId, route to a persona with personaId, or leave both empty for any agent to claim."),
			mcp.WithString("description",
				mcp.Required(),
				mcp.Description("What the task is; shown verbatim to the claiming agent"),
			),
			mcp.WithString("agentId",
				mcp.Description("Direct the task to one agent (optional)"),
			),
			mcp.WithString("personaId",
				mcp.Description("Route the task to agents with this persona, case-insensitive (optional)"),
			),
			mcp.WithString("priority",
				mcp.Description("One of: low, normal, high, critical (default normal)"),
			),
		),
		h.createTask(),
	)

	s.AddTool(
		mcp.NewTool("get_next_task",
			mcp.WithDescription("Claim the next task eligible for this agent. Long-polls until a task appears or the wait expires; a timeout returns a synthetic requery task id, so just call again."),
			mcp.WithString("agentId",
				mcp.Required(),
				mcp.Description("Your agent ID from register_agent"),
			),
			mcp.WithNumber("waitMs",
				mcp.Description("How long to hold the poll open in milliseconds (default 30000)"),
			),
			mcp.WithNumber("pollMs",
				mcp.Description("Fallback re-check interval in milliseconds (default 1000)"),
			),
		),
		h.getNextTask(),
	)

	s.AddTool(
		mcp.NewTool("report_task_completion",
			mcp.WithDescription("Report the outcome of a task you claimed. Transitions the task to completed or failed; terminal tasks reject further reports."),
			mcp.WithString("taskId",
				mcp.Required(),
				mcp.Description("The task ID from get_next_task"),
			),
			mcp.WithString("agentId",
				mcp.Required(),
				mcp.Description("Your agent ID"),
			),
			mcp.WithString("result",
				mcp.Description("Free-form outcome text (optional)"),
			),
			mcp.WithBoolean("success",
				mcp.Required(),
				mcp.Description("Whether the task succeeded"),
			),
		),
		h.reportTaskCompletion(),
	)

	s.AddTool(
		mcp.NewTool("get_task_status",
			mcp.WithDescription("Read one task."),
			mcp.WithString("taskId",
				mcp.Required(),
				mcp.Description("The task ID to read"),
			),
		),
		h.getTaskStatus(),
	)

	s.AddTool(
		mcp.NewTool("get_tasks_by_status",
			mcp.WithDescription("List tasks in a given status, in dispatch order."),
			mcp.WithString("status",
				mcp.Required(),
				mcp.Description("One of: pending, in_progress, completed, failed"),
			),
		),
		h.getTasksByStatus(),
	)

	s.AddTool(
		mcp.NewTool("save_memory",
			mcp.WithDescription("Save a value in the shared memory store. Other agents can read it or wait for it with wait_for_memory_key."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The memory key"),
			),
			mcp.WithString("value",
				mcp.Required(),
				mcp.Description("The value to store"),
			),
			mcp.WithString("namespace",
				mcp.Description("Namespace to scope the key (default 'default')"),
			),
			mcp.WithString("type",
				mcp.Description("Content type hint, e.g. 'json' or 'text' (default 'json')"),
			),
			mcp.WithString("metadata",
				mcp.Description("Free-form metadata string (optional)"),
			),
		),
		h.saveMemory(),
	)

	s.AddTool(
		mcp.NewTool("read_memory",
			mcp.WithDescription("Read a value from the shared memory store. Records the access."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The memory key"),
			),
			mcp.WithString("namespace",
				mcp.Description("Namespace the key lives in (default 'default')"),
			),
		),
		h.readMemory(),
	)

	s.AddTool(
		mcp.NewTool("list_memory",
			mcp.WithDescription("List memory entries, optionally scoped to one namespace. Values are omitted; use read_memory for content."),
			mcp.WithString("namespace",
				mcp.Description("Namespace to list (optional, all namespaces when empty)"),
			),
		),
		h.listMemory(),
	)

	s.AddTool(
		mcp.NewTool("wait_for_memory_key",
			mcp.WithDescription("Wait until another agent saves the given key, then return it. Times out with success=false if the key does not appear."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The memory key to wait for"),
			),
			mcp.WithString("namespace",
				mcp.Description("Namespace the key lives in (default 'default')"),
			),
			mcp.WithNumber("timeoutMs",
				mcp.Description("How long to wait in milliseconds (default 30000)"),
			),
		),
		h.waitForMemoryKey(),
	)

	s.AddTool(
		mcp.NewTool("delete_memory",
			mcp.WithDescription("Delete a key from the shared memory store."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The memory key to delete"),
			),
			mcp.WithString("namespace",
				mcp.Description("Namespace the key lives in (default 'default')"),
			),
		),
		h.deleteMemory(),
	)

	log.Info("registered MCP tools", zap.Int("count", 14))
}
