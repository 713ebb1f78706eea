// Package models defines the persisted entities of the coordination
// kernel: agents, work items, memory entries, and the audit event log.
package models

import "time"

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStarting  AgentStatus = "starting"
	AgentRunning   AgentStatus = "running"
	AgentStopping  AgentStatus = "stopping"
	AgentStopped   AgentStatus = "stopped"
	AgentFailed    AgentStatus = "failed"
	AgentKilled    AgentStatus = "killed"
	AgentUnhealthy AgentStatus = "unhealthy"
)

// Active reports whether the agent may still heartbeat and claim work.
// Terminal states (stopped, failed, killed) forbid further mutation.
func (s AgentStatus) Active() bool {
	switch s {
	case AgentStarting, AgentRunning, AgentStopping, AgentUnhealthy:
		return true
	}
	return false
}

// Terminal reports whether the status is final.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStopped, AgentFailed, AgentKilled:
		return true
	}
	return false
}

// ParseAgentStatus validates a status string supplied by a client.
func ParseAgentStatus(s string) (AgentStatus, bool) {
	switch AgentStatus(s) {
	case AgentStarting, AgentRunning, AgentStopping, AgentStopped,
		AgentFailed, AgentKilled, AgentUnhealthy:
		return AgentStatus(s), true
	}
	return "", false
}

// Agent is an interactive LLM CLI session registered with the server.
type Agent struct {
	ID               string      `db:"id" json:"id"`
	PersonaID        string      `db:"persona_id" json:"persona_id"`
	AgentType        string      `db:"agent_type" json:"agent_type"`
	WorkingDirectory string      `db:"working_directory" json:"working_directory"`
	Status           AgentStatus `db:"status" json:"status"`
	ProcessID        *int        `db:"process_id" json:"process_id,omitempty"`
	Model            string      `db:"model" json:"model,omitempty"`
	WorktreeName     string      `db:"worktree_name" json:"worktree_name,omitempty"`
	RegisteredAt     time.Time   `db:"registered_at" json:"registered_at"`
	LastHeartbeat    time.Time   `db:"last_heartbeat" json:"last_heartbeat"`
	StartedAt        time.Time   `db:"started_at" json:"started_at"`
	StoppedAt        *time.Time  `db:"stopped_at" json:"stopped_at,omitempty"`
}

// TaskStatus is the lifecycle state of a work item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ParseTaskStatus validates a status string supplied by a client.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return TaskStatus(s), true
	}
	return "", false
}

// TaskPriority orders pending tasks; higher claims first.
type TaskPriority int

const (
	PriorityLow      TaskPriority = 1
	PriorityNormal   TaskPriority = 2
	PriorityHigh     TaskPriority = 3
	PriorityCritical TaskPriority = 4
)

// ParseTaskPriority maps a client-supplied priority name to its value.
// An empty string maps to normal.
func ParseTaskPriority(s string) (TaskPriority, bool) {
	switch s {
	case "", "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	}
	return 0, false
}

// Task is a unit of work with optional agent or persona targeting.
// A nil AgentID means the task is unclaimed.
type Task struct {
	ID          string       `db:"id" json:"id"`
	AgentID     *string      `db:"agent_id" json:"agent_id,omitempty"`
	Status      TaskStatus   `db:"status" json:"status"`
	PersonaID   *string      `db:"persona_id" json:"persona_id,omitempty"`
	Description string       `db:"description" json:"description"`
	Priority    TaskPriority `db:"priority" json:"priority"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	StartedAt   *time.Time   `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Result      string       `db:"result" json:"result,omitempty"`
}

// MemoryEntry is a keyed value in the shared memory store.
// (namespace, key) is the natural key; writes upsert.
type MemoryEntry struct {
	ID            string     `db:"id" json:"id"`
	Namespace     string     `db:"namespace" json:"namespace"`
	Key           string     `db:"key" json:"key"`
	Value         string     `db:"value" json:"value"`
	Type          string     `db:"type" json:"type"`
	Metadata      string     `db:"metadata" json:"metadata,omitempty"`
	IsCompressed  bool       `db:"is_compressed" json:"is_compressed"`
	Size          int64      `db:"size" json:"size"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	LastUpdatedAt time.Time  `db:"last_updated_at" json:"last_updated_at"`
	AccessedAt    *time.Time `db:"accessed_at" json:"accessed_at,omitempty"`
	AccessCount   int64      `db:"access_count" json:"access_count"`
}

// EventSeverity classifies event log rows.
type EventSeverity string

const (
	SeverityInformation EventSeverity = "information"
	SeverityWarning     EventSeverity = "warning"
	SeverityError       EventSeverity = "error"
	SeverityCritical    EventSeverity = "critical"
)

// EventLogEntry is one append-only audit record. The log is never
// consulted for routing decisions.
type EventLogEntry struct {
	ID            string        `db:"id" json:"id"`
	EventType     string        `db:"event_type" json:"event_type"`
	Timestamp     time.Time     `db:"timestamp" json:"timestamp"`
	Actor         string        `db:"actor" json:"actor,omitempty"`
	CorrelationID string        `db:"correlation_id" json:"correlation_id,omitempty"`
	EntityID      string        `db:"entity_id" json:"entity_id,omitempty"`
	EntityType    string        `db:"entity_type" json:"entity_type,omitempty"`
	Severity      EventSeverity `db:"severity" json:"severity"`
	Payload       string        `db:"payload" json:"payload"`
	Tags          string        `db:"tags" json:"tags,omitempty"`
}
