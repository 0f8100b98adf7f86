// Package models defines the data types shared across the LAIOS runtime:
// goals, tasks, plans, results, sessions, tools, and the insights the
// reflector accumulates. These are plain data — the behavior that operates
// on them lives in internal/.
package models

import (
	"time"
)

// Permission is one capability a tool may require before it can run.
type Permission string

// The closed set of permissions a tool can declare.
const (
	PermissionFilesystemRead  Permission = "FILESYSTEM_READ"
	PermissionFilesystemWrite Permission = "FILESYSTEM_WRITE"
	PermissionShellExec       Permission = "SHELL_EXEC"
	PermissionNetwork         Permission = "NETWORK"
)

// TaskStatus is the task state machine: PENDING -> RUNNING -> {COMPLETED,
// FAILED, CANCELLED}, with a direct PENDING -> CANCELLED edge. Transitions
// are monotonic; there are no back-edges.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether the status is one no further transition leaves.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal,
// monotonic transition per the task state machine.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		switch next {
		case TaskStatusRunning, TaskStatusCancelled:
			return true
		}
	case TaskStatusRunning:
		switch next {
		case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
			return true
		}
	}
	return false
}

// PlanStatus is the lifecycle of a Plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "DRAFT"
	PlanStatusReady     PlanStatus = "READY"
	PlanStatusRunning   PlanStatus = "RUNNING"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusFailed    PlanStatus = "FAILED"
	PlanStatusAbandoned PlanStatus = "ABANDONED"
)

// Goal is the immutable request that a Plan is built to satisfy.
type Goal struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Task is one node in a Plan's dependency DAG.
type Task struct {
	ID           string         `json:"id"`
	PlanID       string         `json:"plan_id"`
	Description  string         `json:"description"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       TaskStatus     `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       *TaskResult    `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DependsOn reports whether the task declares depID as a dependency.
func (t *Task) DependsOn(depID string) bool {
	for _, d := range t.Dependencies {
		if d == depID {
			return true
		}
	}
	return false
}

// Plan is a goal decomposed into a task DAG.
type Plan struct {
	ID        string     `json:"id"`
	Goal      Goal       `json:"goal"`
	Tasks     []*Task    `json:"tasks"`
	Status    PlanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// TaskByID returns the task with the given id, or nil if absent.
func (p *Plan) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TaskResult is the outcome of one task attempt.
type TaskResult struct {
	TaskID               string         `json:"task_id"`
	Success              bool           `json:"success"`
	Output               any            `json:"output,omitempty"`
	Error                string         `json:"error,omitempty"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Message is one turn in a Context's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the mutable conversational state tied to one session.
// Only the Controller mutates Messages; other readers must snapshot.
type Context struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Messages  []Message      `json:"messages,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Snapshot returns a copy of the context safe for a reader to hold onto
// without observing further mutation by the owning Controller.
func (c *Context) Snapshot() Context {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Context{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Messages:  msgs,
		Metadata:  c.Metadata,
	}
}

// Episode is the append-only record of one execute_goal invocation.
type Episode struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Plan      *Plan         `json:"plan"`
	Results   []*TaskResult `json:"results"`
	Success   bool          `json:"success"`
	CreatedAt time.Time     `json:"created_at"`
}

// TrustLevel gates approval of destructive tool invocations.
type TrustLevel string

const (
	TrustAutonomous TrustLevel = "AUTONOMOUS"
	TrustBalanced   TrustLevel = "BALANCED"
	TrustSupervised TrustLevel = "SUPERVISED"
)

// Session is a long-lived conversational context tied to a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Context   *Context  `json:"context"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Insight is a durable learned fact the Reflector accumulates.
type Insight struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Evidence    []string  `json:"evidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Insight categories.
const (
	InsightToolEffectiveness = "tool_effectiveness"
	InsightFailureMode       = "failure_mode"
	InsightPerformance       = "performance"
)

// FailurePattern is a recurring failure signature across tasks or episodes.
type FailurePattern struct {
	PatternType string    `json:"pattern_type"`
	Description string    `json:"description"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Examples    []string  `json:"examples,omitempty"`
}

// MemoryRecord is one long-term memory hit returned by RecallLongTerm,
// ranked by relevance to the query that produced it.
type MemoryRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score"`
	CreatedAt time.Time      `json:"created_at"`
}

// Failure pattern categories shared with error categorization.
const (
	PatternTimeout     = "timeout"
	PatternToolFailure = "tool_failure"
	PatternNetwork     = "network"
	PatternPermission  = "permission"
	PatternNotFound    = "not_found"
	PatternValidation  = "validation"
	PatternResource    = "resource"
	PatternSequential  = "sequential"
)
