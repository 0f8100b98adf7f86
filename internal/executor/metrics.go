// Package executor runs individual tasks against the tool registry: it
// enforces per-task timeouts, retries with exponential backoff and
// jitter, caps concurrency with a worker pool, and tracks execution
// metrics and progress for every task it runs.
package executor

import (
	"sync"
	"time"
)

// ResourceLimits bounds one task's execution. CPU/memory limits are
// advisory metadata carried alongside the timeout — the runtime has no
// portable way to enforce them itself, so they are surfaced to callers
// (e.g. a container-based tool runner) rather than enforced here.
type ResourceLimits struct {
	TimeoutSeconds float64
	MemoryLimitMB  int
	CPULimitPercent float64
}

// DefaultResourceLimits mirrors the runtime's default budget for a task
// with no explicit limits configured.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{TimeoutSeconds: 30, MemoryLimitMB: 512, CPULimitPercent: 100}
}

// Checkpoint is one named, timestamped marker recorded mid-execution.
type Checkpoint struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionMetrics tracks one task execution's timing and checkpoints.
type ExecutionMetrics struct {
	TaskID string `json:"task_id"`

	mu          sync.Mutex
	startTime   time.Time
	endTime     time.Time
	checkpoints []Checkpoint
}

// NewExecutionMetrics creates metrics for taskID.
func NewExecutionMetrics(taskID string) *ExecutionMetrics {
	return &ExecutionMetrics{TaskID: taskID}
}

// Start records the execution's start time.
func (m *ExecutionMetrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
}

// End records the execution's end time.
func (m *ExecutionMetrics) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endTime = time.Now()
}

// Checkpoint records a named milestone with optional associated data.
func (m *ExecutionMetrics) Checkpoint(name string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, Checkpoint{Name: name, Timestamp: time.Now(), Data: data})
}

// Duration returns elapsed time between Start and End. If End has not
// been called yet, it measures up to now.
func (m *ExecutionMetrics) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startTime.IsZero() {
		return 0
	}
	end := m.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(m.startTime)
}

// Snapshot is a point-in-time, JSON-friendly view of ExecutionMetrics.
type Snapshot struct {
	TaskID           string         `json:"task_id"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time,omitempty"`
	DurationSeconds  float64        `json:"duration_seconds"`
	Checkpoints      []Checkpoint   `json:"checkpoints,omitempty"`
}

// ToMap returns a snapshot of the metrics suitable for JSON encoding or
// logging.
func (m *ExecutionMetrics) ToMap() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	checkpoints := make([]Checkpoint, len(m.checkpoints))
	copy(checkpoints, m.checkpoints)

	duration := 0.0
	if !m.startTime.IsZero() {
		end := m.endTime
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(m.startTime).Seconds()
	}

	return Snapshot{
		TaskID:          m.TaskID,
		StartTime:       m.startTime,
		EndTime:         m.endTime,
		DurationSeconds: duration,
		Checkpoints:     checkpoints,
	}
}
