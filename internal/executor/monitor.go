package executor

import "sync"

// TaskMonitor tracks which tasks are currently running and holds their
// ExecutionMetrics for later inspection, independent of the Executor
// that drives the actual work.
type TaskMonitor struct {
	mu      sync.Mutex
	running map[string]bool
	metrics map[string]*ExecutionMetrics
}

// NewTaskMonitor creates an empty TaskMonitor.
func NewTaskMonitor() *TaskMonitor {
	return &TaskMonitor{
		running: make(map[string]bool),
		metrics: make(map[string]*ExecutionMetrics),
	}
}

// StartMonitoring marks taskID as running and creates fresh metrics for it.
func (m *TaskMonitor) StartMonitoring(taskID string) *ExecutionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics := NewExecutionMetrics(taskID)
	metrics.Start()
	m.running[taskID] = true
	m.metrics[taskID] = metrics
	return metrics
}

// StopMonitoring marks taskID as no longer running and closes out its
// metrics end time. The metrics remain queryable via GetMetrics.
func (m *TaskMonitor) StopMonitoring(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, taskID)
	if metrics, ok := m.metrics[taskID]; ok {
		metrics.End()
	}
}

// IsRunning reports whether taskID is currently tracked as running.
func (m *TaskMonitor) IsRunning(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[taskID]
}

// GetRunningTasks returns the IDs of every task currently tracked as running.
func (m *TaskMonitor) GetRunningTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	return out
}

// Checkpoint records a checkpoint against taskID's metrics, if being tracked.
func (m *TaskMonitor) Checkpoint(taskID, name string, data map[string]any) {
	m.mu.Lock()
	metrics, ok := m.metrics[taskID]
	m.mu.Unlock()
	if ok {
		metrics.Checkpoint(name, data)
	}
}

// GetMetrics returns taskID's metrics, or nil if never tracked.
func (m *TaskMonitor) GetMetrics(taskID string) *ExecutionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[taskID]
}

// ClearMetrics discards all retained metrics and running-task state.
func (m *TaskMonitor) ClearMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = make(map[string]bool)
	m.metrics = make(map[string]*ExecutionMetrics)
}
