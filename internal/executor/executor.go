package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/laios/laios/internal/hardening"
	"github.com/laios/laios/internal/laioserr"
	runtimemetrics "github.com/laios/laios/internal/metrics"
	"github.com/laios/laios/pkg/models"
)

// Runner executes one tool invocation. internal/registry.Registry
// satisfies this.
type Runner interface {
	Execute(ctx context.Context, name string, params map[string]any) (*models.ToolOutput, error)
}

// ProgressStatus is the lifecycle a single task execution passes through.
type ProgressStatus string

const (
	ProgressStarting   ProgressStatus = "STARTING"
	ProgressInProgress ProgressStatus = "IN_PROGRESS"
	ProgressCompleting ProgressStatus = "COMPLETING"
	ProgressCompleted  ProgressStatus = "COMPLETED"
	ProgressFailed     ProgressStatus = "FAILED"
	ProgressCancelled  ProgressStatus = "CANCELLED"
)

// ProgressFunc receives status transitions as a task executes. data
// carries status-specific detail (e.g. {"task_id": ...}).
type ProgressFunc func(status ProgressStatus, data map[string]any)

// Config configures an Executor.
type Config struct {
	MaxWorkers       int
	EnableMonitoring bool
	Logger           *slog.Logger

	// RetryInitialDelay/RetryMaxDelay/RetryFactor/RetryJitter parameterize
	// ExecuteWithRetry's exponential backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFactor       float64
	RetryJitter       float64

	// Metrics, if set, receives task latency, tool invocation, circuit
	// breaker, and rate limiter observations. Nil disables instrumentation.
	Metrics *runtimemetrics.Registry

	// RateLimit bounds tool invocations per tool name. Zero value (not
	// Enabled) leaves the executor unthrottled.
	RateLimit hardening.RateLimitConfig

	// Breaker is the template used to build one circuit breaker per
	// tool name on first use; its Name field is overwritten with the
	// tool name.
	Breaker hardening.BreakerConfig
}

// DefaultConfig returns the recommended Config. New fills the same
// MaxWorkers and retry delay/factor values into a zero-valued Config, but
// leaves EnableMonitoring off and RetryJitter at zero.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:        4,
		EnableMonitoring:  true,
		RetryInitialDelay: 100 * time.Millisecond,
		RetryMaxDelay:     30 * time.Second,
		RetryFactor:       2.0,
		RetryJitter:       0.1,
	}
}

// Executor runs tasks against a Runner (the tool registry), one at a
// time or many in parallel, with per-task timeout, retry, cancellation,
// and metrics.
type Executor struct {
	runner  Runner
	config  Config
	monitor *TaskMonitor
	logger  *slog.Logger
	metrics *runtimemetrics.Registry
	limiter *hardening.RateLimiter

	mu        sync.Mutex
	cancelled map[string]bool
	breakers  map[string]*hardening.CircuitBreaker
}

// New builds an Executor over runner.
func New(runner Runner, config Config) *Executor {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	if config.RetryInitialDelay <= 0 {
		config.RetryInitialDelay = 100 * time.Millisecond
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 30 * time.Second
	}
	if config.RetryFactor <= 0 {
		config.RetryFactor = 2.0
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "executor")
	}

	return &Executor{
		runner:    runner,
		config:    config,
		monitor:   NewTaskMonitor(),
		logger:    logger,
		metrics:   config.Metrics,
		limiter:   hardening.NewRateLimiter(config.RateLimit, nil),
		cancelled: make(map[string]bool),
		breakers:  make(map[string]*hardening.CircuitBreaker),
	}
}

// breakerFor returns the circuit breaker guarding toolName, building one
// from Config.Breaker on first use.
func (e *Executor) breakerFor(toolName string) *hardening.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[toolName]; ok {
		return cb
	}
	cfg := e.config.Breaker
	cfg.Name = toolName
	if e.metrics != nil {
		cfg.OnStateChange = func(from, to string) {
			e.metrics.ObserveBreakerTransition(toolName, from, to)
		}
	}
	cb := hardening.NewCircuitBreaker(cfg)
	e.breakers[toolName] = cb
	return cb
}

// CancelTask marks taskID as cancelled. A subsequent ExecuteTask call for
// that ID returns a failed result with "cancelled" in the error before
// ever invoking the tool. The flag is sticky: a bare ExecuteTask call
// leaves it set, and ExecuteWithRetry only clears it once its whole retry
// loop gives up, so a cancelled task cannot slip through on a later retry
// attempt.
func (e *Executor) CancelTask(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[taskID] = true
}

func (e *Executor) isCancelled(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[taskID]
}

func (e *Executor) clearCancelled(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancelled, taskID)
}

// GetRunningTasks returns the IDs of tasks currently executing.
func (e *Executor) GetRunningTasks() []string {
	return e.monitor.GetRunningTasks()
}

// GetMetrics returns the ExecutionMetrics for taskID, or nil if it was
// never run (or monitoring is disabled).
func (e *Executor) GetMetrics(taskID string) *ExecutionMetrics {
	return e.monitor.GetMetrics(taskID)
}

// ClearMetrics discards all retained execution metrics.
func (e *Executor) ClearMetrics() {
	e.monitor.ClearMetrics()
}

// ExecuteTask runs task once, applying its ResourceLimits timeout (if
// any) and reporting progress through onProgress (which may be nil).
func (e *Executor) ExecuteTask(ctx context.Context, task *models.Task, limits ResourceLimits, onProgress ProgressFunc) *models.TaskResult {
	start := time.Now()
	report := func(status ProgressStatus) {
		if onProgress != nil {
			onProgress(status, map[string]any{"task_id": task.ID})
		}
	}

	report(ProgressStarting)

	if e.isCancelled(task.ID) {
		report(ProgressCancelled)
		return &models.TaskResult{
			TaskID:               task.ID,
			Success:              false,
			Error:                "task was cancelled before execution",
			ExecutionTimeSeconds: time.Since(start).Seconds(),
		}
	}

	now := start
	task.StartedAt = &now
	defer func() {
		completed := time.Now()
		task.CompletedAt = &completed
	}()

	var taskMetrics *ExecutionMetrics
	if e.config.EnableMonitoring {
		taskMetrics = e.monitor.StartMonitoring(task.ID)
		defer e.monitor.StopMonitoring(task.ID)
	}

	record := func(status string) {
		if e.metrics == nil {
			return
		}
		e.metrics.TaskDuration.WithLabelValues(task.ToolName, status).Observe(time.Since(start).Seconds())
		e.metrics.ToolInvocations.WithLabelValues(task.ToolName, status).Inc()
	}

	if !e.limiter.Allow(task.ToolName) {
		record("rejected")
		if e.metrics != nil {
			e.metrics.RateLimiterRejections.WithLabelValues(task.ToolName).Inc()
		}
		report(ProgressFailed)
		return &models.TaskResult{
			TaskID:               task.ID,
			Success:              false,
			Error:                fmt.Sprintf("rate limit exceeded for tool %q", task.ToolName),
			ExecutionTimeSeconds: time.Since(start).Seconds(),
		}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if limits.TimeoutSeconds > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(limits.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	report(ProgressInProgress)

	breaker := e.breakerFor(task.ToolName)
	out, err := hardening.ExecuteWithResult(breaker, execCtx, func(c context.Context) (*models.ToolOutput, error) {
		return e.runner.Execute(c, task.ToolName, task.Parameters)
	})
	elapsed := time.Since(start).Seconds()

	if taskMetrics != nil {
		taskMetrics.Checkpoint("completed", map[string]any{"elapsed_seconds": elapsed})
	}

	if errors.Is(err, hardening.ErrCircuitOpen) {
		record("rejected")
		report(ProgressFailed)
		return &models.TaskResult{
			TaskID:               task.ID,
			Success:              false,
			Error:                err.Error(),
			ExecutionTimeSeconds: elapsed,
		}
	}

	if err != nil {
		record("error")
		report(ProgressFailed)
		return &models.TaskResult{
			TaskID:               task.ID,
			Success:              false,
			Error:                err.Error(),
			ExecutionTimeSeconds: elapsed,
		}
	}

	if execCtx.Err() != nil {
		record("error")
		report(ProgressFailed)
		msg := "timeout executing task"
		if strings.Contains(strings.ToLower(execCtx.Err().Error()), "cancel") {
			msg = "task cancelled: " + execCtx.Err().Error()
		}
		return &models.TaskResult{
			TaskID:               task.ID,
			Success:              false,
			Error:                msg,
			ExecutionTimeSeconds: elapsed,
		}
	}

	report(ProgressCompleting)

	result := &models.TaskResult{
		TaskID:               task.ID,
		Success:              out.Success,
		Output:               out.Data,
		Error:                out.Error,
		ExecutionTimeSeconds: elapsed,
	}

	if out.Success {
		record("success")
		report(ProgressCompleted)
	} else {
		record("error")
		report(ProgressFailed)
	}
	return result
}

// ExecuteAsync runs task in a goroutine and returns a channel that
// receives exactly one result.
func (e *Executor) ExecuteAsync(ctx context.Context, task *models.Task, limits ResourceLimits, onProgress ProgressFunc) <-chan *models.TaskResult {
	out := make(chan *models.TaskResult, 1)
	go func() {
		out <- e.ExecuteTask(ctx, task, limits, onProgress)
		close(out)
	}()
	return out
}

// ExecuteParallel runs every task concurrently, bounded by
// Config.MaxWorkers, and returns results in the same order as the input
// tasks regardless of completion order.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []*models.Task, limits ResourceLimits) []*models.TaskResult {
	results := make([]*models.TaskResult, len(tasks))
	sem := make(chan struct{}, e.config.MaxWorkers)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task *models.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.ExecuteTask(ctx, task, limits, nil)
		}(i, task)
	}
	wg.Wait()
	return results
}

// ExecuteWithRetry runs task up to maxRetries+1 times, applying
// exponential backoff with jitter between attempts. It stops retrying as
// soon as an attempt succeeds. A cancelled task or an open circuit breaker
// also stops the loop immediately rather than burning the remaining
// attempts. If every attempt fails, the final result has
// metadata["retry_exhausted"] = true.
func (e *Executor) ExecuteWithRetry(ctx context.Context, task *models.Task, limits ResourceLimits, maxRetries int, onProgress ProgressFunc) *models.TaskResult {
	if maxRetries < 0 {
		maxRetries = 0
	}

	// The cancellation flag stays set across every attempt in this loop;
	// only once the loop itself gives up (success, cancellation, open
	// breaker, or exhaustion) is it safe to clear it for reuse.
	defer e.clearCancelled(task.ID)

	var last *models.TaskResult
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt)
			select {
			case <-ctx.Done():
				return &models.TaskResult{
					TaskID: task.ID,
					Success: false,
					Error:  ctx.Err().Error(),
				}
			case <-time.After(delay):
			}
		}

		if e.isCancelled(task.ID) {
			return e.ExecuteTask(ctx, task, limits, onProgress)
		}
		if e.breakerFor(task.ToolName).State() == hardening.StateOpen {
			last = e.ExecuteTask(ctx, task, limits, onProgress)
			break
		}

		last = e.ExecuteTask(ctx, task, limits, onProgress)
		if last.Success {
			return last
		}
		e.logger.Warn("task attempt failed", "task_id", task.ID, "attempt", attempt+1, "error", last.Error)
	}

	if last == nil {
		last = &models.TaskResult{TaskID: task.ID, Success: false, Error: fmt.Sprintf("%v", laioserr.ErrToolExecution)}
	}
	if last.Metadata == nil {
		last.Metadata = map[string]any{}
	}
	last.Metadata["retry_exhausted"] = true
	return last
}

func (e *Executor) backoff(attempt int) time.Duration {
	base := float64(e.config.RetryInitialDelay) * math.Pow(e.config.RetryFactor, float64(attempt-1))
	jitter := base * e.config.RetryJitter * rand.Float64() // #nosec G404 -- jitter does not need cryptographic randomness
	total := math.Min(float64(e.config.RetryMaxDelay), base+jitter)
	return time.Duration(total)
}
