// Package laioserr declares the closed set of error kinds the runtime
// raises, following the teacher's convention of exported sentinel errors
// checked with errors.Is rather than a custom error-code enum.
package laioserr

import "errors"

var (
	// ErrValidation covers bad tool parameters or schema mismatches.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers a missing tool, task, or session.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied covers trust-gate denial or a missing permission grant.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrToolExecution covers a tool body reporting or raising a failure.
	ErrToolExecution = errors.New("tool execution error")

	// ErrTimeout covers a watchdog-enforced execution timeout.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled covers a task cancelled before or during execution.
	ErrCancelled = errors.New("cancelled")

	// ErrCircuitOpen covers a protected operation rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited covers a rejection from the token-bucket rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSanitization covers input rejected by the sanitizer.
	ErrSanitization = errors.New("sanitization error")

	// ErrPlanning covers a planner unable to produce a valid plan.
	ErrPlanning = errors.New("planning error")

	// ErrDependency covers a plugin dependency cycle or missing dependency.
	ErrDependency = errors.New("dependency error")

	// ErrProvider covers an LLM provider or network failure.
	ErrProvider = errors.New("provider error")

	// ErrDuplicateName covers registering a tool name that already exists.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrInvalidTool covers a tool missing required attributes.
	ErrInvalidTool = errors.New("invalid tool")

	// ErrAlreadyShuttingDown covers a second call to an already-running shutdown.
	ErrAlreadyShuttingDown = errors.New("already shutting down")
)
