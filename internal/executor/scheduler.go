package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/pkg/models"
)

// ReadySet returns the tasks in plan that are PENDING and whose
// dependencies are all COMPLETED, in plan order.
func ReadySet(plan *models.Plan) []*models.Task {
	var ready []*models.Task
	for _, task := range plan.Tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if dependenciesSatisfied(plan, task) {
			ready = append(ready, task)
		}
	}
	return ready
}

func dependenciesSatisfied(plan *models.Plan, task *models.Task) bool {
	for _, depID := range task.Dependencies {
		dep := plan.TaskByID(depID)
		if dep == nil || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// blockedByFailure reports whether task can never run because a
// dependency has terminally failed or been cancelled.
func blockedByFailure(plan *models.Plan, task *models.Task) bool {
	for _, depID := range task.Dependencies {
		dep := plan.TaskByID(depID)
		if dep == nil {
			continue
		}
		if dep.Status == models.TaskStatusFailed || dep.Status == models.TaskStatusCancelled {
			return true
		}
	}
	return false
}

// RunPlan drives plan to completion: it repeatedly computes the ready
// set, dispatches it in parallel through exec (bounded by
// Config.MaxWorkers), and cancels every task downstream of a failure
// before it ever starts. It returns once every task has reached a
// terminal status.
func RunPlan(ctx context.Context, exec *Executor, plan *models.Plan, limits ResourceLimits) []*models.TaskResult {
	results := make(map[string]*models.TaskResult)
	var mu sync.Mutex

	for {
		propagateFailures(plan, results, &mu)

		ready := ReadySet(plan)
		if len(ready) == 0 {
			if allTerminal(plan) {
				break
			}
			// No task is ready but the plan isn't done: the remaining
			// tasks are blocked by failures that haven't been propagated
			// to CANCELLED yet on this pass, or a cycle exists in the
			// dependency graph. Either way, nothing more can run.
			break
		}

		for _, task := range ready {
			task.Status = models.TaskStatusRunning
		}

		sem := make(chan struct{}, exec.config.MaxWorkers)
		var wg sync.WaitGroup
		for _, task := range ready {
			wg.Add(1)
			sem <- struct{}{}
			go func(task *models.Task) {
				defer wg.Done()
				defer func() { <-sem }()

				result := exec.ExecuteTask(ctx, task, limits, nil)

				mu.Lock()
				results[task.ID] = result
				if result.Success {
					task.Status = models.TaskStatusCompleted
				} else {
					task.Status = models.TaskStatusFailed
					task.Error = result.Error
				}
				task.Result = result
				mu.Unlock()
			}(task)
		}
		wg.Wait()
	}

	out := make([]*models.TaskResult, 0, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if r, ok := results[task.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// propagateFailures marks every still-PENDING task that depends (directly
// or transitively) on a FAILED or CANCELLED task as CANCELLED, recording
// a synthetic TaskResult so callers see a complete result set.
func propagateFailures(plan *models.Plan, results map[string]*models.TaskResult, mu *sync.Mutex) {
	changed := true
	for changed {
		changed = false
		for _, task := range plan.Tasks {
			if task.Status != models.TaskStatusPending {
				continue
			}
			if blockedByFailure(plan, task) {
				task.Status = models.TaskStatusCancelled
				task.Error = fmt.Sprintf("%v: upstream dependency failed", laioserr.ErrCancelled)
				mu.Lock()
				results[task.ID] = &models.TaskResult{
					TaskID:  task.ID,
					Success: false,
					Error:   task.Error,
				}
				mu.Unlock()
				changed = true
			}
		}
	}
}

func allTerminal(plan *models.Plan) bool {
	for _, task := range plan.Tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// DetectCycle reports whether plan's dependency graph contains a cycle,
// returning the offending task IDs if so. A well-formed plan produced by
// the planner is always acyclic; this guards against a malformed one
// reaching the scheduler.
func DetectCycle(plan *models.Plan) ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(plan.Tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case black:
			return false
		case gray:
			cycle = append(append([]string{}, stack...), id)
			return true
		}
		color[id] = gray
		stack = append(stack, id)
		task := plan.TaskByID(id)
		if task != nil {
			for _, dep := range task.Dependencies {
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, task := range plan.Tasks {
		if visit(task.ID) {
			return cycle, true
		}
	}
	return nil, false
}
