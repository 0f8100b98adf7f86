// Package reflector evaluates task and plan outcomes, categorizes
// failures, and accumulates insights across episodes so the controller's
// replanning loop can decide whether to try again and the planner can
// learn which tools and task shapes tend to fail.
package reflector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/pkg/models"
)

// ReflectionCriteria is the bar a plan's execution must clear to be
// considered successful outright rather than a replan candidate.
type ReflectionCriteria struct {
	MinSuccessRate             float64
	MaxExecutionTimeMultiplier float64
	RequireAllTasksComplete    bool
	CheckOutputQuality         bool
}

// DefaultReflectionCriteria returns the standard criteria: an 80% task
// success rate, tasks running within 2x their expected time, full
// completion required, and CheckOutputQuality set. EvaluateTask and
// EvaluatePlan do not read CheckOutputQuality.
func DefaultReflectionCriteria() ReflectionCriteria {
	return ReflectionCriteria{
		MinSuccessRate:             0.8,
		MaxExecutionTimeMultiplier: 2.0,
		RequireAllTasksComplete:    true,
		CheckOutputQuality:         true,
	}
}

// ReflectionCriteriaFromConfig builds criteria from a loosely-typed config
// map, falling back to DefaultReflectionCriteria for any unset field.
func ReflectionCriteriaFromConfig(cfg map[string]any) ReflectionCriteria {
	c := DefaultReflectionCriteria()
	if v, ok := cfg["min_success_rate"].(float64); ok {
		c.MinSuccessRate = v
	}
	if v, ok := cfg["max_execution_time_multiplier"].(float64); ok {
		c.MaxExecutionTimeMultiplier = v
	}
	if v, ok := cfg["require_all_tasks_complete"].(bool); ok {
		c.RequireAllTasksComplete = v
	}
	if v, ok := cfg["check_output_quality"].(bool); ok {
		c.CheckOutputQuality = v
	}
	return c
}

// Evaluation is the verdict the reflector renders on one task or plan
// execution: whether it truly succeeded, how confident the reflector is
// in that verdict, what went wrong, what to do about it, and whether the
// controller should replan rather than accept the result.
type Evaluation struct {
	Success      bool
	Confidence   float64
	Issues       []string
	Suggestions  []string
	ShouldReplan bool
}

// Error-text categories. A failure is matched against these in order;
// the first substring match wins.
const (
	categoryTimeout    = models.PatternTimeout
	categoryPermission = models.PatternPermission
	categoryNotFound   = models.PatternNotFound
	categoryNetwork    = models.PatternNetwork
	categoryValidation = models.PatternValidation
	categoryResource   = models.PatternResource
)

var categoryMatchers = []struct {
	category string
	needles  []string
}{
	{categoryTimeout, []string{"timeout", "timed out"}},
	{categoryPermission, []string{"permission denied", "permission"}},
	{categoryNotFound, []string{"not found"}},
	{categoryNetwork, []string{"network", "unreachable", "connection refused"}},
	{categoryValidation, []string{"invalid", "validation"}},
	{categoryResource, []string{"out of memory", "memory", "resource"}},
}

// categorizeError maps a raw error message to one of the known failure
// categories, or "" if none match.
func categorizeError(errMsg string) string {
	lower := strings.ToLower(errMsg)
	for _, m := range categoryMatchers {
		for _, needle := range m.needles {
			if strings.Contains(lower, needle) {
				return m.category
			}
		}
	}
	return ""
}

// suggestionsForCategory returns canned remediation suggestions for a
// failure category. Every category, including the unknown one, returns
// at least one suggestion.
func suggestionsForCategory(category string) []string {
	switch category {
	case categoryTimeout:
		return []string{
			"increase the task timeout",
			"add retry logic with backoff for the operation",
		}
	case categoryPermission:
		return []string{
			"check credentials or file permissions before retrying",
			"request a higher trust level for this tool",
		}
	case categoryNotFound:
		return []string{
			"verify the referenced resource exists before this task runs",
			"add an existence check as a preceding task",
		}
	case categoryNetwork:
		return []string{
			"add retry logic for transient network failures",
			"check network connectivity to the target",
		}
	case categoryValidation:
		return []string{
			"validate task parameters before invoking the tool",
			"add input validation to the plan step",
		}
	case categoryResource:
		return []string{
			"reduce the task's resource usage or raise its limits",
			"split the task into smaller pieces",
		}
	default:
		return []string{
			"review the task error and adjust the approach",
			"consider an alternative tool for this step",
		}
	}
}

// Reflector evaluates task and plan executions, accumulating failure
// patterns and insights as it goes. An optional LLM provider enriches
// plan-level evaluations with free-text suggestions.
type Reflector struct {
	llm        llmrouter.Provider
	criteria   ReflectionCriteria
	enableLLM  bool
	logger     *slog.Logger

	mu       sync.Mutex
	patterns []models.FailurePattern
	insights []models.Insight
}

// New builds a Reflector. llm may be nil, in which case LLM-based
// reflection is always skipped regardless of enableLLM.
func New(llm llmrouter.Provider, criteria ReflectionCriteria, enableLLM bool, logger *slog.Logger) *Reflector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reflector{llm: llm, criteria: criteria, enableLLM: enableLLM, logger: logger}
}

// EvaluateTask judges a single task's result: whether it truly succeeded
// (a slow "success" can still be judged a failure), what went wrong, and
// what to do about it.
func (r *Reflector) EvaluateTask(ctx context.Context, task *models.Task, result *models.TaskResult, execCtx *models.Context) *Evaluation {
	eval := &Evaluation{Success: result.Success}

	if !result.Success {
		eval.Success = false
		eval.Confidence = 0.2
		eval.Issues = append(eval.Issues, fmt.Sprintf("task failed: %s", result.Error))
		category := categorizeError(result.Error)
		eval.Suggestions = append(eval.Suggestions, suggestionsForCategory(category)...)
		return eval
	}

	if expected, ok := expectedTimeSeconds(task); ok && expected > 0 {
		if result.ExecutionTimeSeconds > expected*r.criteria.MaxExecutionTimeMultiplier {
			eval.Success = false
			eval.Confidence = 0.6
			eval.Issues = append(eval.Issues, fmt.Sprintf(
				"task took %.1fs, expected around %.1fs", result.ExecutionTimeSeconds, expected))
			eval.Suggestions = append(eval.Suggestions,
				"consider splitting this task or optimizing the underlying tool",
				"adjust the task's expected_time_seconds if this duration is normal")
			return eval
		}
	}

	eval.Confidence = 0.9
	return eval
}

func expectedTimeSeconds(task *models.Task) (float64, bool) {
	if task == nil || task.Metadata == nil {
		return 0, false
	}
	v, ok := task.Metadata["expected_time_seconds"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// EvaluatePlan judges a plan's overall execution: the aggregate success
// rate, recurring failure patterns across its tasks, and whether the
// controller should replan. Detected patterns are recorded and
// retrievable via GetFailurePatterns.
func (r *Reflector) EvaluatePlan(ctx context.Context, plan *models.Plan, results []*models.TaskResult, execCtx *models.Context) *Evaluation {
	eval := &Evaluation{}

	total := len(results)
	successCount := 0
	for _, res := range results {
		if res.Success {
			successCount++
		}
	}

	successRate := 1.0
	if total > 0 {
		successRate = float64(successCount) / float64(total)
	}

	allComplete := true
	if r.criteria.RequireAllTasksComplete {
		for _, t := range plan.Tasks {
			if t.Status != models.TaskStatusCompleted {
				allComplete = false
				break
			}
		}
	}

	eval.Success = successRate >= 1.0 && allComplete
	eval.Confidence = successRate
	eval.ShouldReplan = successRate < r.criteria.MinSuccessRate

	r.collectFailurePatterns(plan, results, eval)

	if hasLongSequentialChain(plan) {
		eval.Issues = append(eval.Issues,
			"plan executes as a long sequential chain; consider parallelizing independent tasks")
		eval.Suggestions = append(eval.Suggestions,
			"re-examine task dependencies for steps that could run in parallel")
	}

	if !eval.Success {
		eval.Suggestions = append(eval.Suggestions, "review failed tasks and consider replanning")
	}

	if r.enableLLM && r.llm != nil && (!eval.Success || len(eval.Issues) > 0) {
		promptIssues := append([]string(nil), eval.Issues...)
		for _, res := range results {
			if !res.Success {
				promptIssues = append(promptIssues, fmt.Sprintf("task %s failed: %s", res.TaskID, res.Error))
			}
		}
		if extra := r.llmSuggestions(ctx, plan, promptIssues); len(extra) > 0 {
			eval.Suggestions = append(eval.Suggestions, extra...)
		}
	}

	return eval
}

// collectFailurePatterns groups failed results by error category and by
// tool, records a FailurePattern once a category or tool crosses its
// repetition threshold, and appends a human-readable issue for each.
func (r *Reflector) collectFailurePatterns(plan *models.Plan, results []*models.TaskResult, eval *Evaluation) {
	const categoryThreshold = 3
	const toolThreshold = 2

	byCategory := map[string][]string{}
	byTool := map[string][]string{}

	for _, res := range results {
		if res.Success {
			continue
		}
		category := categorizeError(res.Error)
		if category != "" {
			byCategory[category] = append(byCategory[category], res.TaskID)
		}
		if task := plan.TaskByID(res.TaskID); task != nil && task.ToolName != "" {
			byTool[task.ToolName] = append(byTool[task.ToolName], res.TaskID)
		}
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for category, taskIDs := range byCategory {
		if len(taskIDs) < categoryThreshold {
			continue
		}
		r.patterns = append(r.patterns, models.FailurePattern{
			PatternType: category,
			Description: fmt.Sprintf("%d tasks failed with %s errors", len(taskIDs), category),
			Occurrences: len(taskIDs),
			FirstSeen:   now,
			LastSeen:    now,
			Examples:    taskIDs,
		})
		eval.Issues = append(eval.Issues, fmt.Sprintf("%d tasks failed due to %s errors", len(taskIDs), category))
		eval.Suggestions = append(eval.Suggestions, suggestionsForCategory(category)...)
	}

	for tool, taskIDs := range byTool {
		if len(taskIDs) < toolThreshold {
			continue
		}
		r.patterns = append(r.patterns, models.FailurePattern{
			PatternType: models.PatternToolFailure,
			Description: fmt.Sprintf("tool %q failed repeatedly (%d times)", tool, len(taskIDs)),
			Occurrences: len(taskIDs),
			FirstSeen:   now,
			LastSeen:    now,
			Examples:    taskIDs,
		})
		eval.Issues = append(eval.Issues, fmt.Sprintf("tool %q failed in %d tasks", tool, len(taskIDs)))
		eval.Suggestions = append(eval.Suggestions, fmt.Sprintf("investigate or replace the %q tool", tool))
	}
}

// hasLongSequentialChain reports whether plan is (close to) a single
// linear chain of dependencies, the shape that benefits most from being
// split into parallel branches.
func hasLongSequentialChain(plan *models.Plan) bool {
	if len(plan.Tasks) < 5 {
		return false
	}
	dependents := map[string]int{}
	chained := 0
	for _, t := range plan.Tasks {
		if len(t.Dependencies) > 1 {
			return false
		}
		if len(t.Dependencies) == 1 {
			chained++
		}
		for _, d := range t.Dependencies {
			dependents[d]++
		}
	}
	for _, count := range dependents {
		if count > 1 {
			return false
		}
	}
	// Require all but one task (the chain's root) to depend on exactly
	// one predecessor, so a batch of independent tasks isn't mistaken
	// for a chain just because none of them branch.
	return chained >= len(plan.Tasks)-1
}

// llmSuggestions asks the configured provider for free-text suggestions
// given the issues found so far. Failures are logged and swallowed: an
// LLM-reflection hiccup should never fail the evaluation itself.
func (r *Reflector) llmSuggestions(ctx context.Context, plan *models.Plan, issues []string) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "The plan for goal %q had these issues:\n", plan.Goal.Description)
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	b.WriteString("Suggest concrete improvements, one per line.\n")

	resp, err := r.llm.Generate(ctx, llmrouter.GenerateRequest{
		Messages: []llmrouter.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		r.logger.Warn("reflector: llm suggestion call failed", "error", err)
		return nil
	}
	return parseSuggestionLines(resp.Content)
}

// parseSuggestionLines turns a free-text, possibly numbered list into
// individual suggestion strings.
func parseSuggestionLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "0123456789.-) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// LearnFromEpisode extracts durable insights from a completed episode:
// per-tool effectiveness, failure modes, and execution-time outliers.
// Insights are recorded and also returned for immediate use.
func (r *Reflector) LearnFromEpisode(ctx context.Context, episode *models.Episode, execCtx *models.Context) []models.Insight {
	var fresh []models.Insight

	fresh = append(fresh, r.toolEffectivenessInsights(episode)...)
	fresh = append(fresh, r.failureModeInsights(episode)...)
	fresh = append(fresh, r.performanceInsights(episode)...)

	r.mu.Lock()
	r.insights = append(r.insights, fresh...)
	r.mu.Unlock()

	return fresh
}

func (r *Reflector) toolEffectivenessInsights(episode *models.Episode) []models.Insight {
	type tally struct {
		attempts, successes int
	}
	byTool := map[string]*tally{}

	for _, res := range episode.Results {
		task := episode.Plan.TaskByID(res.TaskID)
		if task == nil || task.ToolName == "" {
			continue
		}
		t, ok := byTool[task.ToolName]
		if !ok {
			t = &tally{}
			byTool[task.ToolName] = t
		}
		t.attempts++
		if res.Success {
			t.successes++
		}
	}

	now := time.Now()
	var insights []models.Insight
	for tool, t := range byTool {
		if t.attempts == 0 {
			continue
		}
		rate := float64(t.successes) / float64(t.attempts)
		insights = append(insights, models.Insight{
			ID:          fmt.Sprintf("%s-tool-%s", episode.ID, tool),
			Category:    models.InsightToolEffectiveness,
			Description: fmt.Sprintf("tool %q succeeded in %d/%d attempts", tool, t.successes, t.attempts),
			Confidence:  rate,
			CreatedAt:   now,
		})
	}
	sort.Slice(insights, func(i, j int) bool { return insights[i].ID < insights[j].ID })
	return insights
}

func (r *Reflector) failureModeInsights(episode *models.Episode) []models.Insight {
	byCategory := map[string]int{}
	for _, res := range episode.Results {
		if res.Success {
			continue
		}
		category := categorizeError(res.Error)
		if category == "" {
			category = "unknown"
		}
		byCategory[category]++
	}

	now := time.Now()
	var insights []models.Insight
	for category, count := range byCategory {
		insights = append(insights, models.Insight{
			ID:          fmt.Sprintf("%s-failure-%s", episode.ID, category),
			Category:    models.InsightFailureMode,
			Description: fmt.Sprintf("%d failures categorized as %q in this episode", count, category),
			Confidence:  0.7,
			CreatedAt:   now,
		})
	}
	sort.Slice(insights, func(i, j int) bool { return insights[i].ID < insights[j].ID })
	return insights
}

// performanceInsights flags tasks whose execution time is more than 3x
// the episode's median, the signature of a performance outlier worth
// investigating.
func (r *Reflector) performanceInsights(episode *models.Episode) []models.Insight {
	if len(episode.Results) == 0 {
		return nil
	}
	times := make([]float64, 0, len(episode.Results))
	for _, res := range episode.Results {
		times = append(times, res.ExecutionTimeSeconds)
	}
	median := medianOf(times)
	if median <= 0 {
		return nil
	}

	now := time.Now()
	var insights []models.Insight
	for _, res := range episode.Results {
		if res.ExecutionTimeSeconds > median*3 {
			insights = append(insights, models.Insight{
				ID:       fmt.Sprintf("%s-perf-%s", episode.ID, res.TaskID),
				Category: models.InsightPerformance,
				Description: fmt.Sprintf("task %s took %.1fs, about %.1fx the episode's median of %.1fs",
					res.TaskID, res.ExecutionTimeSeconds, res.ExecutionTimeSeconds/median, median),
				Confidence: 0.75,
				CreatedAt:  now,
			})
		}
	}
	return insights
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// InsightFilter narrows GetInsights results. A zero-value field means
// "no filter" for that dimension.
type InsightFilter struct {
	Category      string
	MinConfidence float64
}

// GetInsights returns accumulated insights matching filter.
func (r *Reflector) GetInsights(filter InsightFilter) []models.Insight {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Insight, 0, len(r.insights))
	for _, in := range r.insights {
		if filter.Category != "" && in.Category != filter.Category {
			continue
		}
		if in.Confidence < filter.MinConfidence {
			continue
		}
		out = append(out, in)
	}
	return out
}

// GetFailurePatterns returns every failure pattern recorded so far.
func (r *Reflector) GetFailurePatterns() []models.FailurePattern {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.FailurePattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// ClearLearningData discards all accumulated patterns and insights.
func (r *Reflector) ClearLearningData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = nil
	r.insights = nil
}
