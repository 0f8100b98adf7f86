package reflector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/pkg/models"
)

type scriptedLLM struct {
	response string
	called   bool
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	s.called = true
	return &llmrouter.GenerateResponse{Content: s.response}, nil
}

func (s *scriptedLLM) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	return nil, nil
}

func sampleContext() *models.Context {
	return &models.Context{
		SessionID: "test-session",
		UserID:    "test-user",
		Messages:  []models.Message{{Role: "user", Content: "Test request"}},
	}
}

func sampleGoal() models.Goal {
	return models.Goal{Description: "Analyze Python files and create report", Priority: 5}
}

func newTestReflector(llm llmrouter.Provider, enableLLM bool) *Reflector {
	return New(llm, DefaultReflectionCriteria(), enableLLM, nil)
}

func TestEvaluateSuccessfulTask(t *testing.T) {
	r := newTestReflector(nil, false)
	task := &models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "filesystem.read", Status: models.TaskStatusCompleted}
	result := &models.TaskResult{TaskID: "task-1", Success: true, Output: map[string]any{"content": "file contents"}, ExecutionTimeSeconds: 0.5}

	eval := r.EvaluateTask(context.Background(), task, result, sampleContext())
	assert.True(t, eval.Success)
	assert.Greater(t, eval.Confidence, 0.8)
	assert.Empty(t, eval.Issues)
	assert.False(t, eval.ShouldReplan)
}

func TestEvaluateFailedTask(t *testing.T) {
	r := newTestReflector(nil, false)
	task := &models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "filesystem.read", Status: models.TaskStatusFailed, Error: "File not found: nonexistent.txt"}
	result := &models.TaskResult{TaskID: "task-1", Success: false, Error: "File not found: nonexistent.txt", ExecutionTimeSeconds: 0.1}

	eval := r.EvaluateTask(context.Background(), task, result, sampleContext())
	assert.False(t, eval.Success)
	assert.Less(t, eval.Confidence, 0.5)
	require.NotEmpty(t, eval.Issues)
	assert.Contains(t, strings.ToLower(eval.Issues[0]), "failed")
	assert.NotEmpty(t, eval.Suggestions)
}

func TestEvaluateTimeoutTask(t *testing.T) {
	r := newTestReflector(nil, false)
	task := &models.Task{
		ID: "task-1", PlanID: "plan-1", ToolName: "shell.execute",
		Status: models.TaskStatusFailed, Error: "Task execution timeout after 30s",
		Metadata: map[string]any{"expected_time_seconds": 1.0},
	}
	result := &models.TaskResult{TaskID: "task-1", Success: false, Error: "Task execution timeout after 30s", ExecutionTimeSeconds: 30.0}

	eval := r.EvaluateTask(context.Background(), task, result, sampleContext())
	assert.False(t, eval.Success)
	require.NotEmpty(t, eval.Issues)
	assert.True(t, anyContains(eval.Issues, "timeout"))
	assert.True(t, anyContains(eval.Suggestions, "timeout"))
}

func TestEvaluateSlowTask(t *testing.T) {
	r := newTestReflector(nil, false)
	task := &models.Task{
		ID: "task-1", PlanID: "plan-1", ToolName: "filesystem.search",
		Status:   models.TaskStatusCompleted,
		Metadata: map[string]any{"expected_time_seconds": 1.0},
	}
	result := &models.TaskResult{TaskID: "task-1", Success: true, Output: []string{"file1.py", "file2.py"}, ExecutionTimeSeconds: 5.0}

	eval := r.EvaluateTask(context.Background(), task, result, sampleContext())
	assert.False(t, eval.Success)
	require.NotEmpty(t, eval.Issues)
	assert.True(t, anyContains(eval.Issues, "took"))
	assert.NotEmpty(t, eval.Suggestions)
}

func TestErrorCategorizationAlwaysSuggests(t *testing.T) {
	r := newTestReflector(nil, false)
	errs := []string{
		"Connection timeout", "Permission denied", "File not found",
		"Network unreachable", "Invalid parameter", "Out of memory",
	}
	for _, errMsg := range errs {
		task := &models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "test.tool", Error: errMsg}
		result := &models.TaskResult{TaskID: "task-1", Success: false, Error: errMsg, ExecutionTimeSeconds: 0.1}
		eval := r.EvaluateTask(context.Background(), task, result, sampleContext())
		assert.NotEmptyf(t, eval.Suggestions, "no suggestions for %q", errMsg)
	}
}

func anyContains(items []string, needle string) bool {
	for _, item := range items {
		if strings.Contains(strings.ToLower(item), needle) {
			return true
		}
	}
	return false
}

func completedTasks(n int, toolName string) []*models.Task {
	tasks := make([]*models.Task, n)
	for i := range tasks {
		tasks[i] = &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: toolName, Status: models.TaskStatusCompleted}
	}
	return tasks
}

func taskID(i int) string { return "task-" + string(rune('0'+i)) }

func TestEvaluateSuccessfulPlan(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusCompleted, Tasks: completedTasks(3, "test.tool")}

	var results []*models.TaskResult
	for i := 0; i < 3; i++ {
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: true, Output: "result", ExecutionTimeSeconds: 1.0})
	}

	eval := r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.True(t, eval.Success)
	assert.Greater(t, eval.Confidence, 0.8)
	assert.Empty(t, eval.Issues)
	assert.False(t, eval.ShouldReplan)
}

func TestEvaluatePartiallyFailedPlan(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	var results []*models.TaskResult
	for i := 0; i < 5; i++ {
		status := models.TaskStatusCompleted
		success := true
		var errMsg string
		if i >= 3 {
			status = models.TaskStatusFailed
			success = false
			errMsg = "Error"
		}
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "test.tool", Status: status, Error: errMsg})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: success, Error: errMsg, ExecutionTimeSeconds: 1.0})
	}

	eval := r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.False(t, eval.Success)
	assert.NotEmpty(t, eval.Issues)
	assert.NotEmpty(t, eval.Suggestions)
	assert.True(t, eval.ShouldReplan)
}

func TestDetectFailurePatternsSameError(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	var results []*models.TaskResult
	for i := 0; i < 4; i++ {
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "web.fetch", Status: models.TaskStatusFailed, Error: "Connection timeout"})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: false, Error: "Connection timeout", ExecutionTimeSeconds: 30.0})
	}

	eval := r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.NotEmpty(t, eval.Issues)
	assert.True(t, anyContains(eval.Issues, "timeout"))

	patterns := r.GetFailurePatterns()
	require.NotEmpty(t, patterns)
	var timeoutPatterns []models.FailurePattern
	for _, p := range patterns {
		if p.PatternType == models.PatternTimeout {
			timeoutPatterns = append(timeoutPatterns, p)
		}
	}
	require.NotEmpty(t, timeoutPatterns)
	assert.Equal(t, 4, timeoutPatterns[0].Occurrences)
}

func TestDetectFailurePatternsSameTool(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	var results []*models.TaskResult
	for i := 0; i < 3; i++ {
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "buggy.tool", Status: models.TaskStatusFailed, Error: "Execution error"})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: false, Error: "Execution error", ExecutionTimeSeconds: 1.0})
	}

	r.EvaluatePlan(context.Background(), plan, results, sampleContext())

	patterns := r.GetFailurePatterns()
	var toolPatterns []models.FailurePattern
	for _, p := range patterns {
		if p.PatternType == models.PatternToolFailure {
			toolPatterns = append(toolPatterns, p)
		}
	}
	require.NotEmpty(t, toolPatterns)
	assert.Contains(t, toolPatterns[0].Description, "buggy.tool")
}

func TestPlanStructureEvaluationSuggestsParallelization(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusCompleted}
	var results []*models.TaskResult
	for i := 0; i < 8; i++ {
		var deps []string
		if i > 0 {
			deps = []string{taskID(i - 1)}
		}
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusCompleted, Dependencies: deps})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: true, Output: "result", ExecutionTimeSeconds: 1.0})
	}

	eval := r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.True(t, anyContains(eval.Issues, "sequential") || anyContains(eval.Issues, "parallel"))
}

func TestLLMReflectionIntegration(t *testing.T) {
	llm := &scriptedLLM{response: "1. Add retries\n2. Validate inputs\n"}
	r := newTestReflector(llm, true)

	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	plan.Tasks = append(plan.Tasks, &models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusFailed, Error: "Network error"})
	results := []*models.TaskResult{{TaskID: "task-1", Success: false, Error: "Network error", ExecutionTimeSeconds: 1.0}}

	eval := r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.True(t, llm.called)
	assert.NotEmpty(t, eval.Suggestions)
}

func TestDisableLLMReflection(t *testing.T) {
	llm := &scriptedLLM{response: "1. Add retries\n"}
	r := newTestReflector(llm, false)

	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	plan.Tasks = append(plan.Tasks, &models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusFailed})
	results := []*models.TaskResult{{TaskID: "task-1", Success: false, Error: "Error", ExecutionTimeSeconds: 1.0}}

	r.EvaluatePlan(context.Background(), plan, results, sampleContext())
	assert.False(t, llm.called)
}

func TestLearnFromSuccessfulEpisode(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusCompleted}
	var results []*models.TaskResult
	for i := 0; i < 5; i++ {
		tool := "tool-0"
		if i%2 == 1 {
			tool = "tool-1"
		}
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: tool, Status: models.TaskStatusCompleted})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: true, Output: "result", ExecutionTimeSeconds: 1.0 + float64(i)*0.5})
	}
	episode := &models.Episode{ID: "episode-1", SessionID: "session-1", Plan: plan, Results: results, Success: true}

	insights := r.LearnFromEpisode(context.Background(), episode, sampleContext())
	require.NotEmpty(t, insights)

	var toolInsights []models.Insight
	for _, in := range insights {
		if in.Category == models.InsightToolEffectiveness {
			toolInsights = append(toolInsights, in)
		}
	}
	assert.NotEmpty(t, toolInsights)
}

func TestLearnFromFailedEpisode(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusFailed}
	var results []*models.TaskResult
	for i := 0; i < 6; i++ {
		status := models.TaskStatusCompleted
		success := true
		var errMsg string
		if i >= 2 {
			status = models.TaskStatusFailed
			success = false
			errMsg = "Error"
		}
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "test.tool", Status: status, Error: errMsg})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: success, Error: errMsg, ExecutionTimeSeconds: 1.0})
	}
	episode := &models.Episode{ID: "episode-1", SessionID: "session-1", Plan: plan, Results: results, Success: false}

	insights := r.LearnFromEpisode(context.Background(), episode, sampleContext())
	require.NotEmpty(t, insights)

	var failureInsights []models.Insight
	for _, in := range insights {
		if in.Category == models.InsightFailureMode {
			failureInsights = append(failureInsights, in)
		}
	}
	assert.NotEmpty(t, failureInsights)
}

func TestTimingAnalysisDetectsOutlier(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal(), Status: models.PlanStatusCompleted}
	execTimes := []float64{1.0, 1.2, 0.9, 1.1, 10.0, 1.0}
	var results []*models.TaskResult
	for i, et := range execTimes {
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusCompleted})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: true, Output: "result", ExecutionTimeSeconds: et})
	}
	episode := &models.Episode{ID: "episode-1", SessionID: "session-1", Plan: plan, Results: results, Success: true}

	insights := r.LearnFromEpisode(context.Background(), episode, sampleContext())
	var perfInsights []models.Insight
	for _, in := range insights {
		if in.Category == models.InsightPerformance {
			perfInsights = append(perfInsights, in)
		}
	}
	assert.NotEmpty(t, perfInsights)
}

func TestGetInsightsFiltering(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal()}
	var results []*models.TaskResult
	for i := 0; i < 3; i++ {
		plan.Tasks = append(plan.Tasks, &models.Task{ID: taskID(i), PlanID: "plan-1", ToolName: "tool-0", Status: models.TaskStatusCompleted})
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: true, Output: "result", ExecutionTimeSeconds: 1.0})
	}
	episode := &models.Episode{ID: "episode-1", SessionID: "session-1", Plan: plan, Results: results, Success: true}
	r.LearnFromEpisode(context.Background(), episode, sampleContext())

	toolInsights := r.GetInsights(InsightFilter{Category: models.InsightToolEffectiveness})
	for _, in := range toolInsights {
		assert.Equal(t, models.InsightToolEffectiveness, in.Category)
	}

	highConf := r.GetInsights(InsightFilter{MinConfidence: 0.7})
	for _, in := range highConf {
		assert.GreaterOrEqual(t, in.Confidence, 0.7)
	}
}

func TestClearLearningData(t *testing.T) {
	r := newTestReflector(nil, false)
	plan := &models.Plan{ID: "plan-1", Goal: sampleGoal()}
	plan.Tasks = append(plan.Tasks,
		&models.Task{ID: "task-0", PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusFailed, Error: "Error"},
		&models.Task{ID: "task-1", PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusFailed, Error: "Error"},
		&models.Task{ID: "task-2", PlanID: "plan-1", ToolName: "test.tool", Status: models.TaskStatusFailed, Error: "Error"},
	)
	var results []*models.TaskResult
	for i := 0; i < 3; i++ {
		results = append(results, &models.TaskResult{TaskID: taskID(i), Success: false, Error: "Error", ExecutionTimeSeconds: 1.0})
	}

	r.EvaluatePlan(context.Background(), plan, results, sampleContext())

	episode := &models.Episode{ID: "episode-1", SessionID: "session-1", Plan: plan, Results: results, Success: false}
	r.LearnFromEpisode(context.Background(), episode, sampleContext())

	require.NotEmpty(t, r.GetFailurePatterns())
	require.NotEmpty(t, r.GetInsights(InsightFilter{}))

	r.ClearLearningData()
	assert.Empty(t, r.GetFailurePatterns())
	assert.Empty(t, r.GetInsights(InsightFilter{}))
}

func TestDefaultReflectionCriteria(t *testing.T) {
	c := DefaultReflectionCriteria()
	assert.Equal(t, 0.8, c.MinSuccessRate)
	assert.Equal(t, 2.0, c.MaxExecutionTimeMultiplier)
	assert.True(t, c.RequireAllTasksComplete)
	assert.True(t, c.CheckOutputQuality)
}

func TestCustomReflectionCriteria(t *testing.T) {
	c := ReflectionCriteria{
		MinSuccessRate:             0.9,
		MaxExecutionTimeMultiplier: 1.5,
		RequireAllTasksComplete:    false,
		CheckOutputQuality:         false,
	}
	assert.Equal(t, 0.9, c.MinSuccessRate)
	assert.False(t, c.RequireAllTasksComplete)
}

func TestReflectionCriteriaFromConfig(t *testing.T) {
	cfg := map[string]any{
		"min_success_rate":             0.75,
		"max_execution_time_multiplier": 3.0,
	}
	c := ReflectionCriteriaFromConfig(cfg)
	assert.Equal(t, 0.75, c.MinSuccessRate)
	assert.Equal(t, 3.0, c.MaxExecutionTimeMultiplier)
	assert.True(t, c.RequireAllTasksComplete)
}
