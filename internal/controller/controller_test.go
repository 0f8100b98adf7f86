package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laios/laios/internal/executor"
	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/internal/planner"
	"github.com/laios/laios/internal/reflector"
	"github.com/laios/laios/pkg/models"
)

type echoProvider struct {
	reply string
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	reply := p.reply
	if reply == "" {
		reply = "ok"
	}
	return &llmrouter.GenerateResponse{Content: reply}, nil
}

func (p *echoProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	ch := make(chan llmrouter.StreamChunk, 2)
	ch <- llmrouter.StreamChunk{Text: p.reply}
	ch <- llmrouter.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type planningProvider struct {
	plan string
}

func (p *planningProvider) Name() string { return "planning" }

func (p *planningProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	return &llmrouter.GenerateResponse{Content: p.plan}, nil
}

func (p *planningProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	return nil, nil
}

type stubTools struct {
	known map[string]bool
}

func (s *stubTools) Has(name string) bool { return s.known[name] }
func (s *stubTools) List() []string {
	out := make([]string, 0, len(s.known))
	for name := range s.known {
		out = append(out, name)
	}
	return out
}

type stubTool struct {
	name  string
	perms []models.Permission
}

func (t *stubTool) Name() string              { return t.name }
func (t *stubTool) Description() string       { return "stub" }
func (t *stubTool) Category() string          { return "test" }
func (t *stubTool) InputSchema() map[string]any { return map[string]any{} }
func (t *stubTool) RequiredPermissions() []models.Permission { return t.perms }
func (t *stubTool) Execute(ctx context.Context, params map[string]any) (*models.ToolOutput, error) {
	return &models.ToolOutput{Success: true}, nil
}

type stubRegistry struct {
	tools map[string]models.Tool
}

func (r *stubRegistry) Get(name string) (models.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func newTestController(t *testing.T, planProvider llmrouter.Provider, chatProvider llmrouter.Provider, tools *stubTools, registry *stubRegistry, config Config, approval ApprovalFunc) *Controller {
	t.Helper()
	p := planner.New(planProvider, tools, planner.DefaultConfig())

	runner := &fakeRunner{}
	ex := executor.New(runner, executor.DefaultConfig())
	refl := reflector.New(nil, reflector.DefaultReflectionCriteria(), false, nil)

	var lookup PermissionLookup
	if registry != nil {
		lookup = registry
	}
	return New(p, ex, refl, chatProvider, lookup, approval, config, nil)
}

type fakeRunner struct{}

func (f *fakeRunner) Execute(ctx context.Context, name string, params map[string]any) (*models.ToolOutput, error) {
	return &models.ToolOutput{Success: true}, nil
}

func TestSessionLifecycle(t *testing.T) {
	c := newTestController(t, &planningProvider{}, &echoProvider{}, &stubTools{known: map[string]bool{}}, nil, DefaultConfig(), nil)

	session := c.CreateSession("test_user")
	require.NotNil(t, session)
	assert.Equal(t, "test_user", session.UserID)
	assert.True(t, session.Active)

	retrieved, ok := c.GetSession(session.ID)
	require.True(t, ok)
	assert.Equal(t, session.ID, retrieved.ID)

	require.NoError(t, c.ShutdownSession(session.ID))
	_, ok = c.GetSession(session.ID)
	assert.False(t, ok)
}

func TestProcessMessageAppendsUserAndAssistantTurns(t *testing.T) {
	c := newTestController(t, &planningProvider{}, &echoProvider{reply: "Hello back"}, &stubTools{known: map[string]bool{}}, nil, DefaultConfig(), nil)
	session := c.CreateSession("test_user")

	resp, err := c.ProcessMessage(context.Background(), session.ID, "Hello, LAIOS!")
	require.NoError(t, err)
	assert.Equal(t, "Hello back", resp)
	assert.Len(t, session.Context.Messages, 2)
	assert.Equal(t, "user", session.Context.Messages[0].Role)
	assert.Equal(t, "assistant", session.Context.Messages[1].Role)
}

func TestProcessMessageStreamAccumulatesReply(t *testing.T) {
	c := newTestController(t, &planningProvider{}, &echoProvider{reply: "streamed"}, &stubTools{known: map[string]bool{}}, nil, DefaultConfig(), nil)
	session := c.CreateSession("test_user")

	out, err := c.ProcessMessageStream(context.Background(), session.ID, "hi")
	require.NoError(t, err)

	var got string
	for chunk := range out {
		got += chunk
	}
	assert.Equal(t, "streamed", got)
	assert.Len(t, session.Context.Messages, 2)
	assert.Equal(t, "streamed", session.Context.Messages[1].Content)
}

func TestExecuteGoalReturnsGoalInResult(t *testing.T) {
	planProvider := &planningProvider{plan: `{"tasks":[{"id":"t1","description":"do it","tool_name":"noop","dependencies":[]}]}`}
	tools := &stubTools{known: map[string]bool{"noop": true}}
	c := newTestController(t, planProvider, &echoProvider{}, tools, nil, DefaultConfig(), nil)
	session := c.CreateSession("test_user")

	goal := models.Goal{Description: "Test goal execution"}
	result, err := c.ExecuteGoal(context.Background(), session.ID, goal)
	require.NoError(t, err)
	require.Contains(t, result, "goal")
	assert.Equal(t, goal, result["goal"])
	assert.Equal(t, true, result["success"])
}

func TestExecuteGoalUnknownSessionErrors(t *testing.T) {
	c := newTestController(t, &planningProvider{}, &echoProvider{}, &stubTools{known: map[string]bool{}}, nil, DefaultConfig(), nil)
	_, err := c.ExecuteGoal(context.Background(), "ghost", models.Goal{Description: "x"})
	assert.Error(t, err)
}

func TestGateApprovalsDeniesWithoutCallbackUnderBalancedTrust(t *testing.T) {
	registry := &stubRegistry{tools: map[string]models.Tool{
		"shell.execute": &stubTool{name: "shell.execute", perms: []models.Permission{models.PermissionShellExec}},
	}}
	planProvider := &planningProvider{plan: `{"tasks":[{"id":"t1","description":"run","tool_name":"shell.execute","dependencies":[]}]}`}
	tools := &stubTools{known: map[string]bool{"shell.execute": true}}

	config := DefaultConfig()
	config.TrustLevel = models.TrustBalanced
	c := newTestController(t, planProvider, &echoProvider{}, tools, registry, config, nil)
	session := c.CreateSession("test_user")

	result, err := c.ExecuteGoal(context.Background(), session.ID, models.Goal{Description: "run a shell command"})
	require.NoError(t, err)
	plan := result["plan"].(*models.Plan)
	assert.Equal(t, models.TaskStatusCancelled, plan.Tasks[0].Status)
	assert.Contains(t, plan.Tasks[0].Error, "approval")
}

func TestGateApprovalsAllowsWhenApproved(t *testing.T) {
	registry := &stubRegistry{tools: map[string]models.Tool{
		"shell.execute": &stubTool{name: "shell.execute", perms: []models.Permission{models.PermissionShellExec}},
	}}
	planProvider := &planningProvider{plan: `{"tasks":[{"id":"t1","description":"run","tool_name":"shell.execute","dependencies":[]}]}`}
	tools := &stubTools{known: map[string]bool{"shell.execute": true}}

	config := DefaultConfig()
	config.TrustLevel = models.TrustBalanced
	approval := func(ctx context.Context, task *models.Task, perms []models.Permission) (bool, error) {
		return true, nil
	}
	c := newTestController(t, planProvider, &echoProvider{}, tools, registry, config, approval)
	session := c.CreateSession("test_user")

	result, err := c.ExecuteGoal(context.Background(), session.ID, models.Goal{Description: "run a shell command"})
	require.NoError(t, err)
	plan := result["plan"].(*models.Plan)
	assert.Equal(t, models.TaskStatusCompleted, plan.Tasks[0].Status)
}

func TestAutonomousTrustSkipsApproval(t *testing.T) {
	registry := &stubRegistry{tools: map[string]models.Tool{
		"shell.execute": &stubTool{name: "shell.execute", perms: []models.Permission{models.PermissionShellExec}},
	}}
	planProvider := &planningProvider{plan: `{"tasks":[{"id":"t1","description":"run","tool_name":"shell.execute","dependencies":[]}]}`}
	tools := &stubTools{known: map[string]bool{"shell.execute": true}}

	config := DefaultConfig()
	config.TrustLevel = models.TrustAutonomous
	c := newTestController(t, planProvider, &echoProvider{}, tools, registry, config, nil)
	session := c.CreateSession("test_user")

	result, err := c.ExecuteGoal(context.Background(), session.ID, models.Goal{Description: "run a shell command"})
	require.NoError(t, err)
	plan := result["plan"].(*models.Plan)
	assert.Equal(t, models.TaskStatusCompleted, plan.Tasks[0].Status)
}

type scriptedPlanProvider struct {
	responses []string
	calls     int
	prompts   []string
}

func (p *scriptedPlanProvider) Name() string { return "scripted-plan" }

func (p *scriptedPlanProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	if len(req.Messages) > 0 {
		p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	return &llmrouter.GenerateResponse{Content: p.responses[i]}, nil
}

func (p *scriptedPlanProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	return nil, nil
}

// toolAwareRunner fails only the named tool, so a test can force one
// plan attempt to come back unsatisfactory and a later one to succeed.
type toolAwareRunner struct {
	failTool string
}

func (r *toolAwareRunner) Execute(ctx context.Context, name string, params map[string]any) (*models.ToolOutput, error) {
	if name == r.failTool {
		return &models.ToolOutput{Success: false, Error: name + ": simulated failure"}, nil
	}
	return &models.ToolOutput{Success: true}, nil
}

func TestExecuteGoalReplansWithPriorContextAndAggregatesResults(t *testing.T) {
	planProvider := &scriptedPlanProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"try the bad tool","tool_name":"bad_tool","dependencies":[]}]}`,
		`{"tasks":[{"id":"t1","description":"use the good tool instead","tool_name":"good_tool","dependencies":[]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{"bad_tool": true, "good_tool": true}}

	p := planner.New(planProvider, tools, planner.DefaultConfig())
	ex := executor.New(&toolAwareRunner{failTool: "bad_tool"}, executor.DefaultConfig())
	refl := reflector.New(nil, reflector.DefaultReflectionCriteria(), false, nil)
	c := New(p, ex, refl, &echoProvider{}, nil, nil, DefaultConfig(), nil)

	session := c.CreateSession("test_user")
	result, err := c.ExecuteGoal(context.Background(), session.ID, models.Goal{Description: "get it done"})
	require.NoError(t, err)

	assert.Equal(t, 2, planProvider.calls, "the unsatisfactory first attempt should trigger exactly one replan")
	require.Len(t, planProvider.prompts, 2)
	assert.Contains(t, planProvider.prompts[1], "previous plan", "the replan prompt must carry prior failure context")
	assert.Contains(t, planProvider.prompts[1], "bad_tool")

	finalPlan := result["plan"].(*models.Plan)
	assert.Equal(t, "good_tool", finalPlan.Tasks[0].ToolName)
	assert.Equal(t, true, result["success"])

	results := result["results"].([]*models.TaskResult)
	require.Len(t, results, 2, "results from both attempts must be aggregated, not overwritten")
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestGetSessionState(t *testing.T) {
	c := newTestController(t, &planningProvider{}, &echoProvider{}, &stubTools{known: map[string]bool{}}, nil, DefaultConfig(), nil)
	session := c.CreateSession("test_user")

	state, err := c.GetSessionState(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, state["session_id"])
	assert.Equal(t, true, state["active"])
}
