package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/pkg/models"
)

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

type scriptedProvider struct {
	responses []string
	calls     int
	requests  []string
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	if len(req.Messages) > 0 {
		s.requests = append(s.requests, req.Messages[len(req.Messages)-1].Content)
	}
	return &llmrouter.GenerateResponse{Content: s.responses[i]}, nil
}

func (s *scriptedProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	return nil, nil
}

func TestPlanBuildsValidTaskDAG(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"read file","tool_name":"read_file","dependencies":[]},` +
			`{"id":"t2","description":"write file","tool_name":"write_file","dependencies":["t1"]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{"read_file": true, "write_file": true}}
	p := New(provider, tools, DefaultConfig())

	plan, err := p.Plan(context.Background(), models.Goal{Description: "copy a file"}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	var t1, t2 *models.Task
	for _, task := range plan.Tasks {
		switch task.ToolName {
		case "read_file":
			t1 = task
		case "write_file":
			t2 = task
		}
	}
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	assert.True(t, t2.DependsOn(t1.ID))
	assert.Equal(t, models.TaskStatusPending, t1.Status)
}

func TestPlanRejectsUnknownTool(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"x","tool_name":"ghost_tool","dependencies":[]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{}}
	p := New(provider, tools, Config{MaxAttempts: 1})

	_, err := p.Plan(context.Background(), models.Goal{Description: "do something"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, laioserr.ErrPlanning)
}

func TestPlanRejectsCycle(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"a","tool_name":"x","dependencies":["t2"]},` +
			`{"id":"t2","description":"b","tool_name":"x","dependencies":["t1"]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{"x": true}}
	p := New(provider, tools, Config{MaxAttempts: 1})

	_, err := p.Plan(context.Background(), models.Goal{Description: "cycle"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, laioserr.ErrPlanning)
}

func TestPlanRetriesAfterValidationFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"x","tool_name":"ghost","dependencies":[]}]}`,
		`{"tasks":[{"id":"t1","description":"x","tool_name":"read_file","dependencies":[]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{"read_file": true}}
	p := New(provider, tools, Config{MaxAttempts: 3})

	plan, err := p.Plan(context.Background(), models.Goal{Description: "retry me"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
	require.Len(t, plan.Tasks, 1)
}

func TestPlanRejectsMalformedJSON(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"not json at all"}}
	tools := &stubTools{known: map[string]bool{}}
	p := New(provider, tools, Config{MaxAttempts: 1})

	_, err := p.Plan(context.Background(), models.Goal{Description: "garbage"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, laioserr.ErrPlanning)
}

func TestPlanThreadsPriorContextIntoPrompt(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"tasks":[{"id":"t1","description":"retry with a different tool","tool_name":"read_file","dependencies":[]}]}`,
	}}
	tools := &stubTools{known: map[string]bool{"read_file": true}}
	p := New(provider, tools, Config{MaxAttempts: 1})

	prior := &PriorContext{
		Results: []*models.TaskResult{{TaskID: "t1", Success: false, Error: "write_file: disk full"}},
		Issues:  []string{"tool \"write_file\" failed in 2 tasks"},
	}

	_, err := p.Plan(context.Background(), models.Goal{Description: "write a report"}, prior)
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	prompt := provider.requests[0]
	assert.Contains(t, prompt, "previous plan")
	assert.Contains(t, prompt, "write_file")
	assert.Contains(t, prompt, "disk full")
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	out := extractJSON("```json\n{\"tasks\":[]}\n```")
	assert.Equal(t, `{"tasks":[]}`, out)
}
