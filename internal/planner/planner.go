// Package planner turns a Goal into a validated task DAG (a Plan) by
// asking an LLM to decompose it, then checking the result against the
// tool registry and the acyclicity the scheduler requires before handing
// it back. A plan that fails validation is retried, bounded, before
// giving up with an error wrapping laioserr.ErrPlanning.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/pkg/models"
)

// ToolLister is the subset of the tool registry the planner needs to
// validate a generated plan's tool references.
type ToolLister interface {
	Has(name string) bool
	List() []string
}

// Config configures a Planner.
type Config struct {
	MaxAttempts int
	Temperature float64
}

// DefaultConfig returns the planner's default retry/temperature budget.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Temperature: 0.2}
}

// Planner decomposes goals into task DAGs via an LLM, validating every
// candidate before accepting it.
type Planner struct {
	provider llmrouter.Provider
	tools    ToolLister
	config   Config
}

// New builds a Planner over an LLM provider (typically an
// *llmrouter.Router, which itself satisfies Provider) and the tool
// registry used to validate generated task references.
func New(provider llmrouter.Provider, tools ToolLister, config Config) *Planner {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Planner{provider: provider, tools: tools, config: config}
}

// rawTask is the wire shape the LLM is asked to emit; it omits
// bookkeeping fields (status, timestamps) that the planner fills in
// itself once the shape is accepted.
type rawTask struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
}

type rawPlan struct {
	Tasks []rawTask `json:"tasks"`
}

// PriorContext carries what happened the last time a goal was attempted
// into a replan call, so the model revises against what actually failed
// instead of regenerating blind from the goal alone.
type PriorContext struct {
	// Results are the task outcomes from the previous plan's run.
	Results []*models.TaskResult
	// Issues are the reflector's failure-pattern summaries for that run
	// (e.g. "3 tasks failed due to timeout errors").
	Issues []string
}

// priorFeedback renders a PriorContext into prompt text, or "" if prior
// is nil or carries nothing actionable.
func priorFeedback(prior *PriorContext) string {
	if prior == nil || (len(prior.Results) == 0 && len(prior.Issues) == 0) {
		return ""
	}
	var b strings.Builder
	b.WriteString("A previous plan for this goal was already run and judged unsatisfactory.\n")
	if len(prior.Issues) > 0 {
		fmt.Fprintf(&b, "Observed failure patterns: %s\n", strings.Join(prior.Issues, "; "))
	}
	for _, r := range prior.Results {
		if r != nil && !r.Success {
			fmt.Fprintf(&b, "Task %s failed: %s\n", r.TaskID, r.Error)
		}
	}
	b.WriteString("Revise the plan so it does not repeat these failures.\n")
	return b.String()
}

// Plan decomposes goal into a validated Plan, retrying generation up to
// Config.MaxAttempts times against distinct validation feedback before
// returning an error wrapping laioserr.ErrPlanning. prior, if non-nil, is a
// previous attempt's
// results and failure patterns; pass nil for a first attempt at a goal.
func (p *Planner) Plan(ctx context.Context, goal models.Goal, prior *PriorContext) (*models.Plan, error) {
	var lastErr error
	base := priorFeedback(prior)
	feedback := base

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		raw, err := p.generate(ctx, goal, feedback)
		if err != nil {
			lastErr = err
			continue
		}

		plan, verr := p.toPlan(goal, raw)
		if verr != nil {
			lastErr = verr
			if base != "" {
				feedback = base + fmt.Sprintf("Additionally, your previous attempt was rejected: %s. Fix it and try again.\n", verr.Error())
			} else {
				feedback = verr.Error()
			}
			continue
		}
		return plan, nil
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", laioserr.ErrPlanning, p.config.MaxAttempts, lastErr)
}

func (p *Planner) generate(ctx context.Context, goal models.Goal, feedback string) (*rawPlan, error) {
	prompt := buildPrompt(goal, p.availableTools(), feedback)

	resp, err := p.provider.Generate(ctx, llmrouter.GenerateRequest{
		Messages:    []llmrouter.Message{{Role: "user", Content: prompt}},
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", laioserr.ErrProvider, err)
	}

	content := extractJSON(resp.Content)
	var raw rawPlan
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("planner: model returned invalid JSON: %w", err)
	}
	return &raw, nil
}

func (p *Planner) availableTools() []string {
	if p.tools == nil {
		return nil
	}
	return p.tools.List()
}

// toPlan validates raw against the tool registry and dependency
// closure/acyclicity, then materializes it into a models.Plan with fresh
// IDs and PENDING status.
func (p *Planner) toPlan(goal models.Goal, raw *rawPlan) (*models.Plan, error) {
	if len(raw.Tasks) == 0 {
		return nil, fmt.Errorf("planner: generated plan has no tasks")
	}

	idMap := make(map[string]string, len(raw.Tasks)) // raw id -> final id
	for _, t := range raw.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("planner: task missing id")
		}
		if _, dup := idMap[t.ID]; dup {
			return nil, fmt.Errorf("planner: duplicate task id %q", t.ID)
		}
		idMap[t.ID] = uuid.NewString()
	}

	planID := uuid.NewString()
	tasks := make([]*models.Task, 0, len(raw.Tasks))
	for _, t := range raw.Tasks {
		if t.ToolName == "" {
			return nil, fmt.Errorf("planner: task %q missing tool_name", t.ID)
		}
		if p.tools != nil && !p.tools.Has(t.ToolName) {
			return nil, fmt.Errorf("%w: planner: unknown tool %q referenced by task %q", laioserr.ErrValidation, t.ToolName, t.ID)
		}

		deps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			finalDep, ok := idMap[d]
			if !ok {
				return nil, fmt.Errorf("%w: planner: task %q depends on unknown task %q", laioserr.ErrValidation, t.ID, d)
			}
			deps = append(deps, finalDep)
		}

		tasks = append(tasks, &models.Task{
			ID:           idMap[t.ID],
			PlanID:       planID,
			Description:  t.Description,
			ToolName:     t.ToolName,
			Parameters:   t.Parameters,
			Dependencies: deps,
			Status:       models.TaskStatusPending,
		})
	}

	plan := &models.Plan{
		ID:        planID,
		Goal:      goal,
		Tasks:     tasks,
		Status:    models.PlanStatusReady,
		CreatedAt: time.Now(),
	}

	if cycle, found := detectCycle(plan); found {
		return nil, fmt.Errorf("%w: planner: dependency cycle: %v", laioserr.ErrValidation, cycle)
	}
	return plan, nil
}

// detectCycle runs a DFS-coloring cycle check over plan's task DAG,
// mirroring the scheduler's own acyclicity guard so an invalid plan is
// rejected here rather than deadlocking the scheduler later.
func detectCycle(plan *models.Plan) ([]string, bool) {
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
		if task := plan.TaskByID(id); task != nil {
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

	for _, t := range plan.Tasks {
		if visit(t.ID) {
			return cycle, true
		}
	}
	return nil, false
}

func buildPrompt(goal models.Goal, tools []string, feedback string) string {
	var b strings.Builder
	b.WriteString("Decompose the following goal into a JSON task DAG.\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal.Description)
	if len(tools) > 0 {
		fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(tools, ", "))
	}
	b.WriteString(`Respond with JSON of the shape {"tasks":[{"id":"t1","description":"...","tool_name":"...","parameters":{},"dependencies":[]}]}.` + "\n")
	if feedback != "" {
		fmt.Fprintf(&b, "Your previous attempt was rejected: %s. Fix it and try again.\n", feedback)
	}
	return b.String()
}

// extractJSON strips a surrounding markdown code fence, if present, since
// providers frequently wrap JSON responses in ```json ... ``` even when
// asked not to.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
