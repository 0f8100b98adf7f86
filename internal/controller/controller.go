// Package controller ties the Planner, Executor, and Reflector into the
// runtime's user-facing surface: sessions, conversational turns, and
// goal execution with a bounded replan loop. Trust-level gating decides
// which tasks need human approval before the executor is allowed to run
// them.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laios/laios/internal/executor"
	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/internal/planner"
	"github.com/laios/laios/internal/reflector"
	"github.com/laios/laios/pkg/models"
)

// PermissionLookup is the subset of the tool registry the controller
// needs to decide whether a task's tool requires approval. *registry.Registry
// satisfies this.
type PermissionLookup interface {
	Get(name string) (models.Tool, bool)
}

// ApprovalFunc is consulted before a gated task runs. It returns whether
// the task is approved to execute; a non-nil error is treated as denial.
type ApprovalFunc func(ctx context.Context, task *models.Task, perms []models.Permission) (bool, error)

// Config configures a Controller.
type Config struct {
	TrustLevel     models.TrustLevel
	MaxReplans     int
	ResourceLimits executor.ResourceLimits
}

// DefaultConfig returns BALANCED trust, one replan attempt, and the
// executor's default per-task resource limits.
func DefaultConfig() Config {
	return Config{
		TrustLevel:     models.TrustBalanced,
		MaxReplans:     1,
		ResourceLimits: executor.DefaultResourceLimits(),
	}
}

// riskyForBalanced is the set of permissions that require approval under
// BALANCED trust even though most tool calls don't.
var riskyForBalanced = map[models.Permission]bool{
	models.PermissionShellExec:       true,
	models.PermissionFilesystemWrite: true,
}

// approvalRequired decides, from trust level and a tool's declared
// permissions, whether a task must clear the approval gate.
func approvalRequired(trust models.TrustLevel, perms []models.Permission) bool {
	switch trust {
	case models.TrustAutonomous:
		return false
	case models.TrustSupervised:
		return true
	case models.TrustBalanced:
		for _, p := range perms {
			if riskyForBalanced[p] {
				return true
			}
		}
		return false
	default:
		return false
	}
}

type sessionEntry struct {
	mu      sync.Mutex
	session *models.Session
}

// Controller is the runtime's session and goal-execution surface.
type Controller struct {
	planner  *planner.Planner
	executor *executor.Executor
	reflect  *reflector.Reflector
	provider llmrouter.Provider
	tools    PermissionLookup
	approval ApprovalFunc
	config   Config
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// New builds a Controller. approval may be nil, in which case any task
// gated by trust level is denied by default rather than silently allowed.
func New(p *planner.Planner, ex *executor.Executor, refl *reflector.Reflector, provider llmrouter.Provider, tools PermissionLookup, approval ApprovalFunc, config Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		planner:  p,
		executor: ex,
		reflect:  refl,
		provider: provider,
		tools:    tools,
		approval: approval,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*sessionEntry),
	}
}

// CreateSession starts a new, active session for userID.
func (c *Controller) CreateSession(userID string) *models.Session {
	id := uuid.NewString()
	session := &models.Session{
		ID:     id,
		UserID: userID,
		Context: &models.Context{
			SessionID: id,
			UserID:    userID,
		},
		Active:    true,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.sessions[id] = &sessionEntry{session: session}
	c.mu.Unlock()
	return session
}

// GetSession returns the session by id, or false if it doesn't exist or
// has already been shut down.
func (c *Controller) GetSession(id string) (*models.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// ShutdownSession deactivates and removes a session.
func (c *Controller) ShutdownSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", laioserr.ErrNotFound, id)
	}
	e.session.Active = false
	delete(c.sessions, id)
	return nil
}

func (c *Controller) sessionEntry(id string) (*sessionEntry, error) {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", laioserr.ErrNotFound, id)
	}
	return e, nil
}

func toProviderMessages(msgs []models.Message) []llmrouter.Message {
	out := make([]llmrouter.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llmrouter.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// ProcessMessage appends text as a user turn, generates a reply via the
// configured provider, appends the reply as an assistant turn, and
// returns the reply text.
func (c *Controller) ProcessMessage(ctx context.Context, sessionID, text string) (string, error) {
	e, err := c.sessionEntry(sessionID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Context.Messages = append(e.session.Context.Messages, models.Message{Role: "user", Content: text})

	resp, err := c.provider.Generate(ctx, llmrouter.GenerateRequest{
		Messages: toProviderMessages(e.session.Context.Messages),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", laioserr.ErrProvider, err)
	}

	e.session.Context.Messages = append(e.session.Context.Messages, models.Message{Role: "assistant", Content: resp.Content})
	return resp.Content, nil
}

// ProcessMessageStream is ProcessMessage's streaming counterpart: it
// returns a channel of incremental text chunks and appends the
// accumulated assistant reply to the session once the stream completes.
func (c *Controller) ProcessMessageStream(ctx context.Context, sessionID, text string) (<-chan string, error) {
	e, err := c.sessionEntry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.session.Context.Messages = append(e.session.Context.Messages, models.Message{Role: "user", Content: text})
	msgs := toProviderMessages(e.session.Context.Messages)
	e.mu.Unlock()

	chunks, err := c.provider.GenerateStream(ctx, llmrouter.GenerateRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", laioserr.ErrProvider, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				c.logger.Warn("controller: stream chunk error", "session_id", sessionID, "error", chunk.Err)
				break
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				out <- chunk.Text
			}
			if chunk.Done {
				break
			}
		}
		e.mu.Lock()
		e.session.Context.Messages = append(e.session.Context.Messages, models.Message{Role: "assistant", Content: full.String()})
		e.mu.Unlock()
	}()

	return out, nil
}

// ExecuteGoal decomposes goal into a plan, runs it, evaluates the
// outcome, and replans up to Config.MaxReplans times if the reflector
// judges the result unsatisfactory. It returns a result map mirroring
// the shape callers build structured responses from: goal, plan,
// results, success, evaluation, and any insights learned along the way.
func (c *Controller) ExecuteGoal(ctx context.Context, sessionID string, goal models.Goal) (map[string]any, error) {
	e, err := c.sessionEntry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	sessionCtx := e.session.Context
	e.mu.Unlock()

	plan, err := c.planner.Plan(ctx, goal, nil)
	if err != nil {
		return nil, err
	}

	var results []*models.TaskResult
	var eval *reflector.Evaluation

	for attempt := 0; ; attempt++ {
		c.gateApprovals(ctx, plan)
		attemptResults := executor.RunPlan(ctx, c.executor, plan, c.config.ResourceLimits)
		results = append(results, attemptResults...)
		eval = c.reflect.EvaluatePlan(ctx, plan, attemptResults, sessionCtx)

		if !eval.ShouldReplan || attempt >= c.config.MaxReplans {
			break
		}

		c.logger.Info("controller: replanning after unsatisfactory evaluation",
			"session_id", sessionID, "attempt", attempt+1, "issues", eval.Issues)

		nextPlan, perr := c.planner.Plan(ctx, goal, &planner.PriorContext{
			Results: results,
			Issues:  eval.Issues,
		})
		if perr != nil {
			// Can't produce a better plan; accept what we already ran.
			break
		}
		plan = nextPlan
	}

	episode := &models.Episode{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Plan:      plan,
		Results:   results,
		Success:   eval.Success,
		CreatedAt: time.Now(),
	}
	insights := c.reflect.LearnFromEpisode(ctx, episode, sessionCtx)

	return map[string]any{
		"goal":       goal,
		"plan":       plan,
		"results":    results,
		"success":    eval.Success,
		"evaluation": eval,
		"insights":   insights,
	}, nil
}

// gateApprovals cancels, in place, every pending task whose tool
// requires approval under the configured trust level and either has no
// approval callback wired or was denied by it. The scheduler's own
// failure-propagation then cancels anything downstream.
func (c *Controller) gateApprovals(ctx context.Context, plan *models.Plan) {
	for _, task := range plan.Tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}

		var perms []models.Permission
		if c.tools != nil {
			if tool, ok := c.tools.Get(task.ToolName); ok {
				perms = tool.RequiredPermissions()
			}
		}

		if !approvalRequired(c.config.TrustLevel, perms) {
			continue
		}

		if c.approval == nil {
			task.Status = models.TaskStatusCancelled
			task.Error = "approval required but no approval callback configured"
			continue
		}

		approved, err := c.approval(ctx, task, perms)
		if err != nil || !approved {
			task.Status = models.TaskStatusCancelled
			task.Error = "approval denied"
		}
	}
}

// GetSessionState returns a snapshot of a session's externally visible
// state: its context and whether it's still active.
func (c *Controller) GetSessionState(sessionID string) (map[string]any, error) {
	e, err := c.sessionEntry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.session.Context.Snapshot()
	return map[string]any{
		"session_id": e.session.ID,
		"user_id":    e.session.UserID,
		"active":     e.session.Active,
		"context":    snapshot,
	}, nil
}
