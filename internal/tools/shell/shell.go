// Package shell provides the runtime's built-in shell execution tool. It
// never goes through a shell interpreter: the command name and each
// argument are validated independently, then exec'd directly, so shell
// metacharacters in a parameter can't chain a second command.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	safety "github.com/laios/laios/internal/exec"
	"github.com/laios/laios/internal/hardening"
	"github.com/laios/laios/pkg/models"
)

const defaultTimeout = 30 * time.Second
const maxOutputBytes = 65536

// ExecTool runs a single command (no shell, no pipes) with a bounded
// timeout and truncated captured output.
type ExecTool struct {
	workDir string
	timeout time.Duration
}

// NewExecTool builds an ExecTool that runs commands in workDir, each
// bounded by timeout (<=0 uses the 30s default).
func NewExecTool(workDir string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ExecTool{workDir: workDir, timeout: timeout}
}

func (t *ExecTool) Name() string        { return "shell_exec" }
func (t *ExecTool) Description() string { return "Run a command directly (no shell interpreter, no pipes) with a bounded timeout." }
func (t *ExecTool) Category() string    { return "shell" }

func (t *ExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Executable name or path.",
			},
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Arguments passed to the command, each validated independently.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) RequiredPermissions() []models.Permission {
	return []models.Permission{models.PermissionShellExec}
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (*models.ToolOutput, error) {
	command, ok := params["command"].(string)
	if !ok || command == "" {
		return &models.ToolOutput{Success: false, Error: "command is required"}, nil
	}
	if !safety.IsSafeExecutableValue(command) {
		return &models.ToolOutput{Success: false, Error: "command failed safety validation"}, nil
	}

	args, err := parseArgs(params["args"])
	if err != nil {
		return &models.ToolOutput{Success: false, Error: err.Error()}, nil
	}
	sanitized := make([]string, 0, len(args))
	for _, a := range args {
		clean, err := hardening.SanitizeShellArgument(a)
		if err != nil {
			return &models.ToolOutput{Success: false, Error: fmt.Sprintf("argument rejected: %v", err)}, nil
		}
		sanitized = append(sanitized, clean)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, sanitized...)
	if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out := stdout.Bytes()
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes]
	}
	errOut := stderr.Bytes()
	if len(errOut) > maxOutputBytes {
		errOut = errOut[:maxOutputBytes]
	}

	if runCtx.Err() != nil {
		return &models.ToolOutput{Success: false, Error: "command timed out"}, nil
	}
	if runErr != nil {
		return &models.ToolOutput{
			Success: false,
			Error:   runErr.Error(),
			Data:    map[string]any{"stdout": string(out), "stderr": string(errOut)},
		}, nil
	}
	return &models.ToolOutput{
		Success: true,
		Data:    map[string]any{"stdout": string(out), "stderr": string(errOut)},
	}, nil
}

func parseArgs(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("args must be a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("args must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
