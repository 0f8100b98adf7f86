// Package filesystem provides the runtime's built-in file tools (read,
// write, edit), each scoped to a workspace root and routed through
// hardening.CanonicalizePath so a task can never reach outside it.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/laios/laios/internal/hardening"
	"github.com/laios/laios/pkg/models"
)

const defaultMaxReadBytes = 200_000

// ReadTool reads a file from within a workspace root.
type ReadTool struct {
	root         string
	maxReadBytes int
}

// NewReadTool builds a ReadTool scoped to root. maxReadBytes <= 0 uses
// the default cap of 200KB.
func NewReadTool(root string, maxReadBytes int) *ReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &ReadTool{root: absOrSelf(root), maxReadBytes: maxReadBytes}
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read a UTF-8 text file from the workspace." }
func (t *ReadTool) Category() string    { return "filesystem" }

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) RequiredPermissions() []models.Permission {
	return []models.Permission{models.PermissionFilesystemRead}
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*models.ToolOutput, error) {
	path, ok := params["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return &models.ToolOutput{Success: false, Error: "path is required"}, nil
	}
	resolved, err := hardening.CanonicalizePath(t.root, path)
	if err != nil {
		return &models.ToolOutput{Success: false, Error: err.Error()}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("read file: %v", err)}, nil
	}
	truncated := false
	if len(data) > t.maxReadBytes {
		data = data[:t.maxReadBytes]
		truncated = true
	}
	return &models.ToolOutput{
		Success: true,
		Data:    string(data),
		Metadata: map[string]any{
			"bytes":     len(data),
			"truncated": truncated,
		},
	}, nil
}

// WriteTool writes a file within a workspace root, creating parent
// directories as needed.
type WriteTool struct {
	root string
}

// NewWriteTool builds a WriteTool scoped to root.
func NewWriteTool(root string) *WriteTool {
	return &WriteTool{root: absOrSelf(root)}
}

func (t *WriteTool) Name() string        { return "write_file" }
func (t *WriteTool) Description() string { return "Write a UTF-8 text file in the workspace, creating parent directories as needed." }
func (t *WriteTool) Category() string    { return "filesystem" }

func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) RequiredPermissions() []models.Permission {
	return []models.Permission{models.PermissionFilesystemWrite}
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*models.ToolOutput, error) {
	path, ok := params["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return &models.ToolOutput{Success: false, Error: "path is required"}, nil
	}
	content, ok := params["content"].(string)
	if !ok {
		return &models.ToolOutput{Success: false, Error: "content is required"}, nil
	}
	resolved, err := hardening.CanonicalizePath(t.root, path)
	if err != nil {
		return &models.ToolOutput{Success: false, Error: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("create parent dirs: %v", err)}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("write file: %v", err)}, nil
	}
	return &models.ToolOutput{Success: true, Data: map[string]any{"path": path, "bytes": len(content)}}, nil
}

// EditTool replaces one exact occurrence of old_string with new_string in
// an existing file, mirroring the teacher's find-and-replace edit tool
// but refusing ambiguous matches instead of guessing.
type EditTool struct {
	root string
}

// NewEditTool builds an EditTool scoped to root.
func NewEditTool(root string) *EditTool {
	return &EditTool{root: absOrSelf(root)}
}

func (t *EditTool) Name() string        { return "edit_file" }
func (t *EditTool) Description() string { return "Replace one exact occurrence of a string in a workspace file." }
func (t *EditTool) Category() string    { return "filesystem" }

func (t *EditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string", "description": "Path relative to the workspace root."},
			"old_string": map[string]any{"type": "string", "description": "Exact text to replace."},
			"new_string": map[string]any{"type": "string", "description": "Replacement text."},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditTool) RequiredPermissions() []models.Permission {
	return []models.Permission{models.PermissionFilesystemRead, models.PermissionFilesystemWrite}
}

func (t *EditTool) Execute(ctx context.Context, params map[string]any) (*models.ToolOutput, error) {
	path, _ := params["path"].(string)
	oldStr, _ := params["old_string"].(string)
	newStr, _ := params["new_string"].(string)
	if strings.TrimSpace(path) == "" {
		return &models.ToolOutput{Success: false, Error: "path is required"}, nil
	}
	if oldStr == "" {
		return &models.ToolOutput{Success: false, Error: "old_string is required"}, nil
	}

	resolved, err := hardening.CanonicalizePath(t.root, path)
	if err != nil {
		return &models.ToolOutput{Success: false, Error: err.Error()}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("read file: %v", err)}, nil
	}

	content := string(data)
	count := strings.Count(content, oldStr)
	switch count {
	case 0:
		return &models.ToolOutput{Success: false, Error: "old_string not found in file"}, nil
	case 1:
		// exact single match, proceed
	default:
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("old_string is ambiguous: %d occurrences", count)}, nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return &models.ToolOutput{Success: false, Error: fmt.Sprintf("write file: %v", err)}, nil
	}
	return &models.ToolOutput{Success: true, Data: map[string]any{"path": path}}, nil
}

func absOrSelf(root string) string {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	return abs
}
