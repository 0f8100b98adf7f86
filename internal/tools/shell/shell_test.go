package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecToolRunsCommand(t *testing.T) {
	tool := NewExecTool("", 0)
	out, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo",
		"args":    []any{"hello"},
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	assert.Contains(t, data["stdout"], "hello")
}

func TestExecToolRejectsShellMetacharactersInCommand(t *testing.T) {
	tool := NewExecTool("", 0)
	out, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo; rm -rf /",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestExecToolRejectsShellMetacharactersInArgs(t *testing.T) {
	tool := NewExecTool("", 0)
	out, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo",
		"args":    []any{"hello && rm -rf /"},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestExecToolRequiresCommand(t *testing.T) {
	tool := NewExecTool("", 0)
	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestExecToolTimesOut(t *testing.T) {
	tool := NewExecTool("", 10*time.Millisecond)
	out, err := tool.Execute(context.Background(), map[string]any{
		"command": "sleep",
		"args":    []any{"5"},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "timed out")
}

func TestExecToolRejectsNonStringArgs(t *testing.T) {
	tool := NewExecTool("", 0)
	out, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo",
		"args":    []any{42},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestExecToolDeclaresShellExecPermission(t *testing.T) {
	tool := NewExecTool("", 0)
	assert.NotEmpty(t, tool.RequiredPermissions())
}
