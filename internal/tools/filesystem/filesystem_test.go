package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadToolReadsWithinWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	tool := NewReadTool(dir, 0)
	out, err := tool.Execute(context.Background(), map[string]any{"path": "hello.txt"})
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, "hello world", out.Data)
}

func TestReadToolRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadTool(dir, 0)
	out, err := tool.Execute(context.Background(), map[string]any{"path": "../../../etc/passwd"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "escapes workspace root")
}

func TestReadToolTruncatesOverLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte("0123456789"), 0o644))

	tool := NewReadTool(dir, 5)
	out, err := tool.Execute(context.Background(), map[string]any{"path": "big.txt"})
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, "01234", out.Data)
	assert.Equal(t, true, out.Metadata["truncated"])
}

func TestWriteToolCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteTool(dir)
	out, err := tool.Execute(context.Background(), map[string]any{
		"path":    "nested/dir/file.txt",
		"content": "data",
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestEditToolReplacesSingleMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.go")
	require.NoError(t, os.WriteFile(path, []byte("func foo() {}\n"), 0o644))

	tool := NewEditTool(dir)
	out, err := tool.Execute(context.Background(), map[string]any{
		"path":       "src.go",
		"old_string": "foo",
		"new_string": "bar",
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "func bar() {}\n", string(data))
}

func TestEditToolRejectsAmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.go")
	require.NoError(t, os.WriteFile(path, []byte("foo foo"), 0o644))

	tool := NewEditTool(dir)
	out, err := tool.Execute(context.Background(), map[string]any{
		"path":       "src.go",
		"old_string": "foo",
		"new_string": "bar",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "ambiguous")
}

func TestEditToolRejectsMissingMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.go")
	require.NoError(t, os.WriteFile(path, []byte("nothing here"), 0o644))

	tool := NewEditTool(dir)
	out, err := tool.Execute(context.Background(), map[string]any{
		"path":       "src.go",
		"old_string": "missing",
		"new_string": "bar",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "not found")
}

func TestToolsDeclareRequiredPermissions(t *testing.T) {
	dir := t.TempDir()
	assert.NotEmpty(t, NewReadTool(dir, 0).RequiredPermissions())
	assert.NotEmpty(t, NewWriteTool(dir).RequiredPermissions())
	assert.NotEmpty(t, NewEditTool(dir).RequiredPermissions())
}
