package toolexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSExecutor(t *testing.T, restrict bool) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	e := newTestExecutor(t)
	require.NoError(t, RegisterFileTools(e, FSOptions{Workspace: dir, Restrict: restrict}))
	return e, dir
}

func TestReadWriteRoundTrip(t *testing.T) {
	e, dir := newFSExecutor(t, true)

	result := e.Execute(context.Background(), "write_file",
		map[string]interface{}{"path": "notes/todo.md", "content": "- buy milk\n"}, nil)
	require.True(t, result.Success, "error: %s", result.Error)

	data, err := os.ReadFile(filepath.Join(dir, "notes", "todo.md"))
	require.NoError(t, err)
	assert.Equal(t, "- buy milk\n", string(data))

	result = e.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "notes/todo.md"}, nil)
	require.True(t, result.Success)
	assert.Equal(t, "- buy milk\n", result.Text())
}

func TestWriteFileAppend(t *testing.T) {
	e, dir := newFSExecutor(t, true)

	for _, line := range []string{"one\n", "two\n"} {
		result := e.Execute(context.Background(), "write_file",
			map[string]interface{}{"path": "log.txt", "content": line, "append": true}, nil)
		require.True(t, result.Success)
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestEditFile(t *testing.T) {
	e, dir := newFSExecutor(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world, hello moon"), 0644))

	result := e.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "a.txt", "search": "hello", "replace": "goodbye"}, nil)
	require.True(t, result.Success, "error: %s", result.Error)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "goodbye world, hello moon", string(data))

	result = e.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "a.txt", "search": "hello", "replace": "goodbye", "replace_all": true}, nil)
	require.True(t, result.Success)

	result = e.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "a.txt", "search": "absent", "replace": "x"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestListDir(t *testing.T) {
	e, dir := newFSExecutor(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	result := e.Execute(context.Background(), "list_dir", map[string]interface{}{}, nil)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Contains(t, result.Text(), "b.txt")
	assert.Contains(t, result.Text(), "sub/")
}

func TestWorkspaceConfinement(t *testing.T) {
	e, _ := newFSExecutor(t, true)

	escapes := []string{"../outside.txt", "/etc/passwd", "a/../../b"}
	for _, path := range escapes {
		result := e.Execute(context.Background(), "read_file",
			map[string]interface{}{"path": path}, nil)
		assert.False(t, result.Success, "path %q should be rejected", path)
	}
}

func TestUnrestrictedAllowsAbsolutePaths(t *testing.T) {
	e, _ := newFSExecutor(t, false)
	outside := filepath.Join(t.TempDir(), "free.txt")
	require.NoError(t, os.WriteFile(outside, []byte("free"), 0644))

	result := e.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": outside}, nil)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "free", result.Text())
}
