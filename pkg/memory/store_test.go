package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongTermMemory(t *testing.T) {
	workspace := t.TempDir()
	store, err := NewStore(workspace)
	require.NoError(t, err)

	assert.Empty(t, store.ReadLongTerm())

	require.NoError(t, os.WriteFile(
		filepath.Join(workspace, "memory", LongTermFile),
		[]byte("User prefers short answers."), 0644))
	assert.Equal(t, "User prefers short answers.", store.ReadLongTerm())
}

func TestAppendToday(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.AppendToday("- met with Sam"))
	require.NoError(t, store.AppendToday("- reviewed the plan"))

	content := store.ReadToday()
	assert.Contains(t, content, "# "+time.Now().Format("2006-01-02"))
	assert.Contains(t, content, "- met with Sam")
	assert.Contains(t, content, "- reviewed the plan")
}

func TestContextAssembly(t *testing.T) {
	workspace := t.TempDir()
	store, err := NewStore(workspace)
	require.NoError(t, err)

	assert.Empty(t, store.Context())

	require.NoError(t, os.WriteFile(
		filepath.Join(workspace, "memory", LongTermFile),
		[]byte("Likes tea."), 0644))
	require.NoError(t, store.AppendToday("- bought tea"))

	ctx := store.Context()
	assert.Contains(t, ctx, "Long-term memory")
	assert.Contains(t, ctx, "Likes tea.")
	assert.Contains(t, ctx, "Today's notes")
	assert.Contains(t, ctx, "- bought tea")
}
