package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	return store
}

func TestAppendAndLoad(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append("telegram:42", NewTurn(RoleUser, "hello")))
	require.NoError(t, store.Append("telegram:42", NewTurn(RoleAssistant, "hi there")))

	turns, err := store.Load("telegram:42")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestLoadMissingSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.Load("telegram:nope")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAppendToolCallTurn(t *testing.T) {
	store := newTestStore(t)

	turn := NewTurn(RoleAssistant, "")
	turn.ToolCalls = []ToolCall{{
		ID:     "call_1",
		Name:   "read_file",
		Args:   map[string]interface{}{"path": "notes.md"},
		Result: "contents",
		Status: CallOK,
	}}
	require.NoError(t, store.Append("cli:direct", turn))

	turns, err := store.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Len(t, turns[0].ToolCalls, 1)
	assert.Equal(t, "read_file", turns[0].ToolCalls[0].Name)
	assert.Equal(t, CallOK, turns[0].ToolCalls[0].Status)
}

func TestCorruptedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)

	content := `{"role":"user","content":"first","timestamp":"2026-01-01T00:00:00Z"}
not json at all
{"role":"assistant","content":"second","timestamp":"2026-01-01T00:00:01Z"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "telegram:9.jsonl"), []byte(content), 0600))

	turns, err := store.Load("telegram:9")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "second", turns[1].Content)
}

func TestKeyValidation(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"", "../escape", "a/b", "a\\b", "nul\x00byte"} {
		assert.Error(t, store.Append(key, NewTurn(RoleUser, "x")), "key %q should be rejected", key)
	}
}

func TestDeleteRemovesHistory(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append("telegram:1", NewTurn(RoleUser, "hello")))
	require.NoError(t, store.Delete("telegram:1"))

	turns, err := store.Load("telegram:1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	keys, err := store.List()
	require.NoError(t, err)
	assert.NotContains(t, keys, "telegram:1")
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append("telegram:1", NewTurn(RoleUser, "a")))
	require.NoError(t, store.Append("cli:direct", NewTurn(RoleUser, "b")))

	keys, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"telegram:1", "cli:direct"}, keys)
}

func TestCacheReflectsAppends(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append("cli:direct", NewTurn(RoleUser, "one")))
	_, err := store.Load("cli:direct")
	require.NoError(t, err)

	require.NoError(t, store.Append("cli:direct", NewTurn(RoleAssistant, "two")))

	turns, err := store.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[1].Content)
}
