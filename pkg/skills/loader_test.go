package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFile), []byte(content), 0644))
}

func TestListAndLoad(t *testing.T) {
	workspace := t.TempDir()
	builtin := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "notes", "# Notes skill\nTake notes.")
	writeSkill(t, builtin, "weather", "# Weather skill\nCheck weather.")

	l := NewLoader(workspace, builtin)

	skills := l.List()
	require.Len(t, skills, 2)
	assert.Equal(t, "notes", skills[0].Name)
	assert.Equal(t, "workspace", skills[0].Source)
	assert.Equal(t, "weather", skills[1].Name)
	assert.Equal(t, "builtin", skills[1].Source)

	content, err := l.Load("weather")
	require.NoError(t, err)
	assert.Contains(t, content, "Check weather")

	_, err = l.Load("missing")
	assert.Error(t, err)
}

func TestWorkspaceShadowsBuiltin(t *testing.T) {
	workspace := t.TempDir()
	builtin := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "notes", "workspace version")
	writeSkill(t, builtin, "notes", "builtin version")

	l := NewLoader(workspace, builtin)

	skills := l.List()
	require.Len(t, skills, 1)
	assert.Equal(t, "workspace", skills[0].Source)

	content, err := l.Load("notes")
	require.NoError(t, err)
	assert.Equal(t, "workspace version", content)
}

func TestStripFrontmatter(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "fm",
		"---\nname: fm\ndescription: test\n---\n\n# Body\n")

	l := NewLoader(workspace, "")
	content, err := l.Load("fm")
	require.NoError(t, err)
	assert.Equal(t, "# Body\n", content)
}

func TestSummary(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "notes", "x")

	l := NewLoader(workspace, "")
	summary := l.Summary()
	assert.Contains(t, summary, "<skills>")
	assert.Contains(t, summary, `name="notes"`)

	empty := NewLoader(t.TempDir(), "")
	assert.Empty(t, empty.Summary())
}
