package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SkillFile is the markdown document that defines a skill.
const SkillFile = "SKILL.md"

// Info describes a discovered skill.
type Info struct {
	Name   string
	Path   string
	Source string // "workspace" or "builtin"
}

// Loader discovers skills: markdown files that teach the agent how to use a
// tool or carry out a kind of task. Workspace skills shadow builtin ones.
type Loader struct {
	workspaceSkills string
	builtinSkills   string
}

// NewLoader creates a loader rooted at the workspace. builtinDir may be empty.
func NewLoader(workspace, builtinDir string) *Loader {
	return &Loader{
		workspaceSkills: filepath.Join(workspace, "skills"),
		builtinSkills:   builtinDir,
	}
}

// List returns all discovered skills, workspace first.
func (l *Loader) List() []Info {
	var skills []Info
	seen := map[string]bool{}

	for _, root := range []struct {
		dir    string
		source string
	}{
		{l.workspaceSkills, "workspace"},
		{l.builtinSkills, "builtin"},
	} {
		if root.dir == "" {
			continue
		}
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || seen[entry.Name()] {
				continue
			}
			path := filepath.Join(root.dir, entry.Name(), SkillFile)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			seen[entry.Name()] = true
			skills = append(skills, Info{Name: entry.Name(), Path: path, Source: root.source})
		}
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// Load returns a skill's content by name, frontmatter stripped.
func (l *Loader) Load(name string) (string, error) {
	for _, dir := range []string{l.workspaceSkills, l.builtinSkills} {
		if dir == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name, SkillFile))
		if err == nil {
			return stripFrontmatter(string(data)), nil
		}
	}
	return "", fmt.Errorf("skill not found: %s", name)
}

// Summary builds a compact listing of every skill for the system prompt. The
// agent reads the full SKILL.md with read_file when it actually needs one.
func (l *Loader) Summary() string {
	skills := l.List()
	if len(skills) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<skills>\n")
	for _, skill := range skills {
		fmt.Fprintf(&b, "  <skill name=%q source=%q path=%q/>\n",
			skill.Name, skill.Source, skill.Path)
	}
	b.WriteString("</skills>")
	return b.String()
}

// stripFrontmatter drops a leading YAML frontmatter block.
func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---\n") {
		return content
	}
	rest := content[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return content
	}
	rest = rest[idx+4:]
	return strings.TrimLeft(rest, "\n")
}
