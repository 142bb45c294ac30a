// Package workspace scaffolds the agent's working directory: bootstrap
// files, the memory directory, and the skills directory. Existing files are
// never overwritten.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// templates are the default bootstrap files created on first run.
var templates = map[string]string{
	"AGENTS.md": `# Agent Instructions

You are a helpful personal assistant. Be concise, accurate, and friendly.

## Guidelines

- Explain what you are doing before taking actions
- Ask for clarification when a request is ambiguous
- Use tools to get things done
- Record important information in your memory files
`,
	"SOUL.md": `# Soul

## Personality

- Helpful and friendly
- Concise and to the point
- Curious and eager to learn

## Values

- Accuracy over speed
- User privacy and safety
- Transparency about actions
`,
	"USER.md": `# User

Information about the user goes here.

## Preferences

- Communication style: (casual/formal)
- Timezone: (your timezone)
- Language: (your preferred language)
`,
	"HEARTBEAT.md": `# Heartbeat

<!-- Standing tasks, one checkbox per line. Checked items are ignored. -->

- [ ]
`,
}

const memoryTemplate = `# Long-term Memory

This file stores important information that should persist across sessions.

## User Info

(important facts about the user)

## Preferences

(user preferences learned over time)

## Notes

(things to remember)
`

// Ensure creates the workspace directory tree and default bootstrap files.
// Files that already exist are left untouched, so it is safe to call on
// every startup.
func Ensure(root string) error {
	if root == "" {
		return fmt.Errorf("workspace root is required")
	}

	for _, dir := range []string{root, filepath.Join(root, "memory"), filepath.Join(root, "skills")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	for name, content := range templates {
		if err := writeIfMissing(filepath.Join(root, name), content); err != nil {
			return err
		}
	}

	return writeIfMissing(filepath.Join(root, "memory", "MEMORY.md"), memoryTemplate)
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}
