package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LongTermFile holds durable facts the agent writes with its file tools.
const LongTermFile = "MEMORY.md"

// Store is the agent's file-based memory: a long-term MEMORY.md plus daily
// notes (memory/YYYY-MM-DD.md). The agent edits these through ordinary file
// tools; the store only assembles them for the system prompt.
type Store struct {
	dir string
}

// NewStore creates the memory directory under the workspace.
func NewStore(workspace string) (*Store, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the memory directory path.
func (s *Store) Dir() string {
	return s.dir
}

// ReadLongTerm returns the long-term memory content, or "".
func (s *Store) ReadLongTerm() string {
	data, err := os.ReadFile(filepath.Join(s.dir, LongTermFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// ReadToday returns today's note, or "".
func (s *Store) ReadToday() string {
	data, err := os.ReadFile(s.todayPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// AppendToday appends content to today's note, creating it with a date
// header if needed.
func (s *Store) AppendToday(content string) error {
	path := s.todayPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		content = fmt.Sprintf("# %s\n\n%s", today(), content)
	} else {
		content = "\n" + content
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daily note: %w", err)
	}
	defer file.Close()
	_, err = file.WriteString(content)
	return err
}

// Context assembles long-term memory and today's note for the system prompt.
func (s *Store) Context() string {
	var parts []string
	if longTerm := strings.TrimSpace(s.ReadLongTerm()); longTerm != "" {
		parts = append(parts, "## Long-term memory\n\n"+longTerm)
	}
	if todayNote := strings.TrimSpace(s.ReadToday()); todayNote != "" {
		parts = append(parts, "## Today's notes\n\n"+todayNote)
	}
	return strings.Join(parts, "\n\n")
}

func (s *Store) todayPath() string {
	return filepath.Join(s.dir, today()+".md")
}

func today() string {
	return time.Now().Format("2006-01-02")
}
