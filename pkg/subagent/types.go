package subagent

import "time"

// TaskStatus represents the execution state of a background task
type TaskStatus string

const (
	StatusRunning TaskStatus = "running"
	StatusDone    TaskStatus = "done"
	StatusFailed  TaskStatus = "failed"
)

// IsTerminal returns true if the status is terminal
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task represents a background subagent execution record
type Task struct {
	ID               string     `json:"id"`
	ParentSessionKey string     `json:"parent_session_key"`
	ChildSessionKey  string     `json:"child_session_key"`
	Label            string     `json:"label"`
	Task             string     `json:"task"`
	OriginChannel    string     `json:"origin_channel"`
	OriginChatID     string     `json:"origin_chat_id"`
	Status           TaskStatus `json:"status"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAtMs      int64      `json:"started_at_ms"`
	CompletedAtMs    int64      `json:"completed_at_ms,omitempty"`
}

// Registry is the persistent storage format
type Registry struct {
	Version     int     `json:"version"`
	Tasks       []*Task `json:"tasks"`
	LastUpdated int64   `json:"last_updated"`
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Tasks:       []*Task{},
		LastUpdated: time.Now().UnixMilli(),
	}
}
