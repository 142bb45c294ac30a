package session

import "time"

// Role identifies who produced a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// CallStatus tracks the lifecycle of a single tool invocation.
type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallOK      CallStatus = "ok"
	CallError   CallStatus = "error"
	CallTimeout CallStatus = "timeout"
)

// ToolCall records one tool invocation requested by the model and its outcome.
type ToolCall struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result string                 `json:"result,omitempty"`
	Status CallStatus             `json:"status"`
}

// Turn is a single conversation entry. Turns are immutable once appended.
type Turn struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	ToolCalls []ToolCall             `json:"toolCalls,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewTurn builds a turn stamped with the current time.
func NewTurn(role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now()}
}
