package agent

import (
	"strings"

	"github.com/minibot-ai/minibot/pkg/toolexec"
)

// Message is a provider-neutral conversation message.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCalls  []ToolUse `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Request contains the parameters for one provider call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []toolexec.ToolSpec
	Temperature float64
	MaxTokens   int
}

// Response is the provider's answer to a single Request.
type Response struct {
	Content   string
	ToolCalls []ToolUse
	Usage     Usage
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// IsRetryableError reports whether a provider error is worth retrying:
// rate limits, server errors, and transient network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504", "overloaded"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
