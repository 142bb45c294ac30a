package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/memory"
	"github.com/minibot-ai/minibot/pkg/session"
	"github.com/minibot-ai/minibot/pkg/skills"
)

// DefaultContextBudget caps the serialized size of the model-facing history.
const DefaultContextBudget = 16000

// bootstrapFiles are read from the workspace root, in this order, to form
// the system prompt. Missing files are skipped.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

const elidedKey = "elided_turns"

const defaultIdentity = "You are a helpful personal assistant. Be concise and direct."

// ContextBuilder assembles the system prompt and the bounded model-facing
// history window. Raw history is never deleted, only elided from the window.
type ContextBuilder struct {
	workspace string
	memory    *memory.Store
	skills    *skills.Loader
	budget    int
	logger    zerolog.Logger
}

// ContextBuilderOptions configures a ContextBuilder.
type ContextBuilderOptions struct {
	Workspace string
	Memory    *memory.Store
	Skills    *skills.Loader
	Budget    int
	Logger    zerolog.Logger
}

// NewContextBuilder creates a context builder rooted at the workspace.
func NewContextBuilder(opts ContextBuilderOptions) (*ContextBuilder, error) {
	if opts.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &ContextBuilder{
		workspace: opts.Workspace,
		memory:    opts.Memory,
		skills:    opts.Skills,
		budget:    budget,
		logger:    opts.Logger.With().Str("component", "context").Logger(),
	}, nil
}

// SystemPrompt assembles the identity, workspace bootstrap files, memory
// context, and skills summary into a single system prompt.
func (b *ContextBuilder) SystemPrompt() string {
	sections := []string{}

	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", name, content))
	}

	if len(sections) == 0 {
		sections = append(sections, defaultIdentity)
	}

	if b.memory != nil {
		if memCtx := strings.TrimSpace(b.memory.Context()); memCtx != "" {
			sections = append(sections, memCtx)
		}
	}

	if b.skills != nil {
		if summary := strings.TrimSpace(b.skills.Summary()); summary != "" {
			sections = append(sections, "## Skills\n\nLoad a skill's full instructions with read_file when needed.\n\n"+summary)
		}
	}

	return strings.Join(sections, "\n\n")
}

// Truncate bounds the history to the serialized budget. The oldest turns are
// elided and replaced by one synthetic summary turn carrying the elided
// count. The operation is deterministic and idempotent: truncating an
// already-truncated window returns it unchanged, and re-truncation folds the
// prior summary into the new one instead of stacking.
func (b *ContextBuilder) Truncate(turns []session.Turn) []session.Turn {
	if serializedSize(turns) <= b.budget {
		return turns
	}

	// Fold a summary produced by an earlier pass into the running count.
	elided := 0
	rest := turns
	if len(rest) > 0 {
		if n, ok := elidedCount(rest[0]); ok {
			elided = n
			rest = rest[1:]
		}
	}

	for len(rest) > 1 {
		window := append([]session.Turn{summaryTurn(elided)}, rest...)
		if serializedSize(window) <= b.budget {
			break
		}
		elided++
		rest = rest[1:]
	}

	b.logger.Debug().
		Int("elided", elided).
		Int("kept", len(rest)).
		Msg("History truncated to context budget")

	window := append([]session.Turn{summaryTurn(elided)}, rest...)
	// A single turn can exceed the budget on its own. Clip its content so
	// arbitrarily long histories still come back at or under the budget.
	if len(rest) == 1 {
		window[1] = clipTurn(window[1], b.budget-serializedSize(window[:1]))
	}
	return window
}

// clipTurn cuts a turn's content until its serialized size fits the budget.
// Deterministic: the same turn and budget always produce the same prefix.
func clipTurn(turn session.Turn, budget int) session.Turn {
	for {
		excess := serializedSize([]session.Turn{turn}) - budget
		if excess <= 0 || len(turn.Content) == 0 {
			return turn
		}
		cut := excess
		if cut > len(turn.Content) {
			cut = len(turn.Content)
		}
		turn.Content = strings.ToValidUTF8(turn.Content[:len(turn.Content)-cut], "")
	}
}

// Messages converts a history window into provider-neutral messages.
// Synthetic summary turns and system events are presented as user content.
func (b *ContextBuilder) Messages(turns []session.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleUser, session.RoleSystem:
			messages = append(messages, Message{Role: "user", Content: turn.Content})
		case session.RoleAssistant:
			msg := Message{Role: "assistant", Content: turn.Content}
			for _, tc := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, ToolUse{ID: tc.ID, Name: tc.Name, Args: tc.Args})
			}
			messages = append(messages, msg)
		case session.RoleTool:
			callID, _ := turn.Metadata["tool_call_id"].(string)
			messages = append(messages, Message{Role: "tool", Content: turn.Content, ToolCallID: callID})
		}
	}
	return messages
}

func summaryTurn(elided int) session.Turn {
	return session.Turn{
		Role:     session.RoleSystem,
		Content:  fmt.Sprintf("[%d earlier turns elided from context]", elided),
		Metadata: map[string]interface{}{elidedKey: elided},
	}
}

func elidedCount(turn session.Turn) (int, bool) {
	if turn.Role != session.RoleSystem {
		return 0, false
	}
	switch v := turn.Metadata[elidedKey].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func serializedSize(turns []session.Turn) int {
	size := 0
	for _, turn := range turns {
		if data, err := json.Marshal(turn); err == nil {
			size += len(data)
		}
	}
	return size
}
