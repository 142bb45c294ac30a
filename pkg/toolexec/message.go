package toolexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// RegisterMessageTool registers the message tool, which sends a message to a
// chat surface mid-run instead of waiting for the final response.
func RegisterMessageTool(executor *Executor, deliver func(ctx context.Context, msg bus.OutboundMessage) error) error {
	return executor.Register(ToolDefinition{
		Name:        "message",
		Description: "Send a message to the user on a chat channel without ending the current run.",
		Parameters: []ToolParameter{
			{Name: "content", Type: "string", Description: "Message text to send", Required: true},
			{Name: "channel", Type: "string", Description: "Target channel (default: current session's channel)", Required: false},
			{Name: "chat_id", Type: "string", Description: "Target chat id (default: current session's chat)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			content, _ := params["content"].(string)
			if strings.TrimSpace(content) == "" {
				return nil, fmt.Errorf("content is required")
			}

			channel, _ := params["channel"].(string)
			chatID, _ := params["chat_id"].(string)
			if execCtx := ExecContextFromContext(ctx); execCtx != nil {
				if channel == "" {
					channel = execCtx.Channel
				}
				if chatID == "" {
					chatID = execCtx.ChatID
				}
			}
			if channel == "" || chatID == "" {
				return nil, fmt.Errorf("no target channel for message")
			}

			err := deliver(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
			if err != nil {
				return nil, fmt.Errorf("delivery failed: %w", err)
			}
			return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
		},
	})
}
