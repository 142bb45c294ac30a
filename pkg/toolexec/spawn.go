package toolexec

import (
	"context"
	"fmt"
	"strings"
)

// Spawner starts a detached background task. The acknowledgment comes back
// immediately; the task announces its own completion later.
type Spawner interface {
	Spawn(ctx context.Context, parentKey, originChannel, originChatID, task, label string) (string, error)
}

// RegisterSpawnTool registers the spawn tool.
func RegisterSpawnTool(executor *Executor, spawner Spawner) error {
	return executor.Register(ToolDefinition{
		Name:        "spawn",
		Description: "Start a background subagent to work on a task. Returns immediately; the result is announced when the task finishes.",
		Parameters: []ToolParameter{
			{Name: "task", Type: "string", Description: "Instructions for the subagent", Required: true},
			{Name: "label", Type: "string", Description: "Short label for the task", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			task, _ := params["task"].(string)
			if strings.TrimSpace(task) == "" {
				return nil, fmt.Errorf("task is required")
			}
			label, _ := params["label"].(string)

			execCtx := ExecContextFromContext(ctx)
			if execCtx == nil {
				return nil, fmt.Errorf("no session context for spawn")
			}

			ack, err := spawner.Spawn(ctx, execCtx.SessionKey, execCtx.Channel, execCtx.ChatID, task, label)
			if err != nil {
				return nil, err
			}
			return ack, nil
		},
	})
}
