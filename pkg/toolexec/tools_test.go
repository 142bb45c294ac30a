package toolexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot-ai/minibot/pkg/bus"
	"github.com/minibot-ai/minibot/pkg/cron"
)

func sessionCtx() *ExecutionContext {
	return &ExecutionContext{
		SessionKey: "telegram:42",
		Channel:    "telegram",
		ChatID:     "42",
	}
}

func TestMessageToolDefaultsToSessionTarget(t *testing.T) {
	e := newTestExecutor(t)

	var sent []bus.OutboundMessage
	require.NoError(t, RegisterMessageTool(e, func(ctx context.Context, msg bus.OutboundMessage) error {
		sent = append(sent, msg)
		return nil
	}))

	result := e.Execute(context.Background(), "message",
		map[string]interface{}{"content": "working on it"}, sessionCtx())
	require.True(t, result.Success, "error: %s", result.Error)

	require.Len(t, sent, 1)
	assert.Equal(t, "telegram", sent[0].Channel)
	assert.Equal(t, "42", sent[0].ChatID)
	assert.Equal(t, "working on it", sent[0].Content)
}

func TestMessageToolExplicitTarget(t *testing.T) {
	e := newTestExecutor(t)

	var sent []bus.OutboundMessage
	require.NoError(t, RegisterMessageTool(e, func(ctx context.Context, msg bus.OutboundMessage) error {
		sent = append(sent, msg)
		return nil
	}))

	result := e.Execute(context.Background(), "message",
		map[string]interface{}{"content": "hi", "channel": "cli", "chat_id": "direct"}, sessionCtx())
	require.True(t, result.Success)
	require.Len(t, sent, 1)
	assert.Equal(t, "cli", sent[0].Channel)
}

type fakeSpawner struct {
	parentKey string
	task      string
}

func (f *fakeSpawner) Spawn(ctx context.Context, parentKey, originChannel, originChatID, task, label string) (string, error) {
	f.parentKey = parentKey
	f.task = task
	return "Subagent started: " + label, nil
}

func TestSpawnToolDelegates(t *testing.T) {
	e := newTestExecutor(t)
	spawner := &fakeSpawner{}
	require.NoError(t, RegisterSpawnTool(e, spawner))

	result := e.Execute(context.Background(), "spawn",
		map[string]interface{}{"task": "summarize inbox", "label": "inbox"}, sessionCtx())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Contains(t, result.Text(), "inbox")
	assert.Equal(t, "telegram:42", spawner.parentKey)
	assert.Equal(t, "summarize inbox", spawner.task)
}

func TestCronToolAddListRemove(t *testing.T) {
	e := newTestExecutor(t)
	scheduler, err := cron.NewService(cron.ServiceOptions{
		StorePath:      filepath.Join(t.TempDir(), "jobs.json"),
		Deliver:        func(ctx context.Context, msg bus.OutboundMessage) error { return nil },
		PublishInbound: func(msg bus.InboundMessage) {},
		Logger:         zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	require.NoError(t, RegisterCronTool(e, scheduler))

	result := e.Execute(context.Background(), "cron", map[string]interface{}{
		"action":        "add",
		"message":       "drink water",
		"every_seconds": float64(3600),
	}, sessionCtx())
	require.True(t, result.Success, "error: %s", result.Error)

	jobs := scheduler.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "telegram", jobs[0].Channel)
	assert.Equal(t, "42", jobs[0].ChatID)
	assert.Equal(t, cron.ModeReminder, jobs[0].Mode)

	result = e.Execute(context.Background(), "cron",
		map[string]interface{}{"action": "list"}, sessionCtx())
	require.True(t, result.Success)
	assert.Contains(t, result.Text(), jobs[0].ID)

	result = e.Execute(context.Background(), "cron",
		map[string]interface{}{"action": "remove", "job_id": jobs[0].ID}, sessionCtx())
	require.True(t, result.Success)
	assert.Empty(t, scheduler.List())
}

func TestCronToolRejectsBadSchedule(t *testing.T) {
	e := newTestExecutor(t)
	scheduler, err := cron.NewService(cron.ServiceOptions{
		StorePath:      filepath.Join(t.TempDir(), "jobs.json"),
		Deliver:        func(ctx context.Context, msg bus.OutboundMessage) error { return nil },
		PublishInbound: func(msg bus.InboundMessage) {},
		Logger:         zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	require.NoError(t, RegisterCronTool(e, scheduler))

	result := e.Execute(context.Background(), "cron", map[string]interface{}{
		"action":    "add",
		"message":   "x",
		"cron_expr": "not valid",
	}, sessionCtx())
	assert.False(t, result.Success)
	assert.Empty(t, scheduler.List())

	result = e.Execute(context.Background(), "cron", map[string]interface{}{
		"action":  "add",
		"message": "x",
		"at":      "tomorrow-ish",
	}, sessionCtx())
	assert.False(t, result.Success)
}
