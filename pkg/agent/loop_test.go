package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot-ai/minibot/pkg/bus"
	"github.com/minibot-ai/minibot/pkg/session"
	"github.com/minibot-ai/minibot/pkg/toolexec"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []Request
	script   []func(req Request) (*Response, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx >= len(p.script) {
		return nil, fmt.Errorf("unexpected provider call %d", idx)
	}
	return p.script[idx](req)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textResponse(content string) func(Request) (*Response, error) {
	return func(Request) (*Response, error) {
		return &Response{Content: content, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

func toolResponse(id, name string, args map[string]interface{}) func(Request) (*Response, error) {
	return func(Request) (*Response, error) {
		return &Response{ToolCalls: []ToolUse{{ID: id, Name: name, Args: args}}}, nil
	}
}

type testEnv struct {
	loop      *Loop
	store     *session.Store
	provider  *scriptedProvider
	workspace string
}

func newTestEnv(t *testing.T, provider *scriptedProvider, tweak func(cfg *Config)) *testEnv {
	t.Helper()

	workspace := t.TempDir()
	store, err := session.NewStore(filepath.Join(workspace, "sessions"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	executor := toolexec.New(zerolog.Nop())
	require.NoError(t, toolexec.RegisterFileTools(executor, toolexec.FSOptions{Workspace: workspace, Restrict: true}))

	builder, err := NewContextBuilder(ContextBuilderOptions{Workspace: workspace, Logger: zerolog.Nop()})
	require.NoError(t, err)

	cfg := Config{
		Store:    store,
		Executor: executor,
		Provider: provider,
		Builder:  builder,
		Model:    "claude-test",
		Logger:   zerolog.Nop(),
	}
	if tweak != nil {
		tweak(&cfg)
	}

	loop, err := New(cfg)
	require.NoError(t, err)

	return &testEnv{loop: loop, store: store, provider: provider, workspace: workspace}
}

func TestNoToolAnswerSingleProviderCall(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("Hello there!"),
	}}
	env := newTestEnv(t, provider, nil)

	out, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "42", Content: "hi",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "Hello there!", out.Content)
	assert.Equal(t, "telegram", out.Channel)
	assert.Equal(t, "42", out.ChatID)
	assert.Equal(t, 1, provider.callCount())

	turns, err := env.store.Load("telegram:42")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)
}

func TestReadFileDrivesTwoProviderCalls(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		toolResponse("call_1", "read_file", map[string]interface{}{"path": "notes.txt"}),
		textResponse("The file says: hello from disk"),
	}}
	env := newTestEnv(t, provider, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workspace, "notes.txt"), []byte("hello from disk"), 0o644))

	out, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "what does notes.txt say?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 2, provider.callCount())
	assert.Contains(t, out.Content, "hello from disk")

	// The second request carries the tool result back to the model.
	second := provider.requests[1]
	var toolMsg *Message
	for i := range second.Messages {
		if second.Messages[i].Role == "tool" {
			toolMsg = &second.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "hello from disk")

	turns, err := env.store.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, turns, 4) // user, assistant(tool call), tool, assistant
	assert.Equal(t, session.RoleTool, turns[2].Role)
	assert.Equal(t, "call_1", turns[2].Metadata["tool_call_id"])

	// The assistant turn carries the finalized call outcome, not a pending
	// placeholder.
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, session.CallOK, turns[1].ToolCalls[0].Status)
	assert.Contains(t, turns[1].ToolCalls[0].Result, "hello from disk")
}

func TestIterationCeilingEmitsPartialAndNotice(t *testing.T) {
	insist := func(Request) (*Response, error) {
		return &Response{
			Content:   "still working",
			ToolCalls: []ToolUse{{ID: "c", Name: "list_dir", Args: map[string]interface{}{"path": "."}}},
		}, nil
	}
	provider := &scriptedProvider{script: []func(Request) (*Response, error){insist, insist, insist}}
	env := newTestEnv(t, provider, func(cfg *Config) { cfg.MaxIterations = 3 })

	out, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "loop forever",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 3, provider.callCount())
	assert.Contains(t, out.Content, "still working")
	assert.Contains(t, out.Content, "Stopped after 3 iterations")

	turns, err := env.store.Load("cli:direct")
	require.NoError(t, err)
	last := turns[len(turns)-1]
	assert.Equal(t, session.RoleAssistant, last.Role)
	assert.Equal(t, true, last.Metadata["aborted"])
}

func TestTransientProviderErrorRetried(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		func(Request) (*Response, error) { return nil, fmt.Errorf("upstream 503") },
		textResponse("recovered"),
	}}
	env := newTestEnv(t, provider, nil)

	out, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "hi",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "recovered", out.Content)
	assert.Equal(t, 2, provider.callCount())
}

func TestFatalProviderErrorNotRetried(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		func(Request) (*Response, error) { return nil, fmt.Errorf("invalid api key") },
		textResponse("should never be reached"),
	}}
	env := newTestEnv(t, provider, nil)

	out, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "hi",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, provider.callCount())
	assert.Contains(t, out.Content, "couldn't finish")

	// The failure is recorded on the session.
	turns, err := env.store.Load("cli:direct")
	require.NoError(t, err)
	last := turns[len(turns)-1]
	assert.Equal(t, session.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "invalid api key")
}

func TestSuppressedResponseNotDelivered(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("HEARTBEAT_OK"),
	}}
	env := newTestEnv(t, provider, func(cfg *Config) {
		cfg.SuppressResponse = func(msg bus.InboundMessage, response string) bool {
			return msg.SenderID == "heartbeat" && strings.Contains(response, "HEARTBEAT_OK")
		}
	})

	out, err := env.loop.Handle(context.Background(), bus.NewSystemMessage("heartbeat", "cli", "direct", "check tasks"))
	require.NoError(t, err)
	assert.Nil(t, out)

	// The run is still recorded even though nothing was delivered.
	turns, err := env.store.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestSystemEventRepliesToOrigin(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("Your background task finished."),
	}}
	env := newTestEnv(t, provider, nil)

	out, err := env.loop.Handle(context.Background(), bus.NewSystemMessage("subagent", "telegram", "42", "task done"))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "telegram", out.Channel)
	assert.Equal(t, "42", out.ChatID)
}

func TestSystemEventRunsInOriginSession(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("Noted, the docs live in /srv/docs."),
		textResponse("Your research task finished."),
	}}
	env := newTestEnv(t, provider, nil)

	_, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "42", Content: "the docs live in /srv/docs",
	})
	require.NoError(t, err)

	out, err := env.loop.Handle(context.Background(), bus.NewSystemMessage("subagent", "telegram", "42", "research task done"))
	require.NoError(t, err)
	require.NotNil(t, out)

	// The event and its reply land in the origin conversation, not a
	// synthetic system session.
	turns, err := env.store.Load("telegram:42")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, session.RoleSystem, turns[2].Role)
	assert.Equal(t, "research task done", turns[2].Content)

	stray, err := env.store.Load("system:telegram:42")
	require.NoError(t, err)
	assert.Empty(t, stray)

	// The run answering the event sees the origin conversation's history.
	second := provider.requests[1]
	seen := false
	for _, msg := range second.Messages {
		if strings.Contains(msg.Content, "/srv/docs") {
			seen = true
		}
	}
	assert.True(t, seen, "system-event run must see the origin session history")
}

func TestToolTimeoutRecordedOnCalls(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		toolResponse("call_slow", "stall", nil),
		textResponse("giving up on that"),
	}}
	env := newTestEnv(t, provider, nil)

	require.NoError(t, env.loop.executor.Register(toolexec.ToolDefinition{
		Name:        "stall",
		Description: "never returns in time",
		Timeout:     20 * time.Millisecond,
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	_, err := env.loop.Handle(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "run the slow thing",
	})
	require.NoError(t, err)

	turns, err := env.store.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, turns, 4)

	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, session.CallTimeout, turns[1].ToolCalls[0].Status)
	assert.NotEmpty(t, turns[1].ToolCalls[0].Result)
	assert.Equal(t, "timeout", turns[2].Metadata["status"])
}

func TestRunDirectReturnsFinalResponse(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("direct answer"),
	}}
	env := newTestEnv(t, provider, nil)

	response, err := env.loop.RunDirect(context.Background(), "cli:direct", "one-shot question")
	require.NoError(t, err)
	assert.Equal(t, "direct answer", response)
}

func TestSubagentRunnerExcludesDelegationTools(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		textResponse("child done"),
	}}
	env := newTestEnv(t, provider, nil)

	// Give the parent loop tools a child must not see.
	require.NoError(t, env.loop.executor.Register(toolexec.ToolDefinition{
		Name:        "message",
		Description: "send a message",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return "sent", nil
		},
	}))
	require.NoError(t, env.loop.executor.Register(toolexec.ToolDefinition{
		Name:        "spawn",
		Description: "spawn a subagent",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return "spawned", nil
		},
	}))

	run := env.loop.SubagentRunner()
	response, err := run(context.Background(), "subagent:abc", "telegram", "42", "summarize something")
	require.NoError(t, err)
	assert.Equal(t, "child done", response)

	require.Equal(t, 1, provider.callCount())
	for _, spec := range provider.requests[0].Tools {
		assert.NotEqual(t, "message", spec.Name)
		assert.NotEqual(t, "spawn", spec.Name)
	}
	// Plain tools survive the exclusion.
	names := make([]string, 0, len(provider.requests[0].Tools))
	for _, spec := range provider.requests[0].Tools {
		names = append(names, spec.Name)
	}
	assert.Contains(t, names, "read_file")
}

func TestSubagentRunnerToolsActOnParentOrigin(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		toolResponse("call_1", "whereami", nil),
		textResponse("child done"),
	}}
	env := newTestEnv(t, provider, nil)

	var gotChannel, gotChatID string
	require.NoError(t, env.loop.executor.Register(toolexec.ToolDefinition{
		Name:        "whereami",
		Description: "reports the execution target",
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			if execCtx := toolexec.ExecContextFromContext(ctx); execCtx != nil {
				gotChannel = execCtx.Channel
				gotChatID = execCtx.ChatID
			}
			return "ok", nil
		},
	}))

	run := env.loop.SubagentRunner()
	_, err := run(context.Background(), "subagent:abc", "telegram", "99", "check something")
	require.NoError(t, err)

	// A child scheduling a cron job or editing files targets the chat that
	// spawned it, not a hardcoded default.
	assert.Equal(t, "telegram", gotChannel)
	assert.Equal(t, "99", gotChatID)
}

func TestProviderRegistry(t *testing.T) {
	p, err := NewProvider("anthropic", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = NewProvider("openai", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider("gemini", "sk-test")
	assert.Error(t, err)

	_, err = NewProvider("anthropic", "")
	assert.Error(t, err)
}

func TestProviderForModel(t *testing.T) {
	name, err := ProviderForModel("claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", name)

	name, err = ProviderForModel("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", name)

	_, err = ProviderForModel("mystery-model")
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(fmt.Errorf("429 too many requests")))
	assert.True(t, IsRetryableError(fmt.Errorf("rate limit exceeded")))
	assert.True(t, IsRetryableError(fmt.Errorf("upstream 502 bad gateway")))
	assert.True(t, IsRetryableError(fmt.Errorf("read tcp: ECONNRESET")))
	assert.False(t, IsRetryableError(fmt.Errorf("invalid api key")))
	assert.False(t, IsRetryableError(fmt.Errorf("model not found")))
}
