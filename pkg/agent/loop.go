package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/bus"
	"github.com/minibot-ai/minibot/pkg/session"
	"github.com/minibot-ai/minibot/pkg/toolexec"
)

// State marks where a loop invocation is in its lifecycle.
type State string

const (
	StateReceived        State = "received"
	StateContextBuilt    State = "context_built"
	StateProviderCalled  State = "provider_called"
	StateToolsExecuted   State = "tools_executed"
	StateResponseEmitted State = "response_emitted"
	StateAborted         State = "aborted"
)

const (
	// DefaultMaxIterations bounds the provider/tool cycle per invocation.
	DefaultMaxIterations = 25

	// SubagentMaxIterations is the reduced ceiling for child loops.
	SubagentMaxIterations = 15

	// DefaultMaxRetries is the provider retry budget per call.
	DefaultMaxRetries = 3
)

// subagentExcludedTools are unavailable to child loops.
var subagentExcludedTools = []string{"message", "spawn"}

// Config holds loop dependencies and tuning.
type Config struct {
	Store         *session.Store
	Executor      *toolexec.Executor
	Provider      Provider
	Builder       *ContextBuilder
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	MaxRetries    int
	Workspace     string

	// SuppressResponse, when set, drops the outbound reply for an inbound
	// event (heartbeat acknowledgments).
	SuppressResponse func(msg bus.InboundMessage, response string) bool

	Logger zerolog.Logger
}

// Loop drives one conversation turn: bounded context assembly, provider
// calls with retry, and tool execution until the model answers without
// requesting tools.
type Loop struct {
	store            *session.Store
	executor         *toolexec.Executor
	provider         Provider
	builder          *ContextBuilder
	model            string
	temperature      float64
	maxTokens        int
	maxIterations    int
	maxRetries       int
	workspace        string
	suppressResponse func(msg bus.InboundMessage, response string) bool
	logger           zerolog.Logger
}

// New creates an agent loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Loop{
		store:            cfg.Store,
		executor:         cfg.Executor,
		provider:         cfg.Provider,
		builder:          cfg.Builder,
		model:            cfg.Model,
		temperature:      cfg.Temperature,
		maxTokens:        maxTokens,
		maxIterations:    maxIterations,
		maxRetries:       maxRetries,
		workspace:        cfg.Workspace,
		suppressResponse: cfg.SuppressResponse,
		logger:           cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// Handle processes one inbound event. It satisfies bus.Handler.
func (l *Loop) Handle(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	key := msg.SessionKey()
	channel, chatID := msg.Origin()
	logger := l.logger.With().Str("sessionKey", key).Logger()

	role := session.RoleUser
	if msg.Channel == bus.SystemChannel {
		role = session.RoleSystem
	}
	if err := l.store.Append(key, session.NewTurn(role, msg.Content)); err != nil {
		return nil, fmt.Errorf("failed to persist inbound turn: %w", err)
	}

	response, aborted, err := l.run(ctx, key, channel, chatID, nil, l.maxIterations)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		errTurn := session.NewTurn(session.RoleSystem, fmt.Sprintf("Provider error: %v", err))
		if appendErr := l.store.Append(key, errTurn); appendErr != nil {
			logger.Error().Err(appendErr).Msg("Failed to persist error turn")
		}
		return &bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: fmt.Sprintf("I ran into a problem and couldn't finish: %v", err),
		}, nil
	}

	if aborted {
		logger.Warn().Msg("Agent run hit the iteration ceiling")
	}

	if l.suppressResponse != nil && l.suppressResponse(msg, response) {
		logger.Debug().Msg("Response suppressed")
		return nil, nil
	}

	return &bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: response}, nil
}

// RunDirect executes one prompt against a session and returns the final
// response. Used by the one-shot CLI path.
func (l *Loop) RunDirect(ctx context.Context, sessionKey, prompt string) (string, error) {
	if err := l.store.Append(sessionKey, session.NewTurn(session.RoleUser, prompt)); err != nil {
		return "", fmt.Errorf("failed to persist prompt: %w", err)
	}
	response, _, err := l.run(ctx, sessionKey, "cli", "direct", nil, l.maxIterations)
	return response, err
}

// SubagentRunner adapts the loop for child tasks: reduced iteration ceiling
// and no message/spawn tools. Tools in the child run execute against the
// parent's origin, so a child scheduling a cron job targets the right chat.
func (l *Loop) SubagentRunner() func(ctx context.Context, childSessionKey, originChannel, originChatID, task string) (string, error) {
	return func(ctx context.Context, childSessionKey, originChannel, originChatID, task string) (string, error) {
		if err := l.store.Append(childSessionKey, session.NewTurn(session.RoleUser, task)); err != nil {
			return "", fmt.Errorf("failed to persist task: %w", err)
		}
		response, aborted, err := l.run(ctx, childSessionKey, originChannel, originChatID, subagentExcludedTools, SubagentMaxIterations)
		if err != nil {
			return "", err
		}
		if aborted {
			return response, fmt.Errorf("task stopped at the iteration ceiling")
		}
		return response, nil
	}
}

// run drives the provider/tool cycle for one invocation.
func (l *Loop) run(ctx context.Context, key, channel, chatID string, excludeTools []string, maxIterations int) (string, bool, error) {
	logger := l.logger.With().Str("sessionKey", key).Logger()
	state := StateReceived
	systemPrompt := l.builder.SystemPrompt()
	tools := l.executor.Specs(excludeTools...)
	lastContent := ""

	for iteration := 0; iteration < maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			state = StateAborted
			logger.Debug().Str("state", string(state)).Msg("Run cancelled")
			return lastContent, true, ctx.Err()
		default:
		}

		history, err := l.store.Load(key)
		if err != nil {
			return "", false, fmt.Errorf("failed to load session: %w", err)
		}
		window := l.builder.Truncate(history)
		messages := l.builder.Messages(window)
		state = StateContextBuilt

		response, err := l.callWithRetry(ctx, Request{
			Model:       l.model,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       tools,
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		})
		if err != nil {
			return "", false, err
		}
		state = StateProviderCalled
		lastContent = response.Content

		assistantTurn := session.NewTurn(session.RoleAssistant, response.Content)
		assistantTurn.Metadata = map[string]interface{}{
			"model":         l.model,
			"input_tokens":  response.Usage.InputTokens,
			"output_tokens": response.Usage.OutputTokens,
		}

		if len(response.ToolCalls) == 0 {
			if err := l.store.Append(key, assistantTurn); err != nil {
				return "", false, fmt.Errorf("failed to persist assistant turn: %w", err)
			}
			state = StateResponseEmitted
			logger.Debug().Str("state", string(state)).Int("iterations", iteration+1).Msg("Run finished")
			return response.Content, false, nil
		}

		// Execute tool calls in model order. Turns are immutable once
		// appended, so each call's outcome is finalized on the assistant
		// turn before anything is persisted.
		toolTurns := make([]session.Turn, 0, len(response.ToolCalls))
		for _, call := range response.ToolCalls {
			result := l.executor.Execute(ctx, call.Name, call.Args, &toolexec.ExecutionContext{
				SessionKey: key,
				Channel:    channel,
				ChatID:     chatID,
				Workspace:  l.workspace,
			})
			status := callStatus(result)
			text := result.Text()

			assistantTurn.ToolCalls = append(assistantTurn.ToolCalls, session.ToolCall{
				ID:     call.ID,
				Name:   call.Name,
				Args:   call.Args,
				Result: text,
				Status: status,
			})

			toolTurn := session.NewTurn(session.RoleTool, text)
			toolTurn.Metadata = map[string]interface{}{
				"tool_call_id": call.ID,
				"tool_name":    call.Name,
				"status":       string(status),
			}
			toolTurns = append(toolTurns, toolTurn)
		}
		if err := l.store.Append(key, assistantTurn); err != nil {
			return "", false, fmt.Errorf("failed to persist assistant turn: %w", err)
		}
		for _, toolTurn := range toolTurns {
			if err := l.store.Append(key, toolTurn); err != nil {
				return "", false, fmt.Errorf("failed to persist tool turn: %w", err)
			}
		}
		state = StateToolsExecuted
		logger.Debug().Str("state", string(state)).Int("iteration", iteration+1).Int("toolCalls", len(response.ToolCalls)).Msg("Tools executed")
	}

	// Iteration ceiling: emit the partial content with a notice and abort.
	state = StateAborted
	notice := fmt.Sprintf("[Stopped after %d iterations without reaching a final answer.]", maxIterations)
	partial := strings.TrimSpace(lastContent)
	if partial != "" {
		partial = partial + "\n\n" + notice
	} else {
		partial = notice
	}

	abortTurn := session.NewTurn(session.RoleAssistant, partial)
	abortTurn.Metadata = map[string]interface{}{"aborted": true}
	if err := l.store.Append(key, abortTurn); err != nil {
		logger.Error().Err(err).Msg("Failed to persist abort turn")
	}
	logger.Warn().Str("state", string(state)).Int("maxIterations", maxIterations).Msg("Iteration ceiling reached")
	return partial, true, nil
}

// callWithRetry calls the provider with exponential backoff on retryable
// errors: 1s, 2s, 4s.
func (l *Loop) callWithRetry(ctx context.Context, request Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		response, err := l.provider.Chat(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == l.maxRetries-1 {
			break
		}

		delay := time.Duration(1000*(1<<attempt)) * time.Millisecond
		l.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying provider call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", l.maxRetries, lastErr)
}

func callStatus(result toolexec.ToolResult) session.CallStatus {
	switch {
	case result.Success:
		return session.CallOK
	case result.TimedOut:
		return session.CallTimeout
	default:
		return session.CallError
	}
}
