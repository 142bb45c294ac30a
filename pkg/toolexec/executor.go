package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultTimeout bounds tool handlers that set no timeout of their own.
const DefaultTimeout = 30 * time.Second

// MaxOutputChars is the ceiling on tool output fed back to the model.
const MaxOutputChars = 10000

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Timeout     time.Duration   `json:"-"` // Per-tool override, default DefaultTimeout
	Handler     ToolHandler     `json:"-"`
}

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey string
	Channel    string
	ChatID     string
	Workspace  string
	Timeout    time.Duration
}

// ToolResult represents the result of a tool execution. Failures are carried
// in Error; Execute never panics or returns a Go error to the loop. TimedOut
// distinguishes deadline breaches from ordinary handler failures.
type ToolResult struct {
	Success   bool        `json:"success"`
	Output    interface{} `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
	TimedOut  bool        `json:"timedOut,omitempty"`
}

// Text renders the result for a tool turn.
func (r ToolResult) Text() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Executor manages tool registration and execution.
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	specs   map[string]map[string]interface{}
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates an Executor.
func New(logger zerolog.Logger) *Executor {
	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		specs:   make(map[string]map[string]interface{}),
		logger:  logger.With().Str("component", "toolexec").Logger(),
	}
}

// Register adds a tool.
func (e *Executor) Register(def ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	spec := schemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema
	e.specs[def.Name] = spec

	e.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool.
func (e *Executor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tools, name)
	delete(e.schemas, name)
	delete(e.specs, name)
}

// Get returns a tool definition by name, or nil.
func (e *Executor) Get(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// List returns registered tool names, sorted.
func (e *Executor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSpec is the provider-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Specs returns provider-facing tool descriptions, optionally excluding names.
func (e *Executor) Specs(exclude ...string) []ToolSpec {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(e.tools))
	for name, def := range e.tools {
		if skip[name] {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: def.Description,
			InputSchema: e.specs[name],
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs a tool. Unknown tools, invalid parameters, handler errors, and
// timeouts all come back as failed results, never as panics or Go errors.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	start := time.Now()

	e.mu.RLock()
	tool := e.tools[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if tool == nil {
		e.logger.Error().Str("tool", name).Msg("Tool not found")
		return ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParams(schema, params); err != nil {
		e.logger.Error().Str("tool", name).Err(err).Msg("Parameter validation failed")
		return ToolResult{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	timeout := DefaultTimeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if execCtx != nil {
		timeoutCtx = WithExecContext(timeoutCtx, execCtx)
	}

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		output, truncated := truncateOutput(result)
		e.logger.Debug().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return ToolResult{Success: true, Output: output, Truncated: truncated}

	case err := <-errChan:
		e.logger.Error().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Tool execution failed")
		// A handler that notices the deadline itself (the shell tool does)
		// reports a timeout, not a generic failure.
		return ToolResult{Success: false, Error: err.Error(), TimedOut: timeoutCtx.Err() == context.DeadlineExceeded}

	case <-timeoutCtx.Done():
		e.logger.Error().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Msg("Tool execution timeout")
		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timeout after %v", timeout),
			TimedOut: timeoutCtx.Err() == context.DeadlineExceeded,
		}
	}
}

func validateDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}
	return nil
}

func schemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string
	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	spec := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		spec["required"] = required
	}
	return spec
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

// truncateOutput clamps big outputs so a noisy tool cannot flood the context.
func truncateOutput(output interface{}) (interface{}, bool) {
	str, ok := output.(string)
	if !ok {
		data, err := json.Marshal(output)
		if err != nil || len(data) <= MaxOutputChars {
			return output, false
		}
		str = string(data)
	}
	if len(str) <= MaxOutputChars {
		return output, false
	}
	return str[:MaxOutputChars] + "\n... (output truncated)", true
}
