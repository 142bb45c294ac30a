package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// RunFunc executes a detached agent run in the child session and returns its
// final response. The parent's origin rides along so the child's tools act
// on the right chat. Wired by the daemon so this package stays loop-agnostic.
type RunFunc func(ctx context.Context, childSessionKey, originChannel, originChatID, task string) (string, error)

// Config holds spawner configuration
type Config struct {
	RegistryPath string
	Run          RunFunc
	Publish      func(msg bus.InboundMessage)
	Logger       zerolog.Logger
}

// Spawner launches background subagent tasks, tracks them in a persisted
// registry, and announces each completion back onto the bus exactly once.
type Spawner struct {
	tasks        map[string]*Task
	registryPath string
	run          RunFunc
	publish      func(msg bus.InboundMessage)
	logger       zerolog.Logger
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

// NewSpawner creates a spawner and loads the persisted registry.
func NewSpawner(cfg Config) (*Spawner, error) {
	if cfg.RegistryPath == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if cfg.Run == nil {
		return nil, fmt.Errorf("run callback is required")
	}
	if cfg.Publish == nil {
		return nil, fmt.Errorf("publish callback is required")
	}

	s := &Spawner{
		tasks:        make(map[string]*Task),
		registryPath: cfg.RegistryPath,
		run:          cfg.Run,
		publish:      cfg.Publish,
		logger:       cfg.Logger.With().Str("component", "subagent").Logger(),
	}
	s.loadRegistry()
	return s, nil
}

// Spawn launches a background task and returns an acknowledgment immediately.
// The result arrives later as a system event addressed to the origin chat.
func (s *Spawner) Spawn(ctx context.Context, parentKey, originChannel, originChatID, task, label string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}

	if label == "" {
		label = task
		if len(label) > 30 {
			label = label[:30] + "..."
		}
	}

	record := &Task{
		ID:               id,
		ParentSessionKey: parentKey,
		ChildSessionKey:  "subagent:" + id,
		Label:            label,
		Task:             task,
		OriginChannel:    originChannel,
		OriginChatID:     originChatID,
		Status:           StatusRunning,
		StartedAtMs:      time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.tasks[id] = record
	if err := s.saveRegistryLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save registry after spawn")
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("taskId", id).
		Str("label", label).
		Str("parentSession", parentKey).
		Msg("Subagent spawned")

	s.wg.Add(1)
	go s.execute(record)

	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it finishes.", label, id), nil
}

// execute runs the task to completion and announces the outcome.
func (s *Spawner) execute(record *Task) {
	defer s.wg.Done()

	// Detached from the spawning request's lifetime on purpose: the parent
	// run finishes long before the child does.
	result, err := s.run(context.Background(), record.ChildSessionKey, record.OriginChannel, record.OriginChatID, record.Task)

	s.mu.Lock()
	record.CompletedAtMs = time.Now().UnixMilli()
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
	} else {
		record.Status = StatusDone
		record.Result = result
	}
	if saveErr := s.saveRegistryLocked(); saveErr != nil {
		s.logger.Error().Err(saveErr).Msg("Failed to save registry after completion")
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Str("taskId", record.ID).Err(err).Msg("Subagent failed")
		s.announce(record, "failed", "Error: "+err.Error())
		return
	}

	s.logger.Info().Str("taskId", record.ID).Msg("Subagent completed")
	s.announce(record, "completed successfully", result)
}

// announce publishes exactly one system event to the parent's origin chat.
func (s *Spawner) announce(record *Task, statusText, result string) {
	content := fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this for the user naturally. Keep it brief (1-2 sentences). Don't mention technical details like "subagent" or task ids.`,
		record.Label, statusText, record.Task, result)

	s.publish(bus.NewSystemMessage("subagent", record.OriginChannel, record.OriginChatID, content))
}

// Get returns a task by id, or nil.
func (s *Spawner) Get(id string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if task, ok := s.tasks[id]; ok {
		copied := *task
		return &copied
	}
	return nil
}

// ListByParent returns all tasks spawned from a parent session.
func (s *Spawner) ListByParent(parentKey string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*Task
	for _, task := range s.tasks {
		if task.ParentSessionKey == parentKey {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	return tasks
}

// RunningCount returns the number of tasks still in flight.
func (s *Spawner) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, task := range s.tasks {
		if !task.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Wait blocks until all in-flight tasks have finished.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// Close waits for in-flight tasks and persists the registry.
func (s *Spawner) Close() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRegistryLocked()
}

func (s *Spawner) loadRegistry() {
	data, err := os.ReadFile(s.registryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Msg("Failed to read registry, starting empty")
		}
		return
	}

	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse registry, starting empty")
		return
	}

	for _, task := range registry.Tasks {
		// In-flight tasks from a previous process can never finish.
		if !task.Status.IsTerminal() {
			task.Status = StatusFailed
			task.Error = "process restarted before completion"
		}
		s.tasks[task.ID] = task
	}
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Registry loaded")
}

// saveRegistryLocked persists the registry atomically. Must hold the lock.
func (s *Spawner) saveRegistryLocked() error {
	registry := NewRegistry()
	for _, task := range s.tasks {
		registry.Tasks = append(registry.Tasks, task)
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.registryPath), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tempPath := s.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp registry: %w", err)
	}
	if err := os.Rename(tempPath, s.registryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}
