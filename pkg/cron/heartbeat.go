package cron

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// DefaultHeartbeatInterval is how often the agent is woken to check its
// checklist when the file is not being edited.
const DefaultHeartbeatInterval = 30 * time.Minute

// HeartbeatFile is the checklist document read on every tick.
const HeartbeatFile = "HEARTBEAT.md"

// HeartbeatOKToken is the reply that means nothing needed attention.
// Responses equal to it are suppressed from delivery.
const HeartbeatOKToken = "HEARTBEAT_OK"

// HeartbeatPrompt is the fixed instruction fed to the agent on each tick.
const HeartbeatPrompt = "Read " + HeartbeatFile + " in the workspace (if it exists). " +
	"Follow any instructions or tasks listed there. " +
	"If nothing needs attention, reply with exactly: " + HeartbeatOKToken

// HeartbeatOptions configures the heartbeat trigger.
type HeartbeatOptions struct {
	Workspace string                       // Directory containing HEARTBEAT.md
	Interval  time.Duration                // Tick cadence, default 30m
	Channel   string                       // Origin channel for heartbeat events
	ChatID    string                       // Origin chat id for heartbeat events
	Publish   func(msg bus.InboundMessage) // Enqueue callback
	Logger    zerolog.Logger
}

// Heartbeat wakes the agent on a fixed cadence to work through HEARTBEAT.md.
// An edit to the file triggers an early tick via fsnotify.
type Heartbeat struct {
	options HeartbeatOptions
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHeartbeat builds the heartbeat trigger.
func NewHeartbeat(opts HeartbeatOptions) *Heartbeat {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Channel == "" {
		opts.Channel = "cli"
	}
	if opts.ChatID == "" {
		opts.ChatID = "direct"
	}
	return &Heartbeat{
		options: opts,
		logger:  opts.Logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Start launches the tick loop and the file watcher.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.running = true

	edits := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Warn().Err(err).Msg("File watcher unavailable, running on interval only")
		watcher = nil
	} else {
		if err := watcher.Add(h.options.Workspace); err != nil {
			h.logger.Warn().Err(err).Msg("Cannot watch workspace, running on interval only")
			watcher.Close()
			watcher = nil
		}
	}

	if watcher != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if filepath.Base(event.Name) != HeartbeatFile {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
						continue
					}
					select {
					case edits <- struct{}{}:
					default:
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					h.logger.Warn().Err(err).Msg("Watcher error")
				}
			}
		}()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.options.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.tick()
			case <-edits:
				h.tick()
			}
		}
	}()

	h.logger.Info().Dur("interval", h.options.Interval).Msg("Heartbeat started")
	return nil
}

// Stop halts ticking and waits for the loops to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info().Msg("Heartbeat stopped")
}

// tick reads the checklist and enqueues a task-mode event when it has
// actionable content.
func (h *Heartbeat) tick() {
	content := h.readFile()
	if HeartbeatEmpty(content) {
		h.logger.Debug().Msg("Heartbeat: nothing to do")
		return
	}

	h.logger.Info().Msg("Heartbeat: checking for tasks")
	h.options.Publish(bus.NewSystemMessage(
		"heartbeat", h.options.Channel, h.options.ChatID, HeartbeatPrompt,
	))
}

func (h *Heartbeat) readFile() string {
	data, err := os.ReadFile(filepath.Join(h.options.Workspace, HeartbeatFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// HeartbeatEmpty reports whether the checklist has no actionable content.
// Blank lines, headings, HTML comments, and bare checkbox markers do not
// count as actionable.
func HeartbeatEmpty(content string) bool {
	if content == "" {
		return true
	}
	skip := map[string]bool{"- [ ]": true, "* [ ]": true, "- [x]": true, "* [x]": true}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") || skip[line] {
			continue
		}
		return false
	}
	return true
}

// IsHeartbeatOK reports whether an agent response is the nothing-to-do token.
func IsHeartbeatOK(response string) bool {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(response), "_", ""))
	token := strings.ReplaceAll(HeartbeatOKToken, "_", "")
	return strings.Contains(normalized, token)
}
