package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// CLI is the direct console channel. With a reader it runs an interactive
// line loop; without one it only delivers outbound messages, which is what
// one-shot runs and heartbeat targets use.
type CLI struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// NewCLI creates a CLI channel. in may be nil for output-only use.
func NewCLI(in io.Reader, out io.Writer) *CLI {
	return &CLI{in: in, out: out}
}

// Name returns the channel name.
func (c *CLI) Name() string { return "cli" }

// Start begins reading lines from the input, if one is configured.
func (c *CLI) Start(ctx context.Context, publish PublishFunc) error {
	if publish == nil {
		return fmt.Errorf("publish function is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("cli channel is already running")
	}
	c.started = true

	if c.in == nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case <-loopCtx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			publish(bus.InboundMessage{
				Channel:   "cli",
				SenderID:  "user",
				ChatID:    "direct",
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}()

	return nil
}

// Stop halts the input loop.
func (c *CLI) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.started = false
	return nil
}

// Send writes an outbound message to the output.
func (c *CLI) Send(_ context.Context, msg bus.OutboundMessage) error {
	if c.out == nil {
		return nil
	}
	_, err := fmt.Fprintln(c.out, msg.Content)
	return err
}
