package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler processes one inbound message and returns the final outbound
// response, or nil when nothing should be delivered.
type Handler func(ctx context.Context, msg InboundMessage) (*OutboundMessage, error)

// SendFunc delivers an outbound message on a specific channel.
type SendFunc func(ctx context.Context, msg OutboundMessage) error

// lane serializes execution for a single session. At most one handler
// invocation runs per lane; further events queue in arrival order.
type lane struct {
	mu      sync.Mutex
	queue   []InboundMessage
	running bool
}

// MessageBus routes inbound events to per-session serialized lanes and
// delivers outbound turns to the originating channel adapter.
//
// Events for distinct sessions proceed fully concurrently; events for the
// same session are strictly ordered. This is the orchestrator's core
// ordering guarantee.
type MessageBus struct {
	handler Handler
	logger  zerolog.Logger

	mu    sync.RWMutex
	lanes map[string]*lane

	sendersMu sync.RWMutex
	senders   map[string]SendFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a message bus. The handler is invoked once per inbound event,
// serialized per session key.
func New(handler Handler, logger zerolog.Logger) *MessageBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageBus{
		handler: handler,
		logger:  logger.With().Str("component", "bus").Logger(),
		lanes:   make(map[string]*lane),
		senders: make(map[string]SendFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetHandler replaces the inbound handler. Intended for wiring during
// daemon construction, before any event is published.
func (b *MessageBus) SetHandler(handler Handler) {
	b.handler = handler
}

// Subscribe registers the send capability for a channel name. Outbound
// messages for that channel are delivered through it.
func (b *MessageBus) Subscribe(channel string, send SendFunc) {
	b.sendersMu.Lock()
	defer b.sendersMu.Unlock()
	b.senders[channel] = send
}

// Publish enqueues an inbound event onto its session lane and returns
// immediately. Producers (channel adapters, scheduler, subagent spawner)
// never block on agent work.
func (b *MessageBus) Publish(msg InboundMessage) {
	key := msg.SessionKey()
	ln := b.laneFor(key)

	ln.mu.Lock()
	ln.queue = append(ln.queue, msg)
	queued := len(ln.queue)
	ln.mu.Unlock()

	b.logger.Debug().
		Str("session_key", key).
		Str("channel", msg.Channel).
		Int("queued", queued).
		Msg("Inbound event enqueued")

	b.process(key, ln)
}

// Deliver sends an outbound message to its channel adapter. Delivery
// failure is logged and reported but never rolls back session state.
func (b *MessageBus) Deliver(ctx context.Context, msg OutboundMessage) error {
	b.sendersMu.RLock()
	send, ok := b.senders[msg.Channel]
	b.sendersMu.RUnlock()

	if !ok {
		err := fmt.Errorf("no sender registered for channel %q", msg.Channel)
		b.logger.Warn().Str("channel", msg.Channel).Msg("Dropping outbound message for unknown channel")
		return err
	}

	if err := send(ctx, msg); err != nil {
		b.logger.Error().
			Str("channel", msg.Channel).
			Str("chat_id", msg.ChatID).
			Err(err).
			Msg("Outbound delivery failed")
		return err
	}
	return nil
}

// ActiveSessions counts lanes that are running or have queued events.
func (b *MessageBus) ActiveSessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, ln := range b.lanes {
		ln.mu.Lock()
		if ln.running || len(ln.queue) > 0 {
			count++
		}
		ln.mu.Unlock()
	}
	return count
}

// QueueSize returns the number of events waiting on a session lane.
func (b *MessageBus) QueueSize(sessionKey string) int {
	b.mu.RLock()
	ln, ok := b.lanes[sessionKey]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.queue)
}

// Close stops accepting work and waits for in-flight handlers to finish.
func (b *MessageBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

func (b *MessageBus) laneFor(key string) *lane {
	b.mu.RLock()
	ln, ok := b.lanes[key]
	b.mu.RUnlock()
	if ok {
		return ln
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ln, ok = b.lanes[key]; ok {
		return ln
	}
	ln = &lane{}
	b.lanes[key] = ln
	return ln
}

// process claims the lane if it is free and starts draining its queue in a
// goroutine. Exactly one drain loop runs per lane at any time.
func (b *MessageBus) process(key string, ln *lane) {
	ln.mu.Lock()
	if ln.running || len(ln.queue) == 0 {
		ln.mu.Unlock()
		return
	}
	ln.running = true
	ln.mu.Unlock()

	b.wg.Add(1)
	go b.drain(key, ln)
}

func (b *MessageBus) drain(key string, ln *lane) {
	defer b.wg.Done()

	for {
		ln.mu.Lock()
		if len(ln.queue) == 0 {
			ln.running = false
			ln.mu.Unlock()
			return
		}
		msg := ln.queue[0]
		ln.queue = ln.queue[1:]
		ln.mu.Unlock()

		select {
		case <-b.ctx.Done():
			b.logger.Warn().Str("session_key", key).Msg("Bus closed, dropping queued event")
			ln.mu.Lock()
			ln.running = false
			ln.mu.Unlock()
			return
		default:
		}

		b.dispatch(key, msg)
	}
}

func (b *MessageBus) dispatch(key string, msg InboundMessage) {
	handler := b.handler
	if handler == nil {
		b.logger.Error().Str("session_key", key).Msg("No handler configured, dropping event")
		return
	}

	out, err := handler(b.ctx, msg)
	if err != nil {
		b.logger.Error().Str("session_key", key).Err(err).Msg("Handler failed")
		originChannel, originChatID := msg.Origin()
		out = &OutboundMessage{
			Channel: originChannel,
			ChatID:  originChatID,
			Content: fmt.Sprintf("Sorry, I hit an error: %v", err),
		}
	}

	if out != nil && out.Content != "" {
		// Best effort: the turn is already recorded in the session.
		_ = b.Deliver(b.ctx, *out)
	}
}
