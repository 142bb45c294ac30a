package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/minibot-ai/minibot/pkg/bus"
)

// TelegramOptions configures the Telegram channel.
type TelegramOptions struct {
	Token string

	// Allowlist restricts which user ids may talk to the bot. Empty means
	// everyone.
	Allowlist []int64

	Logger zerolog.Logger
}

// Telegram is the Telegram channel adapter: long-polls updates and publishes
// them as inbound messages.
type Telegram struct {
	token     string
	allowlist map[int64]bool
	logger    zerolog.Logger

	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	updates tgbotapi.UpdatesChannel
	running bool
}

// NewTelegram creates a Telegram channel. Authentication happens at Start.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	allowlist := make(map[int64]bool, len(opts.Allowlist))
	for _, id := range opts.Allowlist {
		allowlist[id] = true
	}

	return &Telegram{
		token:     opts.Token,
		allowlist: allowlist,
		logger:    opts.Logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Name returns the channel name.
func (t *Telegram) Name() string { return "telegram" }

// Start authenticates and begins long-polling updates.
func (t *Telegram) Start(_ context.Context, publish PublishFunc) error {
	if publish == nil {
		return fmt.Errorf("publish function is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("telegram channel is already running")
	}

	api, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("failed to create bot API: %w", err)
	}
	t.api = api

	t.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	t.updates = api.GetUpdatesChan(u)
	t.running = true

	go t.processUpdates(publish)

	return nil
}

// Stop halts update polling.
func (t *Telegram) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	t.api.StopReceivingUpdates()
	t.logger.Info().Msg("Telegram channel stopped")
	return nil
}

func (t *Telegram) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Send delivers an outbound message to a chat.
func (t *Telegram) Send(_ context.Context, msg bus.OutboundMessage) error {
	t.mu.Lock()
	api := t.api
	t.mu.Unlock()
	if api == nil {
		return fmt.Errorf("telegram channel is not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	if _, err := api.Send(tgbotapi.NewMessage(chatID, msg.Content)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	t.logger.Debug().Int64("chat_id", chatID).Msg("Message sent")
	return nil
}

func (t *Telegram) processUpdates(publish PublishFunc) {
	for update := range t.updates {
		if !t.isRunning() {
			break
		}
		msg, ok := t.inbound(update)
		if !ok {
			continue
		}
		publish(msg)
	}
}

// inbound converts an update into an inbound message, applying the allowlist
// at the boundary.
func (t *Telegram) inbound(update tgbotapi.Update) (bus.InboundMessage, bool) {
	if update.Message == nil || update.Message.Text == "" {
		return bus.InboundMessage{}, false
	}

	from := update.Message.From
	if from == nil {
		return bus.InboundMessage{}, false
	}

	if len(t.allowlist) > 0 && !t.allowlist[from.ID] {
		t.logger.Warn().
			Int64("user_id", from.ID).
			Msg("Message from user outside allowlist dropped")
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  strconv.FormatInt(from.ID, 10),
		ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:   update.Message.Text,
		Timestamp: time.Now(),
	}, true
}
