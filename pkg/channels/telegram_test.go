package channels

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot-ai/minibot/pkg/bus"
)

func textUpdate(userID, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: chatID},
			Text: text,
		},
	}
}

func TestTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram(TelegramOptions{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestTelegramInboundConversion(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{Token: "test-token", Logger: zerolog.Nop()})
	require.NoError(t, err)

	msg, ok := tg.inbound(textUpdate(7, 42, "hello"))
	require.True(t, ok)
	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "7", msg.SenderID)
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "telegram:42", msg.SessionKey())
}

func TestTelegramIgnoresNonTextUpdates(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{Token: "test-token", Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, ok := tg.inbound(tgbotapi.Update{})
	assert.False(t, ok)

	_, ok = tg.inbound(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}})
	assert.False(t, ok)
}

func TestTelegramAllowlistDropsStrangers(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{
		Token:     "test-token",
		Allowlist: []int64{7},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	_, ok := tg.inbound(textUpdate(8, 42, "let me in"))
	assert.False(t, ok)

	msg, ok := tg.inbound(textUpdate(7, 42, "hi"))
	require.True(t, ok)
	assert.Equal(t, "7", msg.SenderID)
}

func TestTelegramEmptyAllowlistAcceptsEveryone(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{Token: "test-token", Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, ok := tg.inbound(textUpdate(999, 1, "open door"))
	assert.True(t, ok)
}

func TestTelegramSendRejectsBadChatID(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{Token: "test-token", Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = tg.Send(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: "x"})
	assert.Error(t, err, "sending before Start must fail, not panic")
}

func TestTelegramStateAccessIsSynchronized(t *testing.T) {
	tg, err := NewTelegram(TelegramOptions{Token: "test-token", Logger: zerolog.Nop()})
	require.NoError(t, err)

	// Readers and Stop race on the running flag; the race detector flags
	// any unguarded access here.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tg.isRunning()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			_ = tg.Stop(context.Background())
		}
	}()
	wg.Wait()
	assert.False(t, tg.isRunning())
}

func TestCLIPublishesLines(t *testing.T) {
	var mu sync.Mutex
	var got []bus.InboundMessage

	cli := NewCLI(strings.NewReader("hello\n\n  world  \n"), nil)
	err := cli.Start(context.Background(), func(msg bus.InboundMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer func() { _ = cli.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "world", got[1].Content) // blank lines skipped, content trimmed
	assert.Equal(t, "cli:direct", got[0].SessionKey())
}

func TestCLISendWritesOutput(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLI(nil, &out)

	require.NoError(t, cli.Send(context.Background(), bus.OutboundMessage{Content: "answer"}))
	assert.Equal(t, "answer\n", out.String())
}

func TestCLIWithoutReaderStartsCleanly(t *testing.T) {
	cli := NewCLI(nil, nil)
	require.NoError(t, cli.Start(context.Background(), noopPublish))
	require.NoError(t, cli.Stop(context.Background()))
}
