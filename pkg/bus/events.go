package bus

import (
	"fmt"
	"strings"
	"time"
)

// SystemChannel is the pseudo-channel used for internally generated events
// (subagent completions, cron task fires). The ChatID of a system event
// carries the origin "channel:chat_id" so responses route back.
const SystemChannel = "system"

// InboundMessage is a normalized event entering the orchestrator: a user
// message from a channel adapter, a scheduler fire, or a subagent completion.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionKey returns the conversation identity for this message. System
// events resolve to the origin conversation, so a subagent completion or a
// cron task rides the same serialized lane as user messages for that chat
// and lands in its history.
func (m InboundMessage) SessionKey() string {
	channel, chatID := m.Origin()
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// Origin resolves the channel and chat id a response should be delivered to.
// For system events the ChatID holds the original "channel:chat_id" pair.
func (m InboundMessage) Origin() (channel, chatID string) {
	if m.Channel != SystemChannel {
		return m.Channel, m.ChatID
	}
	if idx := strings.Index(m.ChatID, ":"); idx > 0 {
		return m.ChatID[:idx], m.ChatID[idx+1:]
	}
	return "cli", m.ChatID
}

// NewSystemMessage builds an inbound system event addressed back to the
// given origin channel and chat.
func NewSystemMessage(senderID, originChannel, originChatID, content string) InboundMessage {
	return InboundMessage{
		Channel:   SystemChannel,
		SenderID:  senderID,
		ChatID:    fmt.Sprintf("%s:%s", originChannel, originChatID),
		Content:   content,
		Timestamp: time.Now(),
	}
}

// OutboundMessage is a response on its way to a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
