// Package channel connects chat surfaces to the orchestrator and carries
// provisioning notifications back to the conversation that asked.
package channel

import (
	"context"
	"strings"
	"time"
)

type InboundMessage struct {
	ChannelID      string    `json:"channel_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type OutboundMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Channel is a chat surface. Start pushes inbound messages to inbox until
// ctx is done or Stop is called; Send delivers to one conversation.
type Channel interface {
	ID() string
	Start(ctx context.Context, inbox chan<- InboundMessage) error
	Send(ctx context.Context, msg OutboundMessage) error
	Stop() error
}

// StripMention removes a leading bot mention. With an empty prefix every
// message is addressed to the bot; otherwise messages without the prefix
// are not.
func StripMention(prefix, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" {
		return text, text != ""
	}
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimLeft(text[len(prefix):], " \t,:")
	return rest, rest != ""
}
