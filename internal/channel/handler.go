package channel

import (
	"context"

	"github.com/opentalon/panelpilot/internal/origin"
)

// Answerer answers one utterance; *orchestrator.Orchestrator implements it.
type Answerer interface {
	Handle(ctx context.Context, utterance string) string
}

// NewMessageHandler returns a MessageHandler that records where the message
// came from on the context and asks a for the reply.
func NewMessageHandler(a Answerer) MessageHandler {
	return func(ctx context.Context, msg InboundMessage) (OutboundMessage, error) {
		ctx = origin.With(ctx, origin.Origin{
			Channel:      msg.ChannelID,
			Conversation: msg.ConversationID,
			Sender:       msg.SenderID,
		})
		return OutboundMessage{
			ConversationID: msg.ConversationID,
			Content:        a.Handle(ctx, msg.Content),
		}, nil
	}
}
