package broadcast

import (
	"go.uber.org/zap"

	"sockline/internal/events"
	"sockline/internal/streamline"
)

// TypingBroadcaster relays typing indicators. They are ephemeral: nothing is
// stored and an offline recipient simply misses them.
type TypingBroadcaster struct {
	log *zap.Logger
}

func NewTypingBroadcaster(log *zap.Logger) *TypingBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingBroadcaster{log: log}
}

type typingBody struct {
	RecipientID    string `json:"recipient_id"`
	ConversationID string `json:"conversation_id"`
}

func (b *TypingBroadcaster) Typing(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.relay(events.UserTypingStart, payload, socket, server)
}

func (b *TypingBroadcaster) StopTyping(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.relay(events.UserTypingStop, payload, socket, server)
}

func (b *TypingBroadcaster) relay(event string, payload any, socket *streamline.Socket, server *streamline.Server) {
	var body typingBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.log.Debug("ignoring malformed typing event",
			zap.String("user_id", socket.UserID()), zap.Error(err))
		return
	}
	server.Clients.To(body.RecipientID).FilterOpened(func(peer *streamline.Socket, _ int) {
		_ = peer.Dispatch(event, map[string]any{
			"sender_id":       socket.UserID(),
			"conversation_id": body.ConversationID,
		})
	})
}
