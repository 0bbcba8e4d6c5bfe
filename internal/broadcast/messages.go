// Package broadcast contains the socket event handlers: each broadcaster
// binds an incoming frame, calls into the services and fans the outcome out
// to the affected users.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sockline/internal/conversation"
	"sockline/internal/events"
	"sockline/internal/streamline"
)

const handlerTimeout = 10 * time.Second

// MessageBroadcaster handles the message lifecycle events.
type MessageBroadcaster struct {
	conversations *conversation.Service
	messages      *conversation.MessagesService
	log           *zap.Logger
}

func NewMessageBroadcaster(conversations *conversation.Service, messages *conversation.MessagesService, log *zap.Logger) *MessageBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageBroadcaster{conversations: conversations, messages: messages, log: log}
}

type sendBody struct {
	RecipientID string          `json:"recipient_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// SaveMessage stores an incoming message, acknowledges the sender and relays
// it to the recipient's open sockets. A self message is acknowledged but not
// relayed.
func (b *MessageBroadcaster) SaveMessage(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body sendBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid message payload", err)
		return
	}
	if body.Type == "" {
		body.Type = "text"
	}

	result, err := b.conversations.PushMessage(ctx, socket.UserID(), body.RecipientID, body.Type, body.Payload)
	if err != nil {
		b.fail(socket, "failed to save message", err)
		return
	}

	_ = socket.Dispatch(events.MessageSent, map[string]any{
		"message":      result.Message,
		"conversation": result.Conversation,
		"participants": result.Participants,
	})

	if result.IsSelf {
		return
	}
	server.Clients.To(body.RecipientID).FilterOpened(func(peer *streamline.Socket, _ int) {
		_ = peer.Dispatch(events.MessageIncoming, map[string]any{
			"message":      result.Message,
			"conversation": result.Conversation,
			"participants": result.Participants,
		})
	})
}

type messageRef struct {
	ID string `json:"id"`
}

// DeleteMessage removes a message on the sender's request and tells both
// sides to drop it from their views.
func (b *MessageBroadcaster) DeleteMessage(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body messageRef
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid delete payload", err)
		return
	}

	msg, err := b.messages.DeleteMessage(ctx, body.ID, socket.UserID())
	if err != nil {
		b.fail(socket, "failed to delete message", err)
		return
	}

	conv, err := b.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		b.fail(socket, "failed to load conversation", err)
		return
	}
	server.Clients.To(conv.Participants...).DispatchOnlyOpen(events.MessageDeleted, map[string]any{
		"ids":             []string{msg.ID},
		"conversation_id": msg.ConversationID,
	})
}

type editBody struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// EditMessage rewrites a message payload and pushes the edited message to
// everyone in the conversation.
func (b *MessageBroadcaster) EditMessage(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body editBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid edit payload", err)
		return
	}

	msg, err := b.messages.EditMessage(ctx, body.ID, socket.UserID(), body.Payload)
	if err != nil {
		b.fail(socket, "failed to edit message", err)
		return
	}

	conv, err := b.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		b.fail(socket, "failed to load conversation", err)
		return
	}
	server.Clients.To(conv.Participants...).DispatchOnlyOpen(events.MessageEdited, map[string]any{
		"message": msg,
	})
}

// MarkDelivered advances a message to delivered and notifies its sender.
func (b *MessageBroadcaster) MarkDelivered(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.advance(payload, socket, server, events.MessageDelivered, b.messages.MarkAsDelivered)
}

// MarkRead advances a message to read and notifies its sender.
func (b *MessageBroadcaster) MarkRead(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.advance(payload, socket, server, events.MessageRead, b.messages.MarkAsRead)
}

func (b *MessageBroadcaster) advance(payload any, socket *streamline.Socket, server *streamline.Server,
	event string, mark func(ctx context.Context, id, requesterID string) (*conversation.Message, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body messageRef
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid status payload", err)
		return
	}

	msg, err := mark(ctx, body.ID, socket.UserID())
	if err != nil {
		b.fail(socket, "failed to update message status", err)
		return
	}
	server.Clients.To(msg.SenderID).DispatchOnlyOpen(event, map[string]any{
		"message": msg,
	})
}

func (b *MessageBroadcaster) fail(socket *streamline.Socket, reason string, err error) {
	b.log.Warn(reason, zap.String("user_id", socket.UserID()), zap.Error(err))
	_ = socket.Dispatch(events.MessageFailed, map[string]any{"error": reason})
}
