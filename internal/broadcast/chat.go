package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sockline/internal/conversation"
	"sockline/internal/events"
	"sockline/internal/streamline"
)

// ChatBroadcaster handles conversation-level requests: opening a chat by
// share code, paging history and managing per-user chat flags.
type ChatBroadcaster struct {
	conversations *conversation.Service
	messages      *conversation.MessagesService
	historyKeep   int
	log           *zap.Logger
}

func NewChatBroadcaster(conversations *conversation.Service, messages *conversation.MessagesService, historyKeep int, log *zap.Logger) *ChatBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatBroadcaster{conversations: conversations, messages: messages, historyKeep: historyKeep, log: log}
}

type openBody struct {
	Code string `json:"code"`
}

// Open finds or creates the direct chat with the user behind a share code and
// hands back the conversation with its participants.
func (b *ChatBroadcaster) Open(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body openBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid open payload", err)
		return
	}

	snap, participants, err := b.conversations.FindOrCreateByUserCode(ctx, socket.UserID(), body.Code)
	if err != nil {
		b.fail(socket, "failed to open chat", err)
		return
	}
	_ = socket.Dispatch(events.ChatOpened, map[string]any{
		"conversation": snap,
		"participants": participants,
	})
}

type historyBody struct {
	ConversationID string    `json:"conversation_id"`
	Limit          int       `json:"limit"`
	Before         time.Time `json:"before"`
}

// History pages a conversation backwards from the cursor and replies with the
// slice in chronological order.
func (b *ChatBroadcaster) History(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body historyBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid history payload", err)
		return
	}

	messages, err := b.messages.HistoryOf(ctx, body.ConversationID, body.Limit, body.Before)
	if err != nil {
		b.fail(socket, "failed to load history", err)
		return
	}
	_ = socket.Dispatch(events.ChatHistory, map[string]any{
		"conversation_id": body.ConversationID,
		"messages":        messages,
	})
}

type flagBody struct {
	ConversationID string `json:"conversation_id"`
	Enabled        bool   `json:"enabled"`
}

func (b *ChatBroadcaster) Mute(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.toggle(payload, socket, "mute", b.conversations.ToggleMute)
}

func (b *ChatBroadcaster) Archive(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.toggle(payload, socket, "archive", b.conversations.ToggleArchive)
}

func (b *ChatBroadcaster) Pin(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.toggle(payload, socket, "pin", b.conversations.TogglePin)
}

func (b *ChatBroadcaster) toggle(payload any, socket *streamline.Socket, flag string,
	apply func(ctx context.Context, id, userID string, enabled bool) error) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body flagBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid "+flag+" payload", err)
		return
	}
	if err := apply(ctx, body.ConversationID, socket.UserID(), body.Enabled); err != nil {
		b.fail(socket, "failed to "+flag+" chat", err)
		return
	}
	_ = socket.Dispatch(events.ChatUpdated, map[string]any{
		"conversation_id": body.ConversationID,
		"flag":            flag,
		"enabled":         body.Enabled,
	})
}

type chatRef struct {
	ConversationID string `json:"conversation_id"`
}

// Delete removes a chat and tells every participant's open socket.
func (b *ChatBroadcaster) Delete(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body chatRef
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid delete payload", err)
		return
	}

	conv, err := b.conversations.Get(ctx, body.ConversationID)
	if err != nil {
		b.fail(socket, "failed to load conversation", err)
		return
	}
	if err := b.conversations.DeleteChat(ctx, body.ConversationID, socket.UserID()); err != nil {
		b.fail(socket, "failed to delete chat", err)
		return
	}
	server.Clients.To(conv.Participants...).DispatchOnlyOpen(events.ChatDeleted, map[string]any{
		"conversation_id": body.ConversationID,
	})
}

// Compress trims a chat down to the configured history size.
func (b *ChatBroadcaster) Compress(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body chatRef
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid compress payload", err)
		return
	}

	removed, err := b.conversations.CompressChat(ctx, body.ConversationID, b.historyKeep)
	if err != nil {
		b.fail(socket, "failed to compress chat", err)
		return
	}
	_ = socket.Dispatch(events.ChatCompressed, map[string]any{
		"conversation_id": body.ConversationID,
		"removed":         removed,
	})
}

func (b *ChatBroadcaster) fail(socket *streamline.Socket, reason string, err error) {
	b.log.Warn(reason, zap.String("user_id", socket.UserID()), zap.Error(err))
	_ = socket.Dispatch(events.MessageFailed, map[string]any{"error": reason})
}
