package broadcast

import (
	"context"

	"go.uber.org/zap"

	"sockline/internal/events"
	"sockline/internal/streamline"
	"sockline/internal/user"
)

// UserBroadcaster handles moderation actions a user takes against another.
type UserBroadcaster struct {
	users *user.Service
	log   *zap.Logger
}

func NewUserBroadcaster(users *user.Service, log *zap.Logger) *UserBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserBroadcaster{users: users, log: log}
}

type actionBody struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// Block stops further delivery from the target to the requester and confirms.
func (b *UserBroadcaster) Block(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body actionBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid block payload", err)
		return
	}
	if err := b.users.BlockUser(ctx, socket.UserID(), body.UserID); err != nil {
		b.fail(socket, "failed to block user", err)
		return
	}
	_ = socket.Dispatch(events.UserBlocked, map[string]any{"user_id": body.UserID})
}

func (b *UserBroadcaster) Unblock(payload any, socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var body actionBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid unblock payload", err)
		return
	}
	if err := b.users.UnblockUser(ctx, socket.UserID(), body.UserID); err != nil {
		b.fail(socket, "failed to unblock user", err)
		return
	}
	_ = socket.Dispatch(events.UserUnblocked, map[string]any{"user_id": body.UserID})
}

// Report records a complaint in the log for operators and confirms receipt.
func (b *UserBroadcaster) Report(payload any, socket *streamline.Socket, server *streamline.Server) {
	var body actionBody
	if err := streamline.Bind(payload, &body); err != nil {
		b.fail(socket, "invalid report payload", err)
		return
	}
	b.log.Info("user reported",
		zap.String("reporter_id", socket.UserID()),
		zap.String("user_id", body.UserID),
		zap.String("reason", body.Reason))
	_ = socket.Dispatch(events.UserReported, map[string]any{"user_id": body.UserID})
}

func (b *UserBroadcaster) fail(socket *streamline.Socket, reason string, err error) {
	b.log.Warn(reason, zap.String("user_id", socket.UserID()), zap.Error(err))
	_ = socket.Dispatch(events.MessageFailed, map[string]any{"error": reason})
}
