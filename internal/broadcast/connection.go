package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sockline/internal/conversation"
	"sockline/internal/events"
	"sockline/internal/streamline"
	"sockline/internal/user"
)

// PresenceBroadcaster handles connect and disconnect: it keeps the stored
// online flag in sync with the registry and announces presence changes.
type PresenceBroadcaster struct {
	users    *user.Service
	messages *conversation.MessagesService
	log      *zap.Logger
}

func NewPresenceBroadcaster(users *user.Service, messages *conversation.MessagesService, log *zap.Logger) *PresenceBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceBroadcaster{users: users, messages: messages, log: log}
}

// HandleConnection joins the user to their own room, announces them and marks
// them online. The whole flow is best effort: a presence failure must not
// tear down a freshly established socket.
func (b *PresenceBroadcaster) HandleConnection(socket *streamline.Socket, server *streamline.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := socket.UserID()
	u, err := b.users.FindByID(ctx, userID)
	if err != nil {
		b.log.Warn("connected user not found", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if u.Code != "" {
		server.Clients.Join(u.Code, userID)
		server.Clients.Room(u.Code).DispatchOnlyOpen(events.UserConnected, map[string]any{
			"user_id": userID,
		})
	}

	if err := b.users.UpdateStatus(ctx, userID, true); err != nil {
		b.log.Warn("failed to mark user online", zap.String("user_id", userID), zap.Error(err))
	}
	if delivered, err := b.messages.MarkPendingDelivered(ctx, userID); err != nil {
		b.log.Warn("failed to mark pending messages delivered",
			zap.String("user_id", userID), zap.Error(err))
	} else if delivered > 0 {
		b.log.Info("marked pending messages delivered",
			zap.String("user_id", userID), zap.Int64("count", delivered))
	}
	server.Clients.To(userID).DispatchOnlyOpen(events.UserOnline, map[string]any{
		"user_id": userID,
	})
}

// HandleDisconnection tells the user's remaining sockets a device dropped and,
// once the last socket is gone, marks the user offline and informs their room.
func (b *PresenceBroadcaster) HandleDisconnection(socket *streamline.Socket, server *streamline.Server) {
	userID := socket.UserID()

	server.Clients.To(userID).DispatchOnlyOpen(events.UserOffline, map[string]any{
		"user_id": userID,
	})

	if server.Clients.Count(userID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.users.UpdateStatus(ctx, userID, false); err != nil {
		b.log.Warn("failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
	}
	if u, err := b.users.FindByID(ctx, userID); err == nil && u.Code != "" {
		server.Clients.Room(u.Code).DispatchOnlyOpen(events.UserDisconnected, map[string]any{
			"user_id": userID,
		})
	}
}
