package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sockline/infrastructure"
)

// MessagesService owns the message lifecycle inside a conversation.
type MessagesService struct {
	repo          MessageRepository
	conversations Repository
	log           *zap.Logger
}

func NewMessagesService(repo MessageRepository, conversations Repository, log *zap.Logger) *MessagesService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessagesService{repo: repo, conversations: conversations, log: log}
}

func (s *MessagesService) CreateMessage(ctx context.Context, conversationID, senderID, msgType string, payload json.RawMessage) (*Message, error) {
	if conversationID == "" || senderID == "" {
		return nil, infrastructure.ErrInvalidInput
	}
	m := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Payload:        payload,
		Status:         StatusSent,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// HistoryOf returns up to limit messages before the cursor, oldest first.
func (s *MessagesService) HistoryOf(ctx context.Context, conversationID string, limit int, before time.Time) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now()
	}
	messages, err := s.repo.HistoryOf(ctx, conversationID, limit, before)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CompressConversationHistory trims a conversation down to its keep newest
// messages and reports how many were dropped.
func (s *MessagesService) CompressConversationHistory(ctx context.Context, conversationID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, infrastructure.ErrInvalidInput
	}
	ids, err := s.repo.StaleIDs(ctx, conversationID, keep)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.repo.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	s.log.Info("compressed conversation history",
		zap.String("conversation_id", conversationID),
		zap.Int("removed", len(ids)))
	return len(ids), nil
}

// DeleteMessage removes a message. Only its sender may do so.
func (s *MessagesService) DeleteMessage(ctx context.Context, messageID, requesterID string) (*Message, error) {
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, infrastructure.ErrUnauthorized
	}
	if err := s.repo.Delete(ctx, messageID); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkAsDelivered advances a message to delivered. Only a participant other
// than the sender may acknowledge delivery.
func (s *MessagesService) MarkAsDelivered(ctx context.Context, messageID, requesterID string) (*Message, error) {
	return s.advanceStatus(ctx, messageID, requesterID, StatusDelivered)
}

// MarkAsRead advances a message to read under the same authorization rule.
func (s *MessagesService) MarkAsRead(ctx context.Context, messageID, requesterID string) (*Message, error) {
	return s.advanceStatus(ctx, messageID, requesterID, StatusRead)
}

func (s *MessagesService) advanceStatus(ctx context.Context, messageID, requesterID, status string) (*Message, error) {
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == requesterID {
		return nil, infrastructure.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, m.ConversationID)
	if err != nil {
		return nil, err
	}
	participant := false
	for _, p := range conv.Participants {
		if p == requesterID {
			participant = true
			break
		}
	}
	if !participant {
		return nil, infrastructure.ErrUnauthorized
	}
	return s.repo.UpdateStatus(ctx, messageID, status)
}

// MarkPendingDelivered flips every stored message waiting for the user to
// delivered, returning how many were advanced.
func (s *MessagesService) MarkPendingDelivered(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkDeliveredFor(ctx, userID)
}

// EditMessage replaces a message payload. Only its sender may do so.
func (s *MessagesService) EditMessage(ctx context.Context, messageID, requesterID string, payload json.RawMessage) (*Message, error) {
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, infrastructure.ErrUnauthorized
	}
	edited, err := s.repo.Edit(ctx, messageID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return edited, nil
}
