package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"sockline/infrastructure"
	"sockline/internal/user"
)

// Users is the slice of the user service the conversation layer needs.
type Users interface {
	FindByCode(ctx context.Context, code string) (*user.User, error)
	FindParticipantsByIDs(ctx context.Context, ids []string) ([]user.User, error)
}

type Service struct {
	repo     Repository
	messages *MessagesService
	users    Users
	log      *zap.Logger
}

func NewService(repo Repository, messages *MessagesService, users Users, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, messages: messages, users: users, log: log}
}

// conversationName builds the canonical key for a direct conversation:
// the deduplicated participant ids, sorted, joined with "-". The same pair
// always maps to the same conversation regardless of who sends first.
func conversationName(ids []string) (string, []string) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	return strings.Join(unique, "-"), unique
}

// PushMessage stores a message, creating its conversation on first contact.
// The upsert and the insert are keyed so concurrent first messages between
// the same pair converge on one conversation row.
func (s *Service) PushMessage(ctx context.Context, senderID, recipientID, msgType string, payload json.RawMessage) (*PushResult, error) {
	if senderID == "" || recipientID == "" {
		return nil, infrastructure.ErrInvalidInput
	}

	name, participants := conversationName([]string{senderID, recipientID})
	isSelf := len(participants) == 1
	convType := TypePrivate
	if isSelf {
		convType = TypeSelf
	}

	conv, err := s.repo.Upsert(ctx, UpsertInput{
		Name:         name,
		Participants: participants,
		Type:         convType,
		Last: LastMessage{
			Type:    msgType,
			Payload: string(payload),
			Status:  StatusSent,
			At:      time.Now(),
		},
	})
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.CreateMessage(ctx, conv.ID, senderID, msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.RecipientID = recipientID

	members, err := s.users.FindParticipantsByIDs(ctx, participants)
	if err != nil {
		return nil, err
	}

	return &PushResult{
		Message:      msg,
		Conversation: conv.Snapshot(),
		Participants: members,
		IsSelf:       isSelf,
	}, nil
}

// FindOrCreateByUserCode opens (or creates) the direct conversation between
// the requester and the user identified by their share code.
func (s *Service) FindOrCreateByUserCode(ctx context.Context, requesterID, code string) (*Snapshot, []user.User, error) {
	peer, err := s.users.FindByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	name, participants := conversationName([]string{requesterID, peer.ID})
	convType := TypePrivate
	if len(participants) == 1 {
		convType = TypeSelf
	}

	conv, err := s.repo.FindOrCreate(ctx, name, participants, convType)
	if err != nil {
		return nil, nil, err
	}

	members, err := s.users.FindParticipantsByIDs(ctx, participants)
	if err != nil {
		return nil, nil, err
	}
	return conv.Snapshot(), members, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ToggleMute(ctx context.Context, id, userID string, muted bool) error {
	return s.repo.SetMuted(ctx, id, userID, muted)
}

func (s *Service) ToggleArchive(ctx context.Context, id, userID string, archived bool) error {
	return s.repo.SetArchived(ctx, id, userID, archived)
}

func (s *Service) TogglePin(ctx context.Context, id, userID string, pinned bool) error {
	return s.repo.SetPinned(ctx, id, userID, pinned)
}

// DeleteChat removes a conversation with all its messages. The requester must
// be a participant.
func (s *Service) DeleteChat(ctx context.Context, id, requesterID string) error {
	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	participant := false
	for _, p := range conv.Participants {
		if p == requesterID {
			participant = true
			break
		}
	}
	if !participant {
		return infrastructure.ErrUnauthorized
	}
	if err := s.repo.Purge(ctx, id); err != nil {
		return err
	}
	s.log.Info("deleted conversation",
		zap.String("conversation_id", id), zap.String("requester_id", requesterID))
	return nil
}

// CompressChat trims the conversation history down to keep messages.
func (s *Service) CompressChat(ctx context.Context, id string, keep int) (int, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return 0, err
	}
	return s.messages.CompressConversationHistory(ctx, id, keep)
}
