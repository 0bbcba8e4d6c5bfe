package conversation

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"sockline/internal/user"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

const (
	TypePrivate = "private"
	TypeGroup   = "group"
	TypeSelf    = "self"
)

// Conversation is the storage shape. Name is the canonical participant key
// for direct chats, so it carries the uniqueness the upsert relies on.
type Conversation struct {
	ID                 string         `gorm:"primaryKey;size:36" json:"id"`
	Name               string         `gorm:"uniqueIndex;not null" json:"name"`
	Type               string         `gorm:"not null" json:"type"`
	Participants       pq.StringArray `gorm:"type:text[]" json:"participants"`
	Admins             pq.StringArray `gorm:"type:text[]" json:"admins,omitempty"`
	MutedBy            pq.StringArray `gorm:"type:text[]" json:"muted_by,omitempty"`
	ArchivedBy         pq.StringArray `gorm:"type:text[]" json:"archived_by,omitempty"`
	PinnedBy           pq.StringArray `gorm:"type:text[]" json:"pinned_by,omitempty"`
	LastMessageType    string         `json:"-"`
	LastMessagePayload string         `json:"-"`
	LastMessageStatus  string         `json:"-"`
	LastMessageAt      time.Time      `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type Message struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string          `gorm:"index;not null" json:"conversation_id"`
	SenderID       string          `gorm:"index;not null" json:"sender_id"`
	RecipientID    string          `gorm:"-" json:"recipient_id,omitempty"`
	Type           string          `gorm:"not null" json:"type"`
	Payload        json.RawMessage `gorm:"type:jsonb" json:"payload"`
	Status         string          `gorm:"not null" json:"status"`
	Edited         bool            `json:"edited"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LastMessage is the denormalized preview stored on the conversation row.
type LastMessage struct {
	Type    string    `json:"type"`
	Payload string    `json:"payload"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Snapshot is the wire shape of a conversation.
type Snapshot struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (c *Conversation) Snapshot() *Snapshot {
	snap := &Snapshot{
		ID:           c.ID,
		Name:         c.Name,
		Type:         c.Type,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessageType != "" {
		snap.LastMessage = &LastMessage{
			Type:    c.LastMessageType,
			Payload: c.LastMessagePayload,
			Status:  c.LastMessageStatus,
			At:      c.LastMessageAt,
		}
	}
	return snap
}

// PushResult carries a stored message together with the conversation it
// landed in, the display-ready participants, and whether the sender was
// messaging themselves.
type PushResult struct {
	Message      *Message    `json:"message"`
	Conversation *Snapshot   `json:"conversation"`
	Participants []user.User `json:"participants"`
	IsSelf       bool        `json:"is_self"`
}
