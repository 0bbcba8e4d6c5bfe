package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sockline/infrastructure"
)

type UpsertInput struct {
	Name         string
	Participants []string
	Type         string
	Last         LastMessage
}

type Repository interface {
	Upsert(ctx context.Context, in UpsertInput) (*Conversation, error)
	FindOrCreate(ctx context.Context, name string, participants []string, convType string) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	SetMuted(ctx context.Context, id, userID string, muted bool) error
	SetArchived(ctx context.Context, id, userID string, archived bool) error
	SetPinned(ctx context.Context, id, userID string, pinned bool) error
	Purge(ctx context.Context, id string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const conversationColumns = `id, name, type, participants, admins, muted_by, archived_by, pinned_by,
	last_message_type, last_message_payload, last_message_status, last_message_at, created_at, updated_at`

// Upsert inserts the conversation or, when the name already exists, refreshes
// its last-message preview. The type is only written on insert so an existing
// conversation never changes kind. A single statement keeps concurrent sends
// from racing each other into duplicate rows.
func (r *repository) Upsert(ctx context.Context, in UpsertInput) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, name, type, participants,
			last_message_type, last_message_payload, last_message_status, last_message_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			last_message_type = EXCLUDED.last_message_type,
			last_message_payload = EXCLUDED.last_message_payload,
			last_message_status = EXCLUDED.last_message_status,
			last_message_at = EXCLUDED.last_message_at,
			updated_at = NOW()
		RETURNING ` + conversationColumns

	row := r.db.QueryRowContext(ctx, query,
		uuid.New().String(), in.Name, in.Type, pq.Array(in.Participants),
		in.Last.Type, in.Last.Payload, in.Last.Status, in.Last.At,
	)
	return scanConversation(row)
}

// FindOrCreate is the non-clobbering variant used when opening a chat without
// sending anything: an existing row keeps its last-message preview.
func (r *repository) FindOrCreate(ctx context.Context, name string, participants []string, convType string) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, name, type, participants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING ` + conversationColumns

	row := r.db.QueryRowContext(ctx, query,
		uuid.New().String(), name, convType, pq.Array(participants),
	)
	return scanConversation(row)
}

func (r *repository) GetByID(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, infrastructure.ErrConversationNotFound
	}
	return conv, err
}

func (r *repository) SetMuted(ctx context.Context, id, userID string, muted bool) error {
	return r.toggleMembership(ctx, "muted_by", id, userID, muted)
}

func (r *repository) SetArchived(ctx context.Context, id, userID string, archived bool) error {
	return r.toggleMembership(ctx, "archived_by", id, userID, archived)
}

func (r *repository) SetPinned(ctx context.Context, id, userID string, pinned bool) error {
	return r.toggleMembership(ctx, "pinned_by", id, userID, pinned)
}

func (r *repository) toggleMembership(ctx context.Context, column, id, userID string, member bool) error {
	var query string
	if member {
		query = fmt.Sprintf(`UPDATE conversations SET %s = array_append(%s, $1), updated_at = NOW()
			WHERE id = $2 AND NOT ($1 = ANY(COALESCE(%s, '{}')))`, column, column, column)
	} else {
		query = fmt.Sprintf(`UPDATE conversations SET %s = array_remove(%s, $1), updated_at = NOW()
			WHERE id = $2`, column, column)
	}
	if _, err := r.db.ExecContext(ctx, query, userID, id); err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", column, err)
	}
	return nil
}

// Purge removes the conversation and every message inside it atomically.
func (r *repository) Purge(ctx context.Context, id string) error {
	return infrastructure.WithTransaction(r.db, ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete conversation messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check deleted conversation: %w", err)
		}
		if affected == 0 {
			return infrastructure.ErrConversationNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var lastType, lastPayload, lastStatus sql.NullString
	var lastAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.Participants, &c.Admins,
		&c.MutedBy, &c.ArchivedBy, &c.PinnedBy,
		&lastType, &lastPayload, &lastStatus, &lastAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	c.LastMessageType = lastType.String
	c.LastMessagePayload = lastPayload.String
	c.LastMessageStatus = lastStatus.String
	if lastAt.Valid {
		c.LastMessageAt = lastAt.Time
	}
	return &c, nil
}

type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	Delete(ctx context.Context, id string) error
	HistoryOf(ctx context.Context, conversationID string, limit int, before time.Time) ([]Message, error)
	StaleIDs(ctx context.Context, conversationID string, keep int) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	UpdateStatus(ctx context.Context, id, status string) (*Message, error)
	MarkDeliveredFor(ctx context.Context, userID string) (int64, error)
	Edit(ctx context.Context, id string, payload []byte) (*Message, error)
}

type messageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, type, payload, status, edited,
	delivered_at, read_at, created_at, updated_at`

func (r *messageRepository) Insert(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, type, payload, status, edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Type, []byte(m.Payload), m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, infrastructure.ErrMessageNotFound
	}
	return m, err
}

func (r *messageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted message: %w", err)
	}
	if affected == 0 {
		return infrastructure.ErrMessageNotFound
	}
	return nil
}

// HistoryOf pages backwards through a conversation. Rows come out newest
// first; callers reverse when they want chronological order.
func (r *messageRepository) HistoryOf(ctx context.Context, conversationID string, limit int, before time.Time) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1 AND created_at < $2
		ORDER BY created_at DESC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message history: %w", err)
	}
	return messages, nil
}

// StaleIDs returns the ids of every message past the newest keep entries.
func (r *messageRepository) StaleIDs(ctx context.Context, conversationID string, keep int) ([]string, error) {
	query := `SELECT id FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, conversationID, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stale message ids: %w", err)
	}
	return ids, nil
}

func (r *messageRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// UpdateStatus advances the delivery status and stamps the matching
// timestamp. The advance is monotonic: sent → delivered → read, never back.
func (r *messageRepository) UpdateStatus(ctx context.Context, id, status string) (*Message, error) {
	query := `
		UPDATE messages SET status = CASE
				WHEN $2 = 'delivered' AND status = 'sent' THEN 'delivered'
				WHEN $2 = 'read' AND status IN ('sent', 'delivered') THEN 'read'
				ELSE status
			END,
			delivered_at = CASE WHEN $2 = 'delivered' AND delivered_at IS NULL THEN NOW() ELSE delivered_at END,
			read_at = CASE WHEN $2 = 'read' AND read_at IS NULL THEN NOW() ELSE read_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id, status))
	if err == sql.ErrNoRows {
		return nil, infrastructure.ErrMessageNotFound
	}
	return m, err
}

// MarkDeliveredFor bulk-advances every pending message addressed to the user
// across all their conversations. Used when the user comes online.
func (r *messageRepository) MarkDeliveredFor(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE messages SET status = 'delivered', delivered_at = NOW(), updated_at = NOW()
		WHERE status = 'sent' AND sender_id <> $1
		  AND conversation_id IN (SELECT id FROM conversations WHERE $1 = ANY(participants))`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count delivered messages: %w", err)
	}
	return affected, nil
}

func (r *messageRepository) Edit(ctx context.Context, id string, payload []byte) (*Message, error) {
	query := `
		UPDATE messages SET payload = $2, edited = true, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id, payload))
	if err == sql.ErrNoRows {
		return nil, infrastructure.ErrMessageNotFound
	}
	return m, err
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var payload []byte
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &payload, &m.Status, &m.Edited,
		&m.DeliveredAt, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Payload = payload
	return &m, nil
}
