package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sockline/infrastructure"
	"sockline/internal/conversation"
	"sockline/internal/events"
	"sockline/internal/streamline"
	"sockline/internal/user"
)

// memConversations is a minimal in-memory conversation store.
type memConversations struct {
	mu     sync.Mutex
	byName map[string]*conversation.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{byName: make(map[string]*conversation.Conversation)}
}

func (r *memConversations) Upsert(ctx context.Context, in conversation.UpsertInput) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byName[in.Name]
	if !ok {
		c = &conversation.Conversation{
			ID:           uuid.New().String(),
			Name:         in.Name,
			Type:         in.Type,
			Participants: in.Participants,
		}
		r.byName[in.Name] = c
	}
	c.LastMessageType = in.Last.Type
	c.LastMessagePayload = in.Last.Payload
	c.LastMessageStatus = in.Last.Status
	c.LastMessageAt = in.Last.At
	copied := *c
	return &copied, nil
}

func (r *memConversations) FindOrCreate(ctx context.Context, name string, participants []string, convType string) (*conversation.Conversation, error) {
	return r.Upsert(ctx, conversation.UpsertInput{Name: name, Participants: participants, Type: convType})
}

func (r *memConversations) GetByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byName {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, infrastructure.ErrConversationNotFound
}

func (r *memConversations) SetMuted(ctx context.Context, id, userID string, muted bool) error {
	return nil
}

func (r *memConversations) SetArchived(ctx context.Context, id, userID string, archived bool) error {
	return nil
}

func (r *memConversations) SetPinned(ctx context.Context, id, userID string, pinned bool) error {
	return nil
}

func (r *memConversations) Purge(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.byName {
		if c.ID == id {
			delete(r.byName, name)
			return nil
		}
	}
	return infrastructure.ErrConversationNotFound
}

type memMessages struct {
	mu        sync.Mutex
	messages  map[string]*conversation.Message
	insertErr error
}

func newMemMessages() *memMessages {
	return &memMessages{messages: make(map[string]*conversation.Message)}
}

func (r *memMessages) Insert(ctx context.Context, m *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	m.CreatedAt = time.Now()
	copied := *m
	r.messages[m.ID] = &copied
	return nil
}

func (r *memMessages) GetByID(ctx context.Context, id string) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, infrastructure.ErrMessageNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *memMessages) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return infrastructure.ErrMessageNotFound
	}
	delete(r.messages, id)
	return nil
}

func (r *memMessages) HistoryOf(ctx context.Context, conversationID string, limit int, before time.Time) ([]conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memMessages) StaleIDs(ctx context.Context, conversationID string, keep int) ([]string, error) {
	return nil, nil
}

func (r *memMessages) DeleteByIDs(ctx context.Context, ids []string) error {
	return nil
}

func (r *memMessages) UpdateStatus(ctx context.Context, id, status string) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, infrastructure.ErrMessageNotFound
	}
	switch status {
	case conversation.StatusDelivered:
		if m.Status == conversation.StatusSent {
			m.Status = conversation.StatusDelivered
		}
	case conversation.StatusRead:
		if m.Status != conversation.StatusRead {
			m.Status = conversation.StatusRead
		}
	}
	copied := *m
	return &copied, nil
}

func (r *memMessages) MarkDeliveredFor(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (r *memMessages) Edit(ctx context.Context, id string, payload []byte) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, infrastructure.ErrMessageNotFound
	}
	m.Payload = payload
	m.Edited = true
	copied := *m
	return &copied, nil
}

type memUsers struct{}

func (memUsers) FindByCode(ctx context.Context, code string) (*user.User, error) {
	return nil, infrastructure.ErrUserNotFound
}

func (memUsers) FindParticipantsByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	out := make([]user.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, user.User{ID: id})
	}
	return out, nil
}

type memUserRepo struct{}

func (memUserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	return &user.User{ID: id}, nil
}

func (memUserRepo) GetByCode(ctx context.Context, code string) (*user.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (memUserRepo) GetByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	out := make([]user.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, user.User{ID: id})
	}
	return out, nil
}

func (memUserRepo) UpdateStatus(ctx context.Context, id string, online bool) error { return nil }

func (memUserRepo) AddBlocked(ctx context.Context, id, blockedID string) error { return nil }

func (memUserRepo) RemoveBlocked(ctx context.Context, id, blockedID string) error { return nil }

type harness struct {
	server   *streamline.Server
	ts       *httptest.Server
	msgRepo  *memMessages
	convRepo *memConversations
}

// newHarness wires the broadcasters onto a live socket server. The fake
// authenticator trusts the bearer credential as the user id.
func newHarness(t *testing.T) *harness {
	t.Helper()

	convRepo := newMemConversations()
	msgRepo := newMemMessages()
	messages := conversation.NewMessagesService(msgRepo, convRepo, nil)
	conversations := conversation.NewService(convRepo, messages, memUsers{}, nil)

	messageBroadcaster := NewMessageBroadcaster(conversations, messages, nil)
	typingBroadcaster := NewTypingBroadcaster(nil)
	signalingBroadcaster := NewSignalingBroadcaster(nil)

	server := streamline.NewServer(nil)
	server.UseAuth(func(r *http.Request, credential string) (string, error) {
		if credential == "" {
			return "", errors.New("missing credential")
		}
		return credential, nil
	})
	server.HandleConnection(func(socket *streamline.Socket, srv *streamline.Server) {
		socket.On(events.MessageSend, messageBroadcaster.SaveMessage)
		socket.On(events.MessageDeleted, messageBroadcaster.DeleteMessage)
		socket.On(events.MessageEdited, messageBroadcaster.EditMessage)
		socket.On(events.UserTypingStart, typingBroadcaster.Typing)
		socket.On(events.UserTypingStop, typingBroadcaster.StopTyping)
		socket.On(events.P2POffer, signalingBroadcaster.Offer)
	})

	ts := httptest.NewServer(server.Connect(http.NotFoundHandler(), streamline.Options{
		Path: "/v1/socket",
	}))
	t.Cleanup(ts.Close)

	return &harness{server: server, ts: ts, msgRepo: msgRepo, convRepo: convRepo}
}

// newPresenceHarness wires only the connection lifecycle handlers, so tests
// can observe presence traffic without message noise.
func newPresenceHarness(t *testing.T) *harness {
	t.Helper()

	convRepo := newMemConversations()
	msgRepo := newMemMessages()
	messages := conversation.NewMessagesService(msgRepo, convRepo, nil)
	users := user.NewService(memUserRepo{}, nil, nil)
	presence := NewPresenceBroadcaster(users, messages, nil)

	server := streamline.NewServer(nil)
	server.UseAuth(func(r *http.Request, credential string) (string, error) {
		if credential == "" {
			return "", errors.New("missing credential")
		}
		return credential, nil
	})
	server.HandleConnection(presence.HandleConnection)
	server.HandleDisconnection(presence.HandleDisconnection)

	ts := httptest.NewServer(server.Connect(http.NotFoundHandler(), streamline.Options{
		Path: "/v1/socket",
	}))
	t.Cleanup(ts.Close)

	return &harness{server: server, ts: ts, msgRepo: msgRepo, convRepo: convRepo}
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	want := h.server.Clients.Count(userID) + 1

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/socket"
	header := http.Header{"Authorization": {"Bearer " + userID}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.server.Clients.Count(userID) >= want {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket for %q never registered", userID)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func receive(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame.Event, frame.Payload
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame")
}

func TestSaveMessageAcksSenderAndRelaysToRecipient(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "bob",
		"type":         "text",
		"payload":      "hello",
	})

	event, payload := receive(t, alice)
	assert.Equal(t, events.MessageSent, event)
	message := payload["message"].(map[string]any)
	assert.Equal(t, "alice", message["sender_id"])
	assert.Equal(t, "sent", message["status"])
	conv := payload["conversation"].(map[string]any)
	assert.Equal(t, "alice-bob", conv["name"])

	event, payload = receive(t, bob)
	assert.Equal(t, events.MessageIncoming, event)
	incoming := payload["message"].(map[string]any)
	assert.Equal(t, message["id"], incoming["id"])
}

func TestSaveMessageToSelfIsNotRelayed(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "alice",
		"payload":      "note to self",
	})

	event, payload := receive(t, alice)
	assert.Equal(t, events.MessageSent, event)
	message := payload["message"].(map[string]any)
	assert.Equal(t, "text", message["type"], "missing type defaults to text")

	expectSilence(t, alice)
}

func TestSaveMessageToOfflineRecipient(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "carol",
		"payload":      "anyone there?",
	})

	// The message is stored and acknowledged even though nobody is listening.
	event, _ := receive(t, alice)
	assert.Equal(t, events.MessageSent, event)
	assert.Len(t, h.msgRepo.messages, 1)
}

func TestSaveMessageStorageFailure(t *testing.T) {
	h := newHarness(t)
	h.msgRepo.insertErr = errors.New("disk full")
	alice := h.dial(t, "alice")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "bob",
		"payload":      "hello",
	})

	event, payload := receive(t, alice)
	assert.Equal(t, events.MessageFailed, event)
	assert.NotEmpty(t, payload["error"])
}

func TestDeleteMessageFansOutToParticipants(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "bob",
		"payload":      "delete me",
	})
	_, payload := receive(t, alice)
	messageID := payload["message"].(map[string]any)["id"].(string)
	event, _ := receive(t, bob)
	require.Equal(t, events.MessageIncoming, event)

	send(t, alice, events.MessageDeleted, map[string]any{"id": messageID})

	event, payload = receive(t, bob)
	assert.Equal(t, events.MessageDeleted, event)
	assert.Equal(t, []any{messageID}, payload["ids"])

	event, _ = receive(t, alice)
	assert.Equal(t, events.MessageDeleted, event)
}

func TestDeleteMessageByNonSenderFails(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.MessageSend, map[string]any{
		"recipient_id": "bob",
		"payload":      "mine",
	})
	_, payload := receive(t, alice)
	messageID := payload["message"].(map[string]any)["id"].(string)
	event, _ := receive(t, bob)
	require.Equal(t, events.MessageIncoming, event)

	send(t, bob, events.MessageDeleted, map[string]any{"id": messageID})

	event, _ = receive(t, bob)
	assert.Equal(t, events.MessageFailed, event)
	assert.Len(t, h.msgRepo.messages, 1, "message survives the rejected delete")
}

func TestTypingRelay(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.UserTypingStart, map[string]any{
		"recipient_id":    "bob",
		"conversation_id": "conv-1",
	})

	event, payload := receive(t, bob)
	assert.Equal(t, events.UserTypingStart, event)
	assert.Equal(t, "alice", payload["sender_id"])
	assert.Equal(t, "conv-1", payload["conversation_id"])

	send(t, alice, events.UserTypingStop, map[string]any{
		"recipient_id":    "bob",
		"conversation_id": "conv-1",
	})
	event, _ = receive(t, bob)
	assert.Equal(t, events.UserTypingStop, event)
}

func TestTypingToOfflineRecipientIsDropped(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.UserTypingStart, map[string]any{
		"recipient_id": "carol",
	})
	// The connection survives and later traffic still flows.
	send(t, alice, events.UserTypingStart, map[string]any{
		"recipient_id": "bob",
	})

	event, _ := receive(t, bob)
	assert.Equal(t, events.UserTypingStart, event)
}

func TestOfflineBroadcastScopedToOwnSockets(t *testing.T) {
	h := newPresenceHarness(t)

	a1 := h.dial(t, "alice")
	event, _ := receive(t, a1)
	require.Equal(t, events.UserOnline, event)

	carol := h.dial(t, "carol")
	event, _ = receive(t, carol)
	require.Equal(t, events.UserOnline, event)

	a2 := h.dial(t, "alice")
	event, _ = receive(t, a1)
	require.Equal(t, events.UserOnline, event)
	event, _ = receive(t, a2)
	require.Equal(t, events.UserOnline, event)

	a1.Close()

	// The remaining device hears about the dropped one.
	event, payload := receive(t, a2)
	assert.Equal(t, events.UserOffline, event)
	assert.Equal(t, "alice", payload["user_id"])

	// Unrelated users hear nothing, even when the last socket goes.
	a2.Close()
	expectSilence(t, carol)
}

func TestSignalingRelay(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, events.P2POffer, map[string]any{
		"to":     "bob",
		"signal": map[string]any{"sdp": "offer-blob"},
	})

	event, payload := receive(t, bob)
	assert.Equal(t, events.P2POffer, event)
	assert.Equal(t, "alice", payload["from"])
	signal := payload["signal"].(map[string]any)
	assert.Equal(t, "offer-blob", signal["sdp"])
}
