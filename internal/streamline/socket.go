package streamline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sockline/infrastructure"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 50 * 1024 * 1024
)

// Handler reacts to one named inbound event. All handlers registered for an
// event run, receiving the decoded payload, the originating socket, and the
// server so they can fan out further.
type Handler func(payload any, socket *Socket, server *Server)

// Socket wraps one live websocket connection together with the identity it
// authenticated as and its event dispatch table. Sockets are created by the
// Server during the upgrade handshake and owned by the Registry afterwards.
type Socket struct {
	ID string

	conn   *websocket.Conn
	userID string
	server *Server
	log    *zap.Logger

	writeMu   sync.Mutex
	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	closed atomic.Bool
	done   chan struct{}
}

func newSocket(conn *websocket.Conn, userID string, server *Server, log *zap.Logger) *Socket {
	return &Socket{
		ID:       uuid.NewString(),
		conn:     conn,
		userID:   userID,
		server:   server,
		log:      log,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// UserID returns the authenticated user id, or the empty string for an
// anonymous socket.
func (s *Socket) UserID() string {
	return s.userID
}

// IsOpen reports whether the socket can still accept writes.
func (s *Socket) IsOpen() bool {
	return !s.closed.Load()
}

// On registers a handler for a named event. Multiple handlers per event are
// allowed and all of them run.
func (s *Socket) On(event string, handler Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.handlerMu.Unlock()
}

// Dispatch writes one event frame to the peer. It fails fast with ErrNotOpen
// on a closed socket and never buffers or retries. Writes to the same socket
// are serialized.
func (s *Socket) Dispatch(event string, payload any) error {
	if !s.IsOpen() {
		return infrastructure.ErrNotOpen
	}

	data, err := Encode(event, payload, nil)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.IsOpen() {
		return infrastructure.ErrNotOpen
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to dispatch %q: %w", event, err)
	}
	return nil
}

// Close transitions the socket to its terminal state and closes the
// underlying transport. It is safe to call more than once.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return s.conn.Close()
}

// readLoop decodes each physical message once and routes it to all handlers
// registered for its event. Malformed frames are logged and dropped; the
// loop only exits when the transport errors or is closed.
func (s *Socket) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				s.log.Warn("socket read failed",
					zap.String("socket_id", s.ID),
					zap.Error(err))
			}
			return
		}

		env, err := Decode(data)
		if err != nil {
			s.log.Warn("dropping malformed frame",
				zap.String("socket_id", s.ID),
				zap.String("user_id", s.userID),
				zap.Error(err))
			continue
		}

		s.route(env)
	}
}

func (s *Socket) route(env *Envelope) {
	s.handlerMu.RLock()
	handlers := append([]Handler(nil), s.handlers[env.Event]...)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		s.invoke(env, handler)
	}
}

// invoke shields the read loop from a misbehaving handler: a panic is logged
// and the connection stays up.
func (s *Socket) invoke(env *Envelope, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked",
				zap.String("event", env.Event),
				zap.String("socket_id", s.ID),
				zap.Any("panic", r))
		}
	}()

	handler(env.Payload, s, s.server)
}

// pingLoop keeps the connection alive until the socket closes.
func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
