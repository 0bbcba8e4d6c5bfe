package streamline

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sockline/infrastructure"
)

// Options configures where the upgrade endpoint lives and how the bearer
// credential may be supplied.
type Options struct {
	// Path is the only path upgrade requests are accepted on. Upgrade
	// requests for any other path are dropped without a response.
	Path string
	// TokenKey is the query parameter consulted when neither the
	// Authorization header nor the subprotocol field carries a credential.
	TokenKey string
	// AllowedOrigins restricts browser origins. Empty means any origin.
	AllowedOrigins []string
}

// AuthFunc authenticates an upgrade request and returns the user id to
// register the connection under.
type AuthFunc func(r *http.Request, credential string) (string, error)

// ConnFunc observes socket lifecycle transitions.
type ConnFunc func(socket *Socket, server *Server)

// Server owns the upgrade handshake: it authenticates the incoming request,
// promotes the raw stream to a Socket on success, registers it, and emits
// connection/disconnection signals.
type Server struct {
	Clients *Registry

	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger

	auth AuthFunc

	mu              sync.RWMutex
	onConnection    []ConnFunc
	onDisconnection []ConnFunc
}

func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Clients: NewRegistry(),
		log:     log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// UseAuth installs the authenticator run during the upgrade handshake.
func (s *Server) UseAuth(fn AuthFunc) *Server {
	s.auth = fn
	return s
}

// HandleConnection registers a callback fired after a socket is
// authenticated and registered.
func (s *Server) HandleConnection(fn ConnFunc) {
	s.mu.Lock()
	s.onConnection = append(s.onConnection, fn)
	s.mu.Unlock()
}

// HandleDisconnection registers a callback fired after a socket closed and
// was deregistered.
func (s *Server) HandleDisconnection(fn ConnFunc) {
	s.mu.Lock()
	s.onDisconnection = append(s.onDisconnection, fn)
	s.mu.Unlock()
}

// Connect installs the upgrade hook in front of an HTTP handler. Upgrade
// requests on the configured path go through authentication and, on
// success, become registered Sockets; upgrade requests on any other path
// have their raw stream closed without a response. Plain HTTP requests pass
// through to next untouched.
func (s *Server) Connect(next http.Handler, opts Options) http.Handler {
	s.opts = opts

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path != s.opts.Path {
			s.destroy(w)
			return
		}

		userID, err := s.authenticate(r)
		if err != nil {
			s.log.Warn("upgrade rejected",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			s.reject(w)
			return
		}

		var header http.Header
		if proto := firstSubprotocol(r); proto != "" {
			header = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}

		conn, err := s.upgrader.Upgrade(w, r, header)
		if err != nil {
			s.log.Warn("upgrade failed",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			return
		}

		s.adopt(conn, userID)
	})
}

// adopt wraps a freshly upgraded connection in a Socket, registers it, and
// starts its pumps.
func (s *Server) adopt(conn *websocket.Conn, userID string) {
	socket := newSocket(conn, userID, s, s.log)
	key := userID
	if key == "" {
		key = socket.ID
	}

	s.Clients.Add(key, socket)
	s.log.Info("client connected",
		zap.String("socket_id", socket.ID),
		zap.String("user_id", userID))

	s.mu.RLock()
	onConnection := append([]ConnFunc(nil), s.onConnection...)
	s.mu.RUnlock()
	for _, fn := range onConnection {
		fn(socket, s)
	}

	go socket.pingLoop()
	go func() {
		socket.readLoop()
		s.drop(key, socket)
	}()
}

// drop tears a socket down: terminal close, registry cleanup, and the
// disconnection signal.
func (s *Server) drop(key string, socket *Socket) {
	_ = socket.Close()
	s.Clients.Remove(key, socket)
	s.log.Info("client disconnected",
		zap.String("socket_id", socket.ID),
		zap.String("user_id", socket.userID))

	s.mu.RLock()
	onDisconnection := append([]ConnFunc(nil), s.onDisconnection...)
	s.mu.RUnlock()
	for _, fn := range onDisconnection {
		fn(socket, s)
	}
}

// authenticate extracts the bearer credential and runs the injected
// authenticator. A panicking authenticator counts as an auth failure, never
// as a server crash.
func (s *Server) authenticate(r *http.Request) (userID string, err error) {
	if s.auth == nil {
		return "", nil
	}

	defer func() {
		if p := recover(); p != nil {
			userID = ""
			err = fmt.Errorf("%w: authenticator panic: %v", infrastructure.ErrAuthRejected, p)
		}
	}()

	userID, err = s.auth(r, s.credential(r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", infrastructure.ErrAuthRejected, err)
	}
	return userID, nil
}

// credential resolves the bearer credential with the documented precedence:
// Authorization header, then subprotocol negotiation field, then query
// parameter. First non-empty wins.
func (s *Server) credential(r *http.Request) string {
	if h := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer")); h != "" {
		return h
	}
	if proto := firstSubprotocol(r); proto != "" {
		return proto
	}
	return strings.TrimSpace(r.URL.Query().Get(s.opts.TokenKey))
}

func firstSubprotocol(r *http.Request) string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(raw, ",")[0])
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// reject answers an unauthenticated upgrade with a bare status line on the
// raw stream and terminates it. No Socket is created and no registry state
// is left behind.
func (s *Server) reject(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_, _ = conn.Write([]byte("HTTP/1.1 401 Unauthorized\r\n\r\n"))
	_ = conn.Close()
}

// destroy closes the raw stream of a mis-routed upgrade without writing a
// response. This is a routing gate, not a 404.
func (s *Server) destroy(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
