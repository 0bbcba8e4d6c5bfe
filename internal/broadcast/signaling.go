package broadcast

import (
	"encoding/json"

	"go.uber.org/zap"

	"sockline/internal/events"
	"sockline/internal/streamline"
)

// SignalingBroadcaster relays WebRTC handshake frames between peers. The
// signal body is opaque: it is forwarded untouched.
type SignalingBroadcaster struct {
	log *zap.Logger
}

func NewSignalingBroadcaster(log *zap.Logger) *SignalingBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &SignalingBroadcaster{log: log}
}

type signalBody struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

func (b *SignalingBroadcaster) Offer(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.relay(events.P2POffer, payload, socket, server)
}

func (b *SignalingBroadcaster) Answer(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.relay(events.P2PAnswer, payload, socket, server)
}

func (b *SignalingBroadcaster) Candidate(payload any, socket *streamline.Socket, server *streamline.Server) {
	b.relay(events.P2PCandidate, payload, socket, server)
}

func (b *SignalingBroadcaster) relay(event string, payload any, socket *streamline.Socket, server *streamline.Server) {
	var body signalBody
	if err := streamline.Bind(payload, &body); err != nil || body.To == "" {
		b.log.Debug("ignoring malformed signaling event",
			zap.String("user_id", socket.UserID()), zap.Error(err))
		return
	}
	server.Clients.To(body.To).Dispatch(event, map[string]any{
		"from":   socket.UserID(),
		"signal": body.Signal,
	})
}
