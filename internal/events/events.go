// Package events names the fixed wire event vocabulary shared with the
// clients. Receivers ignore events they have no handler for.
package events

const (
	UserConnected    = "user_connected"
	UserDisconnected = "user_disconnected"
	UserOnline       = "user_online"
	UserOffline      = "user_offline"
	UserTypingStart  = "user_typing_start"
	UserTypingStop   = "user_typing_stop"
)

const (
	MessageSend      = "message:send"
	MessageSent      = "message:sent"
	MessageIncoming  = "message:incoming"
	MessageDelivered = "message:delivered"
	MessageRead      = "message:read"
	MessageFailed    = "message:failed"
	MessageDeleted   = "message:deleted"
	MessageEdited    = "message:edited"
)

const (
	ChatOpen       = "chat:open"
	ChatOpened     = "chat:opened"
	ChatHistory    = "chat:history"
	ChatMute       = "chat:mute"
	ChatArchive    = "chat:archive"
	ChatPin        = "chat:pin"
	ChatUpdated    = "chat:updated"
	ChatDelete     = "chat:delete"
	ChatDeleted    = "chat:deleted"
	ChatCompress   = "chat:compress"
	ChatCompressed = "chat:compressed"
)

const (
	P2POffer     = "p2p:offer"
	P2PAnswer    = "p2p:answer"
	P2PCandidate = "p2p:candidate"
)

const (
	UserBlocked   = "user_blocked"
	UserUnblocked = "user_unblocked"
	UserReported  = "user_reported"
)
