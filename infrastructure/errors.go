package infrastructure

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUsersNotFound        = errors.New("users not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")

	ErrAuthRejected   = errors.New("authentication rejected")
	ErrNotOpen        = errors.New("socket is not open")
	ErrMalformedFrame = errors.New("malformed frame")

	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token has expired")
)
