package chat

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotFound           = errors.New("chat not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPersistence        = errors.New("persistence error")
	ErrGenerationInFlight = errors.New("a generation is already in progress")
)
