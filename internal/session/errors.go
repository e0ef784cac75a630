package session

import "errors"

var (
	// ErrSessionAlreadyProcessing is returned when input arrives while a turn
	// is in flight.
	ErrSessionAlreadyProcessing = errors.New("session already processing a turn")
	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionEnded             = errors.New("session ended")
	ErrEmptyScript              = errors.New("interview script has no questions")
	ErrRoomAttached             = errors.New("session already has a room")
	ErrTooManySessions          = errors.New("too many concurrent sessions")
)
