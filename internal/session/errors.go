package session

import "errors"

var (
	// ErrSessionNotFound covers unknown ids and sessions owned by another connection.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionPaused   = errors.New("interview is paused")
	ErrUnknownType     = errors.New("unknown message type")

	errSaveTurn     = errors.New("save turn")
	errStartSession = errors.New("start session")
	errResults      = errors.New("generate results")
)
