package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrSessionAttached    = errors.New("session is already attached")
	ErrSessionNotAttached = errors.New("session is not attached")
	ErrInboxFull          = errors.New("session inbox is full")
)
