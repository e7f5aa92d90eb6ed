package session

import (
	"errors"
	"fmt"

	"directchat/pkg/types"
)

// Session-specific error types
var (
	ErrSessionClosed = errors.New("session is disconnected")
	ErrUnknownEvent  = fmt.Errorf("%w: unknown event", types.ErrValidation)
)
