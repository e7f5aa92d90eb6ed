package router

import (
	"fmt"

	"directchat/pkg/types"
)

// ErrRateLimitExceeded is returned when a sender exceeds the per-minute budget.
// It is reported to the sender like a validation failure.
var ErrRateLimitExceeded = fmt.Errorf("%w: rate limit exceeded", types.ErrValidation)
