package types

import (
	"errors"
	"fmt"
)

// ErrValidation is the root of every input validation failure. Validation
// failures are reported to the originating session only; the connection stays open.
var ErrValidation = errors.New("validation failed")

// Specific validation failures, all matching errors.Is(err, ErrValidation)
var (
	ErrEmptyBody          = fmt.Errorf("%w: message body is empty", ErrValidation)
	ErrBodyTooLong        = fmt.Errorf("%w: message body is too long", ErrValidation)
	ErrSelfAddressed      = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	ErrMissingParticipant = fmt.Errorf("%w: participant identifier is required", ErrValidation)
	ErrInvalidParticipant = fmt.Errorf("%w: participant identifier must be 1-64 characters of [A-Za-z0-9+._@-]", ErrValidation)
	ErrDisplayNameTooLong = fmt.Errorf("%w: receiver display name exceeds 100 characters", ErrValidation)
	ErrNotIdentified      = fmt.Errorf("%w: session participant is not identified", ErrValidation)
	ErrIdentityMismatch   = fmt.Errorf("%w: sender does not match session participant", ErrValidation)
	ErrMalformedPayload   = fmt.Errorf("%w: malformed event payload", ErrValidation)
)

// ErrPersistenceUnavailable marks a failed store operation. The operation did
// not complete; the caller reports the failure and keeps the connection.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")
