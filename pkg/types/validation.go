package types

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization.
// The alphabet excludes ChannelSeparator.
var participantRegex = regexp.MustCompile(`^[a-zA-Z0-9+._@-]{1,64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("participant", func(fl validator.FieldLevel) bool {
		return IsValidParticipantID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// IsValidParticipantID checks if a participant identifier meets format requirements
func IsValidParticipantID(id string) bool {
	return participantRegex.MatchString(id)
}

// ValidateBody checks a message body. maxRunes <= 0 disables the length check.
func ValidateBody(body string, maxRunes int) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
		return ErrBodyTooLong
	}
	return nil
}

// Validate ensures the joinChat payload meets all requirements
func (r *JoinChatRequest) Validate() error {
	return validatePayload(r)
}

// Validate ensures the sendMessage payload meets all requirements except body
// length, which is bounded by configuration (see ValidateBody).
func (r *SendMessageRequest) Validate() error {
	if err := validatePayload(r); err != nil {
		return err
	}
	return ValidateBody(r.Message, 0)
}

// Validate ensures the loadMessages payload meets all requirements
func (r *LoadMessagesRequest) Validate() error {
	return validatePayload(r)
}

// validatePayload runs the struct tags and maps the first failure onto the
// package sentinels so callers only ever see ErrValidation-wrapped errors.
func validatePayload(payload interface{}) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ErrMalformedPayload
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return ErrMissingParticipant
	case "participant":
		return ErrInvalidParticipant
	case "nefield":
		return ErrSelfAddressed
	case "max":
		return ErrDisplayNameTooLong
	default:
		return ErrMalformedPayload
	}
}
