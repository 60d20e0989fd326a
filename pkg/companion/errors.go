package companion

import "errors"

// Validation errors. Callers map these to client errors.
var (
	ErrEmptyMessage       = errors.New("message must not be empty")
	ErrMissingName        = errors.New("name must not be empty")
	ErrUnknownPersonality = errors.New("unknown personality mode")
)

// FallbackReply is sent when the completion service cannot produce a reply.
const FallbackReply = "I'm here with you, but I'm having trouble finding my words right now. Could you tell me a little more?"

// IsValidationError reports whether err should be shown to the client as a
// bad request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMissingName) ||
		errors.Is(err, ErrUnknownPersonality)
}
