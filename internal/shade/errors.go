package shade

import "errors"

// Domain-specific errors for shade operations.
var (
	// ErrNotConnected is returned when a command cannot be published because
	// the messaging session is down. Reconnect may be offered to the user.
	ErrNotConnected = errors.New("shade: not connected")

	// ErrInvalidPresetName is returned when saving a preset with an empty name.
	ErrInvalidPresetName = errors.New("shade: preset name is required")

	// ErrPresetNotFound is returned for an out-of-range preset index.
	ErrPresetNotFound = errors.New("shade: preset not found")

	// ErrUnknownMode is returned for an unrecognised mode token.
	ErrUnknownMode = errors.New("shade: unknown mode")

	// ErrStopped is returned when the reconciler loop is no longer running.
	ErrStopped = errors.New("shade: reconciler stopped")

	// ErrMalformedPayload marks an inbound message that failed to decode.
	ErrMalformedPayload = errors.New("shade: malformed payload")

	// ErrUnhandledTopic marks an inbound message on a topic with no decoder.
	ErrUnhandledTopic = errors.New("shade: unhandled topic")

	// ErrStateRequest marks a state request seen on the state topic. It is
	// not a position and is ignored.
	ErrStateRequest = errors.New("shade: state request")
)
