package contract

import (
	"context"
	"errors"

	statex "github.com/verdantlabs/greencart/assistant/state"
)

// Routing and dispatch errors.
var (
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	ErrNoCapableHandler        = errors.New("no capable handler for intent")
	ErrHandlerUnavailable      = errors.New("handler unavailable")
	ErrHandlerTimeout          = errors.New("handler timed out")
	ErrUpstreamInvocation      = errors.New("upstream invocation failed")
	ErrRetryExhausted          = errors.New("retry budget exhausted")
	ErrValidation              = errors.New("validation failed")
)

// Transport errors are a closed set; the tool gateway maps every wire
// failure onto exactly one of them.
var (
	ErrInvalidParams       = errors.New("invalid params")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTimeout             = errors.New("timeout")
)

// IsTransient reports whether err may succeed on a retry. Parameter and
// state errors never qualify; neither do context errors, which the retry
// loop handles on its own so a cancelled call is never resumed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrHandlerTimeout) ||
		errors.Is(err, ErrHandlerUnavailable) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// Kind maps an error chain onto its taxonomy name for API payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCapableHandler):
		return "no_capable_handler"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrHandlerTimeout):
		return "handler_timeout"
	case errors.Is(err, ErrHandlerUnavailable):
		return "handler_unavailable"
	case errors.Is(err, ErrUpstreamInvocation):
		return "upstream_invocation_error"
	case errors.Is(err, ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, statex.ErrInvalidSessionState):
		return "invalid_session_state"
	case errors.Is(err, statex.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrClassificationAmbiguous):
		return "classification_ambiguous"
	case errors.Is(err, ErrValidation), errors.Is(err, statex.ErrInvalidSession), errors.Is(err, statex.ErrInvalidItem):
		return "validation_failed"
	default:
		return "internal"
	}
}
