// Package apperr defines the domain error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidRange
	KindInvalidState
	KindConflict
	KindUnsupportedFormat
	KindProvider
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRange:
		return "invalid_range"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindProvider:
		return "provider_error"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Reason is the provider sub-reason carried by KindProvider errors.
type Reason string

const (
	ReasonAuth            Reason = "auth"
	ReasonRateLimit       Reason = "rate_limit"
	ReasonUnavailable     Reason = "unavailable"
	ReasonInvalidResponse Reason = "invalid_response"
	ReasonGeneric         Reason = "generic"
)

// Error is a classified domain error. Msg is safe to show to API callers.
type Error struct {
	Kind   Kind
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidRange      = &Error{Kind: KindInvalidRange}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrProvider          = &Error{Kind: KindProvider}
	ErrValidation        = &Error{Kind: KindValidation}
)

// NotFound reports a missing entity. Entities owned by another user are reported the same way.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s not found: %s", entity, id)}
}

// InvalidRange reports a range outside [0, length] or with start >= end.
func InvalidRange(start, end, length int) error {
	return &Error{Kind: KindInvalidRange, Msg: fmt.Sprintf("invalid range [%d,%d) for text of length %d", start, end, length)}
}

// InvalidRangef reports an invalid offset-related value with a custom message.
func InvalidRangef(format string, args ...any) error {
	return &Error{Kind: KindInvalidRange, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation attempted in the wrong lifecycle state.
func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate unique field.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedFormat reports input the parser cannot handle.
func UnsupportedFormat(mimeType, ext string) error {
	return &Error{Kind: KindUnsupportedFormat, Msg: fmt.Sprintf("unsupported format: mime=%q ext=%q", mimeType, ext)}
}

// Validation reports a malformed request value.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Provider wraps an LLM provider failure with its sub-reason.
func Provider(reason Reason, msg string, err error) error {
	return &Error{Kind: KindProvider, Reason: reason, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ReasonOf returns the provider Reason of err, or "".
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// HTTPStatus maps err to an HTTP status code. Unclassified errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRange, KindValidation:
		return http.StatusBadRequest
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
