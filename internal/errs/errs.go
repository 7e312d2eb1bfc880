// Package errs defines the core error taxonomy shared by every package in
// this module. Callers branch on Kind (and the Retriable flag it implies)
// instead of on Go error types, so retry/fallback logic never needs to know
// which package produced a failure.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of failure classes propagated from every core
// call. See the table in spec §7.
type Kind string

const (
	Validation Kind = "VALIDATION"
	Auth       Kind = "AUTH"
	Permission Kind = "PERMISSION"
	NotFound   Kind = "NOT_FOUND"
	Conflict   Kind = "CONFLICT"
	RateLimit  Kind = "RATE_LIMIT"
	Timeout    Kind = "TIMEOUT"
	Capacity   Kind = "CAPACITY"
	Provider   Kind = "PROVIDER"
	Internal   Kind = "INTERNAL"
)

// retriableByDefault captures the "Retriable" column of the taxonomy table.
// RATE_LIMIT and TIMEOUT are retriable by default; CAPACITY and PROVIDER are
// conditional and must be set explicitly by the caller via WithRetriable.
var retriableByDefault = map[Kind]bool{
	Validation: false,
	Auth:       false,
	Permission: false,
	NotFound:   false,
	Conflict:   false,
	RateLimit:  true,
	Timeout:    true,
	Capacity:   false,
	Provider:   false,
	Internal:   false,
}

// Error is the structured error every core function returns instead of an
// opaque error value. Message may contain operator detail; UserMessage must
// be safe to display verbatim (no stack traces, SQL, or provider strings).
type Error struct {
	Kind        Kind
	Message     string
	UserMessage string
	Details     map[string]any
	Retriable   bool
	Suggestions []string
	RetryAfterMS int64

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with the taxonomy's default
// retriability.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:        kind,
		Message:     message,
		UserMessage: defaultUserMessage(kind),
		Retriable:   retriableByDefault[kind],
	}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.cause = cause
	return e
}

// WithRetriable overrides the default retriability (used by CAPACITY and
// PROVIDER, whose retriability depends on the specific sub-code).
func (e *Error) WithRetriable(r bool) *Error {
	e.Retriable = r
	return e
}

// WithUserMessage overrides the safe-to-display message.
func (e *Error) WithUserMessage(msg string) *Error {
	e.UserMessage = msg
	return e
}

// WithDetails attaches operator-only structured detail.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// WithRetryAfter attaches a retry hint in milliseconds (RATE_LIMIT).
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfterMS = ms
	return e
}

// WithSuggestions attaches actionable suggestions for the caller.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = s
	return e
}

func defaultUserMessage(kind Kind) string {
	switch kind {
	case Validation:
		return "The request was invalid."
	case Auth:
		return "Authentication failed."
	case Permission:
		return "You do not have permission to perform this action."
	case NotFound:
		return "The requested resource was not found."
	case Conflict:
		return "The operation conflicts with the current state."
	case RateLimit:
		return "Too many requests. Please try again shortly."
	case Timeout:
		return "The operation timed out."
	case Capacity:
		return "No suitable model is currently available."
	case Provider:
		return "The model provider returned an error."
	default:
		return "An internal error occurred."
	}
}

// As extracts an *Error from err, returning (nil, false) if err does not
// wrap one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetriable reports whether err is (or wraps) an Error marked retriable.
func IsRetriable(err error) bool {
	e, ok := As(err)
	return ok && e.Retriable
}

// KindOf returns the Kind of err, or Internal if err is not a taxonomy error.
func KindOf(err error) Kind {
	e, ok := As(err)
	if !ok {
		return Internal
	}
	return e.Kind
}
