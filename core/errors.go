package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration failures.
type ErrorKind string

const (
	// KindRemoteCallExhausted means every attempt of a resilient call failed.
	KindRemoteCallExhausted ErrorKind = "remote_call_exhausted"
	// KindResponseParse means the call succeeded but its payload could not be parsed.
	KindResponseParse ErrorKind = "response_parse_error"
	// KindNoValidVotes means a consensus round produced zero usable votes.
	KindNoValidVotes ErrorKind = "no_valid_votes"
	// KindUnknownRole means a request referenced a role that does not exist.
	KindUnknownRole ErrorKind = "unknown_role"
	// KindCanceled means the caller's context ended before the call finished.
	KindCanceled ErrorKind = "canceled"
	// KindInvalidInput means the request was rejected before any remote call.
	KindInvalidInput ErrorKind = "invalid_input"
)

// Sentinels for errors.Is matching against a CallError kind.
var (
	ErrRemoteCallExhausted = &CallError{Kind: KindRemoteCallExhausted}
	ErrResponseParse       = &CallError{Kind: KindResponseParse}
	ErrNoValidVotes        = &CallError{Kind: KindNoValidVotes, Message: "no agent returned a valid vote"}
	ErrUnknownRole         = &CallError{Kind: KindUnknownRole}
	ErrCanceled            = &CallError{Kind: KindCanceled}
	ErrInvalidInput        = &CallError{Kind: KindInvalidInput}
)

// CallError is the typed failure produced at component boundaries.
type CallError struct {
	Kind     ErrorKind `json:"kind"`
	Agent    string    `json:"agent,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Agent != "" && e.Attempts > 0:
		return fmt.Sprintf("%s: %s after %d attempt(s): %s", e.Kind, e.Agent, e.Attempts, msg)
	case e.Agent != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Agent, msg)
	case e.Attempts > 0:
		return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error { return e.Err }

// Is matches any CallError of the same kind, so sentinels work with errors.Is.
func (e *CallError) Is(target error) bool {
	var t *CallError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewParseError builds a ResponseParseError for the given agent.
func NewParseError(agent string, err error) *CallError {
	return &CallError{Kind: KindResponseParse, Agent: agent, Message: err.Error(), Err: err}
}

// InvalidInput builds an InvalidInput error with a formatted message.
func InvalidInput(format string, args ...any) *CallError {
	return &CallError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, or "" when err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
