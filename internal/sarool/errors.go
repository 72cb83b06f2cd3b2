package sarool

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the remote client.
type Kind string

const (
	// KindConfiguration means credentials were missing or conflicting; no I/O happened.
	KindConfiguration Kind = "configuration"
	// KindAuthentication covers wrong credentials, locked accounts and rejected tokens.
	KindAuthentication Kind = "authentication"
	// KindConnection covers DNS, TLS, timeouts, resets and cancellation.
	KindConnection Kind = "connection"
	// KindInvalidRequest means the server rejected the schedule range or lost the student record.
	KindInvalidRequest Kind = "invalid_request"
	// KindAPI is any other unexpected status or undecodable body.
	KindAPI Kind = "api"
)

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrAPI            = &Error{Kind: KindAPI}
)

// Error is the envelope returned by every Client method.
type Error struct {
	Kind    Kind
	Op      string // endpoint, e.g. "F3"
	Status  int    // HTTP status when one was received
	Message string

	cause error
}

func newError(kind Kind, op string, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Op != "" {
		msg = "sarool " + e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
