package station

import (
	"errors"
	"fmt"
)

// Code names a failure class reported by the station.
type Code string

const (
	CodeFilterError       Code = "FILTER_ERROR"
	CodeServerNotStarted  Code = "SERVER_NOT_STARTED"
	CodeNoTargetServer    Code = "NO_TARGET_SERVER"
	CodeFailFindMailbox   Code = "FAIL_FIND_MAILBOX"
	CodeFailSendMessage   Code = "FAIL_SEND_MESSAGE"
	CodeFailConnectServer Code = "FAIL_CONNECT_SERVER"
)

// Error is a dispatch failure. It matches the sentinel of its code with
// errors.Is and unwraps to the underlying cause.
type Error struct {
	Code     Code
	ServerID string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rpc %s (server %q)", e.Code, e.ServerID)
	}
	return fmt.Sprintf("rpc %s (server %q): %v", e.Code, e.ServerID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrFilter           = &Error{Code: CodeFilterError}
	ErrServerNotStarted = &Error{Code: CodeServerNotStarted}
	ErrNoTargetServer   = &Error{Code: CodeNoTargetServer}
	ErrFailFindMailbox  = &Error{Code: CodeFailFindMailbox}
	ErrFailSendMessage  = &Error{Code: CodeFailSendMessage}
	ErrFailConnect      = &Error{Code: CodeFailConnectServer}
)

var (
	ErrAlreadyStarted = errors.New("station has started")
	errNotRunning     = errors.New("station is not running")
	errUnknownServer  = errors.New("unknown server")
	errServerRemoved  = errors.New("server removed before connecting")
	errStopped        = errors.New("station stopped before connecting")
	errNoMailbox      = errors.New("no mailbox for server")
)
