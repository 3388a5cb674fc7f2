package session

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout              = errors.New("session: request timed out")
	ErrRequestRejected      = errors.New("session: request rejected")
	ErrUnexpectedDisconnect = errors.New("session: socket closed unexpectedly")
	ErrKickoff              = errors.New("session: signed in from another place")
	ErrBusyRelogin          = errors.New("session: last login request not finished")
	ErrVersionUnsupported   = errors.New("session: server version not supported")
	ErrVersionUnknown       = errors.New("session: server version unknown")
	ErrLoginFailed          = errors.New("session: login result is not success")
	ErrNotConnected         = errors.New("session: not connected")
	ErrClosed               = errors.New("session: connection closed")
	ErrPrincipalRequired    = errors.New("session: user is not set")
	ErrInvalidTransition    = errors.New("session: invalid state transition")
	ErrPasswordUnsupported  = errors.New("session: password change not supported for ldap users")
)

// Error codes surfaced to user-facing layers.
const (
	CodeSocketClosed = "SOCKET_CLOSED"
	CodeServerBusy   = "SERVER_IS_BUSY"
	CodeUserRequired = "USER_INFO_REQUIRED"
)

// Close reasons the session attaches to local closes.
const (
	ReasonClose       = "close"
	ReasonLogout      = "logout"
	ReasonKickoff     = "KICKOFF"
	ReasonPingTimeout = "ping_timeout"
	ReasonRelogin     = "relogin"
	ReasonLoginFailed = "login_failed"
)

const disconnectHint = "Usually because the server encountered an unhandled error."

// DisconnectError reports a close that was not requested locally while a
// login or request was outstanding.
type DisconnectError struct {
	Code   int
	Reason string
	Hint   string
}

func newDisconnectError(code int, reason string) *DisconnectError {
	return &DisconnectError{Code: code, Reason: reason, Hint: disconnectHint}
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("%s: %s (code=%d reason=%q)", ErrUnexpectedDisconnect, CodeSocketClosed, e.Code, e.Reason)
}

func (e *DisconnectError) Unwrap() error { return ErrUnexpectedDisconnect }

// ErrorCode maps session errors to their stable code string.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpectedDisconnect):
		return CodeSocketClosed
	case errors.Is(err, ErrBusyRelogin):
		return CodeServerBusy
	case errors.Is(err, ErrPrincipalRequired):
		return CodeUserRequired
	case errors.Is(err, ErrKickoff):
		return ReasonKickoff
	case errors.Is(err, ErrVersionUnsupported):
		return "SERVER_VERSION_NOT_SUPPORT"
	case errors.Is(err, ErrVersionUnknown):
		return "SERVER_VERSION_UNKNOWN"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	default:
		return ""
	}
}
