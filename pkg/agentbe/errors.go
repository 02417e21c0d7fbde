package agentbe

import (
	"errors"
	"fmt"
)

// Kind is the stable, wire-level error kind enum (§7).
type Kind string

const (
	KindPathEscape       Kind = "path-escape"
	KindEmptyCommand     Kind = "empty-command"
	KindDangerousOp      Kind = "dangerous-operation"
	KindUnsafeCommand    Kind = "unsafe-command"
	KindExecFailed       Kind = "exec-failed"
	KindReadFailed       Kind = "read-failed"
	KindWriteFailed      Kind = "write-failed"
	KindLsFailed         Kind = "ls-failed"
	KindConnectionClosed Kind = "connection-closed"
	KindTimeout          Kind = "timeout"
	KindNotImplemented   Kind = "not-implemented"
)

// Error is the single concrete error type used throughout the core. It
// formats as "<kind>: <message>" or "<kind>: <message>: <cause>" when a
// cause is present.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func NewPathEscapeError(path, root string) *Error {
	return NewError(KindPathEscape, fmt.Sprintf("path %q escapes root %q", path, root), nil)
}

func NewEmptyCommandError() *Error {
	return NewError(KindEmptyCommand, "command cannot be empty", nil)
}

func NewDangerousOperationError(command string) *Error {
	return NewError(KindDangerousOp, fmt.Sprintf("command matched dangerous-operation denylist: %s", command), nil)
}

func NewUnsafeCommandError(command, reason string) *Error {
	if reason == "" {
		reason = "command failed safety check"
	}
	return NewError(KindUnsafeCommand, reason, fmt.Errorf("command: %s", command))
}

func NewExecFailedError(command string, exitCode int, stderr string) *Error {
	return NewError(KindExecFailed,
		fmt.Sprintf("command execution failed with exit code %d: %s", exitCode, stderr),
		fmt.Errorf("command: %s", command))
}

func NewReadFailedError(path string, cause error) *Error {
	return NewError(KindReadFailed, fmt.Sprintf("failed to read path: %s", path), cause)
}

func NewWriteFailedError(path string, cause error) *Error {
	return NewError(KindWriteFailed, fmt.Sprintf("failed to write path: %s", path), cause)
}

func NewLsFailedError(path string, cause error) *Error {
	return NewError(KindLsFailed, fmt.Sprintf("failed to read directory: %s", path), cause)
}

func NewConnectionClosedError() *Error {
	return NewError(KindConnectionClosed, "backend is destroyed", nil)
}

func NewTimeoutError(operation string) *Error {
	return NewError(KindTimeout, fmt.Sprintf("%s timed out", operation), nil)
}
