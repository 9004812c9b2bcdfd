// Package kerr defines the errors the kernel surfaces to processes.
//
// Every syscall failure is a value. Most failures are a *Error carrying a
// human-readable message and an optional symbolic code; two failures are
// distinguished by type so callers can branch on them: ErrInterrupted, which
// rejects a pending syscall when its process handles the interrupt signal,
// and *WaitError, which wraps the exit value of a child that crashed.
package kerr

import (
	"errors"
	"fmt"
)

// Code is a symbolic error code.
type Code string

// Error codes.
const (
	CodeNone       Code = ""
	CodeWouldBlock Code = "WOULDBLOCK"
	CodeSPipe      Code = "SPIPE"
	CodeIsDir      Code = "ISDIR"
	CodeNotDir     Code = "NOTDIR"
	CodePipe       Code = "EPIPE"
	CodeInvalid    Code = "EINVAL"
)

// Error is a kernel error.
type Error struct {
	Message string
	Code    Code
}

// New returns an error without a code.
func New(message string) *Error {
	return &Error{Message: message}
}

// WithCode returns an error carrying a symbolic code.
func WithCode(code Code, message string) *Error {
	return &Error{Message: message, Code: code}
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors with the same code, or the same message when neither
// side has a code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != CodeNone || t.Code != CodeNone {
		return e.Code == t.Code
	}
	return e.Message == t.Message
}

// Errors returned by the kernel.
var (
	ErrWouldBlock        = WithCode(CodeWouldBlock, "operation would block")
	ErrNotSeekable       = WithCode(CodeSPipe, "file is not seekable")
	ErrIsDirectory       = WithCode(CodeIsDir, "is a directory")
	ErrNotDirectory      = WithCode(CodeNotDir, "not a directory")
	ErrReadEndClosed     = WithCode(CodePipe, "read-end is closed")
	ErrInvalidArgument   = WithCode(CodeInvalid, "invalid syscall argument")
	ErrNoSuchFile        = New("no such file")
	ErrNoSuchFD          = New("no such fd")
	ErrNoSuchProcess     = New("no such process")
	ErrNoSuchGroup       = New("no such process group")
	ErrNoChildren        = New("no child processes")
	ErrNoSuchProgram     = New("no such program file")
	ErrNotRunnable       = New("file is not runnable")
	ErrNoSuchSyscall     = New("no such syscall")
	ErrMissingArgument   = New("missing syscall argument")
	ErrUnexpectedArg     = New("unexpected syscall argument")
	ErrNotPermitted      = New("operation not permitted")
	ErrNoTerminal        = New("session has no pseudoterminal")
	ErrTerminalExists    = New("session already has a pseudoterminal")
	ErrBadFileMode       = New("file not open in a compatible mode")
	ErrNotSupported      = New("operation not supported by file")
	ErrFileExists        = New("file exists")
	ErrNoGraphics        = New("no graphics display available")
	ErrBadDeviceRequest  = New("invalid device request")
	ErrProcessExited     = New("process has exited")
	ErrAlreadyDelivered  = New("syscall result already delivered")
	ErrInvalidSignalName = New("invalid signal")
	ErrKernelFault       = New("kernel fault")
)

// ErrInterrupted rejects the pending syscalls of a process that handles the
// interrupt signal.
var ErrInterrupted = errors.New("process interrupted")

// WaitError reports that the child a wait collected exited with an error value.
type WaitError struct {
	PID int
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait failed: child %d errored: %v", e.PID, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return CodeNone
}

// Wrap annotates a sentinel with detail while keeping it matchable with errors.Is.
func Wrap(sentinel *Error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}
