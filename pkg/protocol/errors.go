package protocol

import (
	"errors"

	"webkernel/pkg/kerr"

	"github.com/tidwall/gjson"
)

// ErrorKind distinguishes the error families that cross the unit boundary.
type ErrorKind string

// Error kinds.
const (
	// ErrorKernel is a kernel error with a message and optional code.
	ErrorKernel ErrorKind = "kernel"
	// ErrorInterrupted is the rejection of a pending syscall by an interrupt.
	ErrorInterrupted ErrorKind = "interrupted"
	// ErrorWaitFailed reports a waited-for child whose exit value is an error.
	ErrorWaitFailed ErrorKind = "waitFailed"
	// ErrorProgram is an error raised by a program itself, such as a crash.
	ErrorProgram ErrorKind = "program"
)

// ErrorValue is the wire form of an error. A program that crashes exits
// with an ErrorValue of kind ErrorProgram.
type ErrorValue struct {
	Message string      `json:"message"`
	Code    kerr.Code   `json:"code,omitempty"`
	Kind    ErrorKind   `json:"kind"`
	PID     int         `json:"pid,omitempty"`
	Cause   *ErrorValue `json:"cause,omitempty"`
}

// Crash returns the exit value of a program that failed with message.
func Crash(message string) *ErrorValue {
	return &ErrorValue{Message: message, Kind: ErrorProgram}
}

func (e *ErrorValue) Error() string {
	return e.Message
}

// FromError converts err to its wire form.
func FromError(err error) *ErrorValue {
	if err == nil {
		return nil
	}

	// The wait wrapper is checked first: errors.As would otherwise find the
	// child's own ErrorValue through WaitError.Unwrap.
	var we *kerr.WaitError
	if errors.As(err, &we) {
		return &ErrorValue{
			Message: we.Error(),
			Kind:    ErrorWaitFailed,
			PID:     we.PID,
			Cause:   FromError(we.Err),
		}
	}

	var ev *ErrorValue
	if errors.As(err, &ev) && ev.Kind == ErrorProgram {
		return ev
	}

	if errors.Is(err, kerr.ErrInterrupted) {
		return &ErrorValue{Message: err.Error(), Kind: ErrorInterrupted}
	}

	if ev != nil {
		return ev
	}

	return &ErrorValue{Message: err.Error(), Code: kerr.CodeOf(err), Kind: ErrorKernel}
}

// ToError converts the wire form back to an error that matches the kernel's
// sentinels with errors.Is and errors.As.
func (e *ErrorValue) ToError() error {
	if e == nil {
		return nil
	}

	switch e.Kind {
	case ErrorInterrupted:
		return kerr.ErrInterrupted
	case ErrorWaitFailed:
		var cause error = Crash("unknown error")
		if e.Cause != nil {
			cause = e.Cause.ToError()
		}
		return &kerr.WaitError{PID: e.PID, Err: cause}
	case ErrorProgram:
		return e
	default:
		return &kerr.Error{Message: e.Message, Code: e.Code}
	}
}

func parseErrorValue(r gjson.Result) *ErrorValue {
	if r.Type == gjson.String {
		return &ErrorValue{Message: r.String(), Kind: ErrorKernel}
	}

	ev := &ErrorValue{
		Message: r.Get("message").String(),
		Code:    kerr.Code(r.Get("code").String()),
		Kind:    ErrorKind(r.Get("kind").String()),
		PID:     int(r.Get("pid").Int()),
	}
	if ev.Kind == "" {
		ev.Kind = ErrorKernel
	}
	if c := r.Get("cause"); c.Exists() && c.IsObject() {
		ev.Cause = parseErrorValue(c)
	}
	return ev
}
