package kerr

import (
	"errors"
	"testing"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", ErrWouldBlock, ErrWouldBlock, true},
		{"same code", WithCode(CodeWouldBlock, "pipe empty"), ErrWouldBlock, true},
		{"different code", ErrIsDirectory, ErrNotDirectory, false},
		{"same message", New("no such fd"), ErrNoSuchFD, true},
		{"wrapped", Wrap(ErrNoSuchFile, "/etc/passwd"), ErrNoSuchFile, true},
		{"code vs message", ErrWouldBlock, ErrNoSuchFile, false},
		{"interrupted", ErrInterrupted, ErrWouldBlock, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestWaitError(t *testing.T) {
	crash := errors.New("index out of range")
	err := error(&WaitError{PID: 7, Err: crash})

	if !errors.Is(err, crash) {
		t.Error("WaitError should unwrap to the child's error")
	}

	var we *WaitError
	if !errors.As(err, &we) || we.PID != 7 {
		t.Errorf("errors.As() PID = %v, want 7", we)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(Wrap(ErrNotDirectory, "/bin/sh")); got != CodeNotDir {
		t.Errorf("CodeOf() = %q, want %q", got, CodeNotDir)
	}
	if got := CodeOf(ErrInterrupted); got != CodeNone {
		t.Errorf("CodeOf(ErrInterrupted) = %q, want empty", got)
	}
}
