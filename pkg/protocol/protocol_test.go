package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"webkernel/pkg/kerr"
)

func TestMessageEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "start process",
			msg: Message{Kind: KindStartProcess, Start: &StartProcess{
				ProgramName: "cat", Code: "#!lua\nprint(1)", Args: []string{"a", "b c"}, PID: 7,
			}},
		},
		{
			name: "syscall",
			msg: Message{Kind: KindSyscall, Syscall: &SyscallRequest{
				Syscall: "write", Arg: map[string]any{"fd": float64(1), "text": "hi\n"}, SequenceNum: 3,
			}},
		},
		{
			name: "success result",
			msg: Message{Kind: KindSyscallResult, Result: &SyscallResult{
				SequenceNum: 4, Success: map[string]any{"pid": float64(2)},
			}},
		},
		{
			name: "null result",
			msg:  Message{Kind: KindSyscallResult, Result: &SyscallResult{SequenceNum: 5}},
		},
		{
			name: "signal",
			msg:  Message{Kind: KindSignal, Signal: "terminalResize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			var got Message
			if err := got.Decode(data); err != nil {
				t.Fatalf("Decode(%s) error = %v", data, err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestDecodeWireFormat(t *testing.T) {
	var m Message
	err := m.Decode([]byte(`{"syscall":{"syscall":"waitForExit","arg":{"pid":"ANY_CHILD"},"sequenceNum":9}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Kind != KindSyscall || m.Syscall.Syscall != "waitForExit" || m.Syscall.SequenceNum != 9 {
		t.Errorf("Decode() = %+v", m.Syscall)
	}
	if m.Syscall.Arg["pid"] != AnyChild {
		t.Errorf("arg pid = %v, want %q", m.Syscall.Arg["pid"], AnyChild)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `{"syscall":`, ErrInvalidMessage},
		{"array", `[1,2]`, ErrInvalidMessage},
		{"unknown key", `{"hello":{}}`, ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			if err := m.Decode([]byte(tt.input)); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestErrorRoundTrip(t *testing.T) {
	crash := Crash("attempt to index a nil value")

	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, got error)
	}{
		{"coded kernel error", kerr.ErrWouldBlock, func(t *testing.T, got error) {
			if !errors.Is(got, kerr.ErrWouldBlock) {
				t.Errorf("got %v, want WOULDBLOCK", got)
			}
		}},
		{"wrapped kernel error", kerr.Wrap(kerr.ErrNoSuchFile, "/x"), func(t *testing.T, got error) {
			if got.Error() != "no such file: /x" {
				t.Errorf("message = %q", got.Error())
			}
		}},
		{"interrupted", kerr.ErrInterrupted, func(t *testing.T, got error) {
			if !errors.Is(got, kerr.ErrInterrupted) {
				t.Errorf("got %v, want interrupted", got)
			}
		}},
		{"wait failed", &kerr.WaitError{PID: 5, Err: crash}, func(t *testing.T, got error) {
			var we *kerr.WaitError
			if !errors.As(got, &we) {
				t.Fatalf("got %T, want *kerr.WaitError", got)
			}
			if we.PID != 5 {
				t.Errorf("PID = %d, want 5", we.PID)
			}
			var ev *ErrorValue
			if !errors.As(we.Err, &ev) || ev.Message != crash.Message {
				t.Errorf("cause = %v, want %v", we.Err, crash)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Kind: KindSyscallResult, Result: &SyscallResult{SequenceNum: 1, Err: tt.err}}
			data, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			var got Message
			if err := got.Decode(data); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Result.Err == nil {
				t.Fatalf("decoded result has no error: %s", data)
			}
			tt.check(t, got.Result.Err)
		})
	}
}

func TestFromErrorKeepsWaitWrapper(t *testing.T) {
	got := FromError(&kerr.WaitError{PID: 7, Err: Crash("boom")})
	if got.Kind != ErrorWaitFailed {
		t.Fatalf("FromError().Kind = %q, want %q", got.Kind, ErrorWaitFailed)
	}
	if got.PID != 7 {
		t.Errorf("FromError().PID = %d, want 7", got.PID)
	}
	if got.Cause == nil || got.Cause.Kind != ErrorProgram || got.Cause.Message != "boom" {
		t.Errorf("FromError().Cause = %+v, want program error boom", got.Cause)
	}
}

func TestCodec(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	for i := 1; i <= 3; i++ {
		req := &SyscallRequest{Syscall: "getWorkingDirectory", SequenceNum: i}
		if err := enc.WriteMessage(Message{Kind: KindSyscall, Syscall: req}); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		buf.WriteString("\n")
	}

	dec := NewDecoder(&buf)
	for i := 1; i <= 3; i++ {
		m, err := dec.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if m.Syscall.SequenceNum != i {
			t.Errorf("SequenceNum = %d, want %d", m.Syscall.SequenceNum, i)
		}
	}
	if _, err := dec.ReadMessage(); err != io.EOF {
		t.Errorf("ReadMessage() at end error = %v, want io.EOF", err)
	}
}

func TestDecoderRejectsGarbage(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n"))
	if _, err := dec.ReadMessage(); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("ReadMessage() error = %v, want %v", err, ErrInvalidMessage)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		in     any
		want   int
		wantOK bool
	}{
		{3, 3, true},
		{float64(4), 4, true},
		{float64(4.5), 0, false},
		{"4", 0, false},
		{nil, 0, false},
	}

	for _, tt := range tests {
		got, ok := Int(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Int(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalize(t *testing.T) {
	type info struct {
		PID  int    `json:"pid"`
		Name string `json:"name"`
	}

	got, err := Normalize(info{PID: 3, Name: "sh"})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := map[string]any{"pid": float64(3), "name": "sh"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %#v, want %#v", got, want)
	}

	if got := FormatValue([]int{1, 2}); got != "[1,2]" {
		t.Errorf("FormatValue() = %q, want %q", got, "[1,2]")
	}
}
