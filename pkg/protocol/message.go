package protocol

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Protocol errors.
var (
	// ErrInvalidMessage is returned when a line is not a JSON object.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidKind is returned when a message has no known top-level key.
	ErrInvalidKind = errors.New("invalid message kind")
	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// StartProcess starts a program in a fresh execution unit.
type StartProcess struct {
	ProgramName string   `json:"programName"`
	Code        string   `json:"code"`
	Args        []string `json:"args"`
	PID         int      `json:"pid"`
}

// SyscallRequest is one syscall issued by a unit.
type SyscallRequest struct {
	Syscall     string         `json:"syscall"`
	Arg         map[string]any `json:"arg"`
	SequenceNum int            `json:"sequenceNum"`
}

// SyscallResult answers the request with the same sequence number. Exactly
// one of Success and Err is meaningful; Err wins when set.
type SyscallResult struct {
	SequenceNum int
	Success     any
	Err         error
}

// Message is one message on the unit boundary.
type Message struct {
	Kind    Kind
	Start   *StartProcess
	Syscall *SyscallRequest
	Result  *SyscallResult
	Signal  string
}

// Encode encodes the message as one JSON object without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	out := []byte("{}")
	var err error

	switch m.Kind {
	case KindStartProcess:
		if m.Start == nil {
			return nil, fmt.Errorf("%w: empty startProcess", ErrInvalidMessage)
		}
		args := m.Start.Args
		if args == nil {
			args = []string{}
		}
		out, err = setAll(out, "startProcess",
			field{"programName", m.Start.ProgramName},
			field{"code", m.Start.Code},
			field{"args", args},
			field{"pid", m.Start.PID})

	case KindSyscall:
		if m.Syscall == nil {
			return nil, fmt.Errorf("%w: empty syscall", ErrInvalidMessage)
		}
		arg := any(m.Syscall.Arg)
		if m.Syscall.Arg == nil {
			arg = map[string]any{}
		}
		out, err = setAll(out, "syscall",
			field{"syscall", m.Syscall.Syscall},
			field{"arg", arg},
			field{"sequenceNum", m.Syscall.SequenceNum})

	case KindSyscallResult:
		if m.Result == nil {
			return nil, fmt.Errorf("%w: empty syscallResult", ErrInvalidMessage)
		}
		if m.Result.Err != nil {
			out, err = setAll(out, "syscallResult",
				field{"error", FromError(m.Result.Err)},
				field{"sequenceNum", m.Result.SequenceNum})
		} else {
			out, err = setAll(out, "syscallResult",
				field{"success", m.Result.Success},
				field{"sequenceNum", m.Result.SequenceNum})
		}

	case KindSignal:
		out, err = sjson.SetBytes(out, "signal.signal", m.Signal)

	default:
		return nil, ErrInvalidKind
	}

	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	if len(out) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return out, nil
}

// Decode decodes one JSON object into the message.
func (m *Message) Decode(data []byte) error {
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if !gjson.ValidBytes(data) {
		return ErrInvalidMessage
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return ErrInvalidMessage
	}

	*m = Message{}

	if r := root.Get("startProcess"); r.Exists() {
		m.Kind = KindStartProcess
		m.Start = &StartProcess{
			ProgramName: r.Get("programName").String(),
			Code:        r.Get("code").String(),
			PID:         int(r.Get("pid").Int()),
		}
		for _, a := range r.Get("args").Array() {
			m.Start.Args = append(m.Start.Args, a.String())
		}
		return nil
	}

	if r := root.Get("syscall"); r.Exists() {
		m.Kind = KindSyscall
		m.Syscall = &SyscallRequest{
			Syscall:     r.Get("syscall").String(),
			Arg:         map[string]any{},
			SequenceNum: int(r.Get("sequenceNum").Int()),
		}
		if arg, ok := r.Get("arg").Value().(map[string]any); ok {
			m.Syscall.Arg = arg
		}
		return nil
	}

	if r := root.Get("syscallResult"); r.Exists() {
		m.Kind = KindSyscallResult
		m.Result = &SyscallResult{SequenceNum: int(r.Get("sequenceNum").Int())}
		if e := r.Get("error"); e.Exists() && e.Type != gjson.Null {
			m.Result.Err = parseErrorValue(e).ToError()
		} else {
			m.Result.Success = r.Get("success").Value()
		}
		return nil
	}

	if r := root.Get("signal"); r.Exists() {
		m.Kind = KindSignal
		m.Signal = r.Get("signal").String()
		return nil
	}

	return ErrInvalidKind
}

type field struct {
	key   string
	value any
}

func setAll(out []byte, prefix string, fields ...field) ([]byte, error) {
	var err error
	for _, f := range fields {
		out, err = sjson.SetBytes(out, prefix+"."+f.key, f.value)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
