package protocol

// Kind identifies the type of a message by its top-level key.
type Kind string

// Message kinds.
const (
	// KindInvalid represents an invalid or unspecified message.
	KindInvalid Kind = ""
	// KindStartProcess starts a program (kernel → unit).
	KindStartProcess Kind = "startProcess"
	// KindSyscall is a syscall request (unit → kernel).
	KindSyscall Kind = "syscall"
	// KindSyscallResult answers one syscall request (kernel → unit).
	KindSyscallResult Kind = "syscallResult"
	// KindSignal notifies the unit of a non-lethal signal (kernel → unit).
	KindSignal Kind = "signal"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == KindInvalid {
		return "INVALID"
	}
	return string(k)
}

// IsValid checks if the kind is a known message kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindStartProcess, KindSyscall, KindSyscallResult, KindSignal:
		return true
	default:
		return false
	}
}
