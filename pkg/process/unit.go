package process

import (
	"fmt"

	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
)

// Unit is the execution sandbox running one program. The kernel talks to a
// unit only through these methods and the Host it hands over in Start.
type Unit interface {
	// Start begins running the program. It must not block on the program.
	Start(msg protocol.StartProcess, host Host) error

	// Deliver hands the unit the result of one of its syscalls.
	Deliver(res protocol.SyscallResult)

	// Signal notifies the unit of a signal that did not kill it.
	Signal(sig ipc.Signal)

	// Terminate stops the unit. Pending syscalls of a terminated unit are
	// never answered. Terminate may be called more than once.
	Terminate()
}

// Host is the kernel as seen from a unit.
type Host interface {
	// Syscall submits a request. The result arrives later through
	// Unit.Deliver with the same sequence number.
	Syscall(req protocol.SyscallRequest)

	// Finished reports that the program ended without calling exit. value
	// is its exit value, a *protocol.ErrorValue for a crash.
	Finished(value any)
}

// Launcher creates units for program text.
type Launcher interface {
	// Recognizes reports whether code is a program this launcher can run.
	Recognizes(code string) bool

	// NewUnit creates a unit for code. The unit is not started.
	NewUnit(code string) (Unit, error)
}

// SignalExit is the exit value of a process killed by a signal.
type SignalExit struct {
	Signal ipc.Signal `json:"signal"`
}

func (s SignalExit) String() string {
	return fmt.Sprintf("killed by %s", s.Signal)
}

// InterruptBehavior is what a process does on the interrupt signal.
type InterruptBehavior string

const (
	// InterruptExit makes interrupt lethal. It is the default.
	InterruptExit InterruptBehavior = "EXIT"
	// InterruptIgnore discards interrupts.
	InterruptIgnore InterruptBehavior = "IGNORE"
	// InterruptHandle rejects every pending syscall with kerr.ErrInterrupted.
	InterruptHandle InterruptBehavior = "HANDLE"
)
