package ipc

import (
	"webkernel/pkg/kerr"
)

// Signal is a signal name as it appears on the syscall boundary.
type Signal string

const (
	// SignalKill terminates the process.
	SignalKill Signal = "kill"
	// SignalHangup is sent when the controlling terminal goes away.
	SignalHangup Signal = "hangup"
	// SignalInterrupt is sent when Ctrl+C is pressed.
	SignalInterrupt Signal = "interrupt"
	// SignalTerminalResize notifies the process of a new terminal size.
	SignalTerminalResize Signal = "terminalResize"
)

// ParseSignal validates a signal name.
func ParseSignal(name string) (Signal, error) {
	switch s := Signal(name); s {
	case SignalKill, SignalHangup, SignalInterrupt, SignalTerminalResize:
		return s, nil
	default:
		return "", kerr.Wrap(kerr.ErrInvalidSignalName, name)
	}
}

// AlwaysLethal reports whether the signal terminates its target whatever
// the target's interrupt behavior.
func (s Signal) AlwaysLethal() bool {
	return s == SignalKill || s == SignalHangup
}

func (s Signal) String() string {
	return string(s)
}
