package kernel

import (
	"strconv"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
)

// SendSignal delivers sig to pid.
func (s *System) SendSignal(sig ipc.Signal, pid int) error {
	s.mu.Lock()
	p, ok := s.procs.Get(pid)
	s.mu.Unlock()
	if !ok || p.Exited() {
		return kerr.Wrap(kerr.ErrNoSuchProcess, strconv.Itoa(pid))
	}
	s.deliver(p, sig)
	return nil
}

// SendSignalToProcessGroup delivers sig to every live member of pgid.
func (s *System) SendSignalToProcessGroup(sig ipc.Signal, pgid int) error {
	s.mu.Lock()
	members := s.procs.Group(pgid)
	s.mu.Unlock()
	if len(members) == 0 {
		return kerr.Wrap(kerr.ErrNoSuchGroup, strconv.Itoa(pgid))
	}
	for _, p := range members {
		s.deliver(p, sig)
	}
	return nil
}

// SignalProcessGroup implements pty.Host.
func (s *System) SignalProcessGroup(pgid int, sig ipc.Signal) {
	if err := s.SendSignalToProcessGroup(sig, pgid); err != nil {
		s.log.Debug().Err(err).Str("signal", sig.String()).Msg("terminal signal dropped")
	}
}

func (s *System) deliver(p *process.Process, sig ipc.Signal) {
	lethal := sig.AlwaysLethal()
	switch {
	case lethal:
	case sig == ipc.SignalInterrupt:
		lethal = p.ReceiveInterruptSignal()
	default:
		p.Notify(sig)
	}

	s.log.Debug().Int("pid", p.PID()).Str("signal", sig.String()).Bool("lethal", lethal).Msg("signal")
	if lethal {
		s.exitProcess(p, process.SignalExit{Signal: sig}, "signal")
	}
}
