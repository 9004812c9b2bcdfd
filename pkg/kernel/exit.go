package kernel

import (
	"context"
	"strconv"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
)

// initPID is the pid orphans are reparented to.
const initPID = 1

// ChildExit is the result of waiting for any child.
type ChildExit struct {
	PID       int `json:"pid"`
	ExitValue any `json:"exitValue"`
}

// exitProcess ends p with value. It closes the fds, stops the unit, rejects
// pending syscalls, hands the children to init and releases the session's
// terminal if p leads the session. Later calls for the same process do
// nothing.
func (s *System) exitProcess(p *process.Process, value any, reason string) {
	took, err := p.OnExit(value)
	if !took {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int("pid", p.PID()).Msg("closing fds on exit")
	}

	s.mu.Lock()
	orphans := p.TakeChildren()
	if reaper, ok := s.procs.Get(initPID); ok && reaper != p {
		for _, pid := range orphans {
			if child, ok := s.procs.Get(pid); ok {
				child.SetPPID(initPID)
				reaper.AddChild(pid)
			}
		}
	} else {
		for _, pid := range orphans {
			if child, ok := s.procs.Get(pid); ok {
				child.SetPPID(0)
				if child.IsZombie() {
					s.procs.Remove(pid)
				}
			}
		}
	}

	hangup := 0
	if p.IsSessionLeader() {
		if t, ok := s.sessions[p.SID()]; ok {
			delete(s.sessions, p.SID())
			hangup = t.Detach()
		}
	}

	if err := p.TransitionTo(process.StateZombie); err != nil {
		s.log.Error().Err(err).Int("pid", p.PID()).Msg("exit transition")
	}
	if p.PPID() == 0 {
		// Nobody can collect it.
		s.procs.Remove(p.PID())
	}
	s.metrics.Processes.Set(float64(s.procs.Len()))
	s.waiters.Wakeup(queueExit)
	s.mu.Unlock()

	s.metrics.ProcessesExited.WithLabelValues(reason).Inc()
	s.log.Debug().Int("pid", p.PID()).Str("reason", reason).Int("orphans", len(orphans)).Msg("process exited")

	if hangup > 0 {
		s.SignalProcessGroup(hangup, ipc.SignalHangup)
	}
	if p.PID() == initPID {
		s.initExit = value
		close(s.initDone)
	}
}

// waitForChild suspends until the child pid, or any child when anyChild is
// set, is a zombie, then collects it.
func (s *System) waitForChild(ctx context.Context, p *process.Process, pid int, anyChild, nonBlocking bool) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *process.Process
	var failure error
	check := func() bool {
		found, failure = nil, nil
		children := p.Children()
		if anyChild {
			if len(children) == 0 {
				failure = kerr.ErrNoChildren
				return true
			}
			for _, c := range children {
				if cp, ok := s.procs.Get(c); ok && cp.IsZombie() {
					found = cp
					return true
				}
			}
			return false
		}

		if !p.HasChild(pid) {
			failure = kerr.Wrap(kerr.ErrNoSuchProcess, strconv.Itoa(pid))
			return true
		}
		if cp, ok := s.procs.Get(pid); ok && cp.IsZombie() {
			found = cp
			return true
		}
		return false
	}

	if !check() {
		if nonBlocking {
			return nil, kerr.ErrWouldBlock
		}
		if err := s.waiters.Wait(ctx, queueExit, check); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}

	s.procs.Remove(found.PID())
	p.RemoveChild(found.PID())
	s.metrics.Processes.Set(float64(s.procs.Len()))

	value, _ := found.ExitValue()
	if err, ok := value.(error); ok {
		return nil, &kerr.WaitError{PID: found.PID(), Err: err}
	}
	if anyChild {
		return ChildExit{PID: found.PID(), ExitValue: value}, nil
	}
	return value, nil
}

// exitValueFromWire turns the argument of the exit syscall into an exit
// value. A program error object sent over the wire becomes a crash again.
func exitValueFromWire(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if kind, _ := m["kind"].(string); kind == string(protocol.ErrorProgram) {
		msg, _ := m["message"].(string)
		return protocol.Crash(msg)
	}
	return v
}
