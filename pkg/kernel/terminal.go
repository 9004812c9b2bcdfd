package kernel

import (
	"context"
	"strconv"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/pty"
	"webkernel/pkg/vfs"
)

// createTerminal creates a terminal owned by p's session and registers its
// slave as /dev/pts/n. p must lead both its session and its group.
func (s *System) createTerminal(p *process.Process) (*pty.PseudoTerminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.IsSessionLeader() || !p.IsGroupLeader() {
		return nil, kerr.Wrap(kerr.ErrNotPermitted, "only a session and group leader may create a pseudoterminal")
	}
	if _, ok := s.sessions[p.SID()]; ok {
		return nil, kerr.ErrTerminalExists
	}

	n := s.nextPty
	s.nextPty++
	size := pty.Size{Cols: s.cfg.TerminalCols, Rows: s.cfg.TerminalRows}
	t := pty.New(n, p.PGID(), size, s)
	if err := s.pts.Link(strconv.Itoa(n), t.Slave()); err != nil {
		return nil, err
	}
	s.terminals[n] = t
	s.sessions[p.SID()] = t

	s.log.Debug().Int("pts", n).Int("sid", p.SID()).Msg("pseudoterminal created")
	return t, nil
}

// ReleaseTerminal implements pty.Host. It runs when the master closes.
func (s *System) ReleaseTerminal(t *pty.PseudoTerminal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.terminals, t.Index())
	for sid, owned := range s.sessions {
		if owned == t {
			delete(s.sessions, sid)
		}
	}
	s.pts.Unlink(strconv.Itoa(t.Index()))
	s.log.Debug().Int("pts", t.Index()).Msg("pseudoterminal released")
}

// sessionTerminal returns the terminal owned by session sid.
func (s *System) sessionTerminal(sid int) (*pty.PseudoTerminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sessions[sid]
	if !ok {
		return nil, kerr.ErrNoTerminal
	}
	return t, nil
}

// Terminals returns the number of registered terminals.
func (s *System) Terminals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminals)
}

// openInstall opens f for p and installs the descriptor.
func (s *System) openInstall(p *process.Process, f vfs.File, mode vfs.Mode) (int, error) {
	fd, err := vfs.Open(s.files, f, p, mode)
	if err != nil {
		return 0, err
	}
	n, err := p.InstallFD(fd)
	if err != nil {
		fd.Close()
		return 0, err
	}
	return n, nil
}

func (s *System) procCreatePseudoTerminal(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	t, err := s.createTerminal(p)
	if err != nil {
		return nil, err
	}
	n, err := s.openInstall(p, t.Master(), vfs.ModeReadWrite)
	if err != nil {
		s.ReleaseTerminal(t)
		return nil, err
	}
	return n, nil
}

func (s *System) procOpenPseudoTerminalSlave(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	t, err := s.sessionTerminal(p.SID())
	if err != nil {
		return nil, err
	}
	return s.openInstall(p, t.Slave(), vfs.ModeReadWrite)
}

func (s *System) procConfigurePseudoTerminal(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	t, err := s.sessionTerminal(p.SID())
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "exactly one request expected")
	}
	return t.Control(ctx, p, args)
}

// ptmxDevice is /dev/ptmx: opening it creates a terminal for the caller's
// session and yields its master.
type ptmxDevice struct {
	vfs.BaseFile
	s *System
}

func (d ptmxDevice) OpenDevice(c vfs.Caller, _ vfs.Mode) (vfs.File, error) {
	p, err := d.s.Process(c.PID())
	if err != nil {
		return nil, err
	}
	t, err := d.s.createTerminal(p)
	if err != nil {
		return nil, err
	}
	return t.Master(), nil
}

func (ptmxDevice) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeDevice}
}

// ttyDevice is /dev/tty: the slave of the caller's session terminal.
type ttyDevice struct {
	vfs.BaseFile
	s *System
}

func (d ttyDevice) OpenDevice(c vfs.Caller, _ vfs.Mode) (vfs.File, error) {
	t, err := d.s.sessionTerminal(c.SID())
	if err != nil {
		return nil, err
	}
	return t.Slave(), nil
}

func (ttyDevice) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeDevice}
}
