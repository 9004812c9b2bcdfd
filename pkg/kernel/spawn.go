package kernel

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/protocol"
	"webkernel/pkg/security"
	"webkernel/pkg/vfs"
)

// GroupKind selects how a spawned process gets its process group.
type GroupKind int

const (
	// GroupInherit joins the parent's group.
	GroupInherit GroupKind = iota
	// GroupNew starts a new group led by the child.
	GroupNew
	// GroupJoin joins an existing group of the parent's session.
	GroupJoin
)

// GroupOption is the process group choice of a spawn.
type GroupOption struct {
	Kind GroupKind
	PGID int
}

// InheritGroup returns the default group option.
func InheritGroup() GroupOption { return GroupOption{Kind: GroupInherit} }

// NewGroup starts a new group.
func NewGroup() GroupOption { return GroupOption{Kind: GroupNew} }

// JoinGroup joins group pgid.
func JoinGroup(pgid int) GroupOption { return GroupOption{Kind: GroupJoin, PGID: pgid} }

// ParseGroupOption reads the wire form: absent, "START_NEW" or a pgid.
func ParseGroupOption(v any) (GroupOption, error) {
	if v == nil {
		return InheritGroup(), nil
	}
	if s, ok := v.(string); ok && s == protocol.StartNew {
		return NewGroup(), nil
	}
	if n, ok := protocol.Int(v); ok && n > 0 {
		return JoinGroup(n), nil
	}
	return GroupOption{}, kerr.Wrap(kerr.ErrInvalidArgument, "pgid")
}

// SpawnConfig describes a process to start.
type SpawnConfig struct {
	// ProgramPath is resolved against the parent's working directory.
	ProgramPath string
	Args        []string
	// Parent is nil only for init.
	Parent *process.Process
	Group  GroupOption
	// FDs become the child's fd table. Spawn owns them: on failure they
	// are closed.
	FDs map[int]*vfs.FileDescriptor
}

// Spawn creates a process and starts its program.
func (s *System) Spawn(cfg SpawnConfig) (*process.Process, error) {
	p, err := s.spawn(cfg)
	if err != nil {
		// Descriptors the process already closed fail a second Close.
		for _, fd := range cfg.FDs {
			fd.Close()
		}
		return nil, err
	}
	return p, nil
}

func (s *System) spawn(cfg SpawnConfig) (*process.Process, error) {
	cwd := "/"
	var sandbox security.Sandbox
	if cfg.Parent != nil {
		cwd = cfg.Parent.Cwd()
		sandbox = cfg.Parent.Sandbox()
	}

	program := vfs.Abs(cwd, cfg.ProgramPath)
	if err := sandbox.CheckPath(program, "x"); err != nil {
		return nil, err
	}
	sandbox, err := s.policies.Apply(program, sandbox)
	if err != nil {
		return nil, err
	}

	code, err := s.loadProgram(cwd, cfg.ProgramPath)
	if err != nil {
		return nil, err
	}
	unit, err := s.launcher.NewUnit(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerr.ErrNotRunnable, err)
	}

	p, err := s.register(cfg, cwd, sandbox)
	if err != nil {
		return nil, err
	}

	for _, n := range slices.Sorted(maps.Keys(cfg.FDs)) {
		if _, err := p.InstallFDAt(n, cfg.FDs[n]); err != nil {
			s.abandon(p)
			return nil, err
		}
	}
	p.SetUnit(unit)

	start := protocol.StartProcess{
		ProgramName: cfg.ProgramPath,
		Code:        code,
		Args:        p.Args(),
		PID:         p.PID(),
	}
	if err := unit.Start(start, newUnitHost(s, p)); err != nil {
		s.abandon(p)
		return nil, fmt.Errorf("start %s: %w", cfg.ProgramPath, err)
	}

	s.metrics.ProcessesSpawned.Inc()
	s.log.Debug().Int("pid", p.PID()).Int("ppid", p.PPID()).Int("pgid", p.PGID()).
		Str("program", cfg.ProgramPath).Msg("process spawned")
	return p, nil
}

// loadProgram reads the program text at path and checks it can be run.
func (s *System) loadProgram(cwd, path string) (string, error) {
	f, err := vfs.Resolve(s.root, cwd, path)
	if err != nil {
		if errors.Is(err, kerr.ErrInvalidArgument) {
			return "", err
		}
		return "", kerr.Wrap(kerr.ErrNoSuchProgram, path)
	}
	tf, ok := f.(*vfs.TextFile)
	if !ok {
		return "", kerr.Wrap(kerr.ErrNotRunnable, path)
	}
	code := tf.Text()
	if s.launcher == nil || !s.launcher.Recognizes(code) {
		return "", kerr.Wrap(kerr.ErrNotRunnable, path)
	}
	return code, nil
}

// register allocates a pid, resolves the group and session and adds the
// process to the table and to its parent's children.
func (s *System) register(cfg SpawnConfig, cwd string, sandbox security.Sandbox) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Parent != nil && cfg.Parent.Exited() {
		return nil, kerr.ErrProcessExited
	}

	pid := s.procs.AllocatePID()
	ppid, pgid, sid := 0, pid, pid
	if parent := cfg.Parent; parent != nil {
		ppid, pgid, sid = parent.PID(), parent.PGID(), parent.SID()
	}

	switch cfg.Group.Kind {
	case GroupNew:
		pgid = pid
	case GroupJoin:
		members := s.procs.Group(cfg.Group.PGID)
		if len(members) == 0 {
			return nil, kerr.Wrap(kerr.ErrNoSuchGroup, fmt.Sprint(cfg.Group.PGID))
		}
		if members[0].SID() != sid {
			return nil, kerr.Wrap(kerr.ErrNotPermitted, "process group in another session")
		}
		pgid = cfg.Group.PGID
	}

	p := process.New(process.Config{
		PID:             pid,
		PPID:            ppid,
		PGID:            pgid,
		SID:             sid,
		ProgramName:     cfg.ProgramPath,
		Args:            cfg.Args,
		Cwd:             cwd,
		Limits:          process.Limits{MaxFiles: s.cfg.MaxFiles},
		ActivityWindow:  s.cfg.ActivityWindow(),
		ActivityHistory: s.cfg.ActivityHistory,
		Sandbox:         sandbox,
		Clock:           s.clock,
	})
	if err := s.procs.Add(p); err != nil {
		return nil, err
	}
	if cfg.Parent != nil {
		cfg.Parent.AddChild(pid)
	}
	s.metrics.Processes.Set(float64(s.procs.Len()))
	return p, nil
}

// abandon undoes register for a process whose start failed.
func (s *System) abandon(p *process.Process) {
	if _, err := p.OnExit(nil); err != nil {
		s.log.Error().Err(err).Int("pid", p.PID()).Msg("closing fds of abandoned process")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs.Remove(p.PID())
	if parent, ok := s.procs.Get(p.PPID()); ok {
		parent.RemoveChild(p.PID())
	}
	s.metrics.Processes.Set(float64(s.procs.Len()))
}
