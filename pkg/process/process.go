package process

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
	"webkernel/pkg/security"
	"webkernel/pkg/vfs"

	"github.com/djmitche/shquote"
	"github.com/puzpuzpuz/xsync/v4"
)

// Config describes a process to create.
type Config struct {
	PID  int
	PPID int
	PGID int
	SID  int

	ProgramName string
	Args        []string
	Cwd         string

	Limits          Limits
	ActivityWindow  time.Duration
	ActivityHistory int

	// Sandbox restricts the syscalls and paths the process may use.
	Sandbox security.Sandbox

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Process is the kernel-side handle of one logical process.
//
// Identity fields are atomic so that file predicates can read a caller's
// group without taking the process lock. Everything else mutable is guarded
// by mu, which is always taken after the kernel's table lock.
type Process struct {
	pid  int
	ppid atomic.Int64
	pgid atomic.Int64
	sid  atomic.Int64

	programName string
	args        []string
	limits      Limits
	clock       func() time.Time
	activity    *Activity

	// pending maps in-flight syscall ids to the cancel func of their context.
	pending     *xsync.Map[uint64, context.CancelCauseFunc]
	nextSyscall atomic.Uint64
	exited      atomic.Bool

	mu         sync.Mutex
	cwd        string
	fds        map[int]*vfs.FileDescriptor
	children   map[int]struct{}
	interrupt  InterruptBehavior
	state      State
	exitValue  any
	unit       Unit
	sandbox    security.Sandbox
	startedAt  time.Time
	finishedAt time.Time
}

// New creates a running process with an empty fd table.
func New(cfg Config) *Process {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}

	p := &Process{
		pid:         cfg.PID,
		programName: cfg.ProgramName,
		args:        slices.Clone(cfg.Args),
		limits:      cfg.Limits.withDefaults(),
		clock:       clock,
		activity:    NewActivity(cfg.ActivityWindow, cfg.ActivityHistory),
		pending:     xsync.NewMap[uint64, context.CancelCauseFunc](),
		cwd:         cwd,
		fds:         make(map[int]*vfs.FileDescriptor),
		children:    make(map[int]struct{}),
		interrupt:   InterruptExit,
		state:       StateRunning,
		sandbox:     cfg.Sandbox,
		startedAt:   clock(),
	}
	p.ppid.Store(int64(cfg.PPID))
	p.pgid.Store(int64(cfg.PGID))
	p.sid.Store(int64(cfg.SID))
	return p
}

// PID returns the process id.
func (p *Process) PID() int { return p.pid }

// PPID returns the parent pid, 0 for init.
func (p *Process) PPID() int { return int(p.ppid.Load()) }

// SetPPID changes the parent, as when the parent exits.
func (p *Process) SetPPID(ppid int) { p.ppid.Store(int64(ppid)) }

// PGID returns the process group id.
func (p *Process) PGID() int { return int(p.pgid.Load()) }

// SetPGID moves the process to another group.
func (p *Process) SetPGID(pgid int) { p.pgid.Store(int64(pgid)) }

// SID returns the session id.
func (p *Process) SID() int { return int(p.sid.Load()) }

// SetSID moves the process to another session.
func (p *Process) SetSID(sid int) { p.sid.Store(int64(sid)) }

// IsGroupLeader reports whether the process leads its group.
func (p *Process) IsGroupLeader() bool { return p.PGID() == p.pid }

// IsSessionLeader reports whether the process leads its session.
func (p *Process) IsSessionLeader() bool { return p.SID() == p.pid }

// ProgramName returns the path the program was spawned from.
func (p *Process) ProgramName() string { return p.programName }

// Args returns a copy of the program arguments.
func (p *Process) Args() []string { return slices.Clone(p.args) }

// CommandLine renders the program and its arguments as a shell would
// accept them.
func (p *Process) CommandLine() string {
	return shquote.QuoteList(append([]string{p.programName}, p.args...))
}

// Cwd returns the working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// SetCwd changes the working directory. The path must already be resolved.
func (p *Process) SetCwd(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = dir
}

// SetUnit attaches the execution unit.
func (p *Process) SetUnit(u Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unit = u
}

// Unit returns the execution unit, nil before it is attached.
func (p *Process) Unit() Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unit
}

// Deliver forwards a syscall result to the unit.
func (p *Process) Deliver(res protocol.SyscallResult) {
	if u := p.Unit(); u != nil && !p.exited.Load() {
		u.Deliver(res)
	}
}

// Notify forwards a non-lethal signal to the unit.
func (p *Process) Notify(sig ipc.Signal) {
	if u := p.Unit(); u != nil && !p.exited.Load() {
		u.Signal(sig)
	}
}

// Sandbox returns the process's current restrictions.
func (p *Process) Sandbox() security.Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sandbox
}

// UpdateSandbox replaces the sandbox with the result of change, unless
// change fails.
func (p *Process) UpdateSandbox(change func(security.Sandbox) (security.Sandbox, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, err := change(p.sandbox)
	if err != nil {
		return err
	}
	p.sandbox = sb
	return nil
}

// FD returns the descriptor installed at n.
func (p *Process) FD(n int) (*vfs.FileDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd, ok := p.fds[n]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNoSuchFD, strconv.Itoa(n))
	}
	return fd, nil
}

// InstallFD stores fd at the lowest free number. On failure the caller
// still owns fd.
func (p *Process) InstallFD(fd *vfs.FileDescriptor) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited.Load() {
		return 0, kerr.ErrProcessExited
	}
	if err := p.limits.checkFiles(len(p.fds)); err != nil {
		return 0, err
	}
	n := 0
	for {
		if _, used := p.fds[n]; !used {
			break
		}
		n++
	}
	p.fds[n] = fd
	return n, nil
}

// InstallFDAt stores fd at n and returns the descriptor it replaced, which
// the caller must close.
func (p *Process) InstallFDAt(n int, fd *vfs.FileDescriptor) (*vfs.FileDescriptor, error) {
	if n < 0 {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "negative fd")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited.Load() {
		return nil, kerr.ErrProcessExited
	}
	old, replacing := p.fds[n]
	if !replacing {
		if err := p.limits.checkFiles(len(p.fds)); err != nil {
			return nil, err
		}
	}
	p.fds[n] = fd
	return old, nil
}

// RemoveFD takes the descriptor at n out of the table without closing it.
func (p *Process) RemoveFD(n int) (*vfs.FileDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd, ok := p.fds[n]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNoSuchFD, strconv.Itoa(n))
	}
	delete(p.fds, n)
	return fd, nil
}

// CloseFD removes and closes the descriptor at n.
func (p *Process) CloseFD(n int) error {
	fd, err := p.RemoveFD(n)
	if err != nil {
		return err
	}
	return fd.Close()
}

// DuplicateFD installs a duplicate of fd n at the lowest free number.
func (p *Process) DuplicateFD(n int) (int, error) {
	fd, err := p.FD(n)
	if err != nil {
		return 0, err
	}
	dup, err := fd.Duplicate()
	if err != nil {
		return 0, err
	}
	m, err := p.InstallFD(dup)
	if err != nil {
		return 0, errors.Join(err, dup.Close())
	}
	return m, nil
}

// FDs returns the installed fd numbers in ascending order.
func (p *Process) FDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.fds))
}

// Read reads from fd n.
func (p *Process) Read(ctx context.Context, n int, nonBlocking bool) (string, error) {
	fd, err := p.FD(n)
	if err != nil {
		return "", err
	}
	return fd.Read(ctx, p, nonBlocking)
}

// Write writes text to fd n.
func (p *Process) Write(ctx context.Context, n int, text string) error {
	fd, err := p.FD(n)
	if err != nil {
		return err
	}
	_, err = fd.Write(ctx, p, text)
	return err
}

// AddChild records pid as a child.
func (p *Process) AddChild(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children[pid] = struct{}{}
}

// RemoveChild forgets a child.
func (p *Process) RemoveChild(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.children, pid)
}

// HasChild reports whether pid is a child.
func (p *Process) HasChild(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.children[pid]
	return ok
}

// Children returns the child pids in ascending order.
func (p *Process) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.children))
}

// TakeChildren empties the child set and returns what it held.
func (p *Process) TakeChildren() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Sorted(maps.Keys(p.children))
	clear(p.children)
	return out
}

// InterruptBehavior returns what the process does on interrupt.
func (p *Process) InterruptBehavior() InterruptBehavior {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupt
}

// SetInterruptBehavior changes what the process does on interrupt.
func (p *Process) SetInterruptBehavior(b InterruptBehavior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupt = b
}

// ReceiveInterruptSignal applies the interrupt behavior and reports whether
// the signal is lethal.
func (p *Process) ReceiveInterruptSignal() bool {
	switch p.InterruptBehavior() {
	case InterruptIgnore:
		return false
	case InterruptHandle:
		p.RejectPending(kerr.ErrInterrupted)
		return false
	default:
		return true
	}
}

// BeginSyscall registers a pending syscall. The returned context is
// cancelled with the rejection cause when the syscall is interrupted or the
// process exits; done must be called once the handler returns.
func (p *Process) BeginSyscall(ctx context.Context) (context.Context, func()) {
	id := p.nextSyscall.Add(1)
	ctx, cancel := context.WithCancelCause(ctx)
	p.pending.Store(id, cancel)
	if p.exited.Load() {
		cancel(kerr.ErrProcessExited)
	}
	end := p.activity.Begin(p.clock())

	return ctx, func() {
		p.pending.Delete(id)
		cancel(nil)
		end(p.clock())
	}
}

// RejectPending cancels every pending syscall with cause and returns how
// many there were.
func (p *Process) RejectPending(cause error) int {
	n := 0
	p.pending.Range(func(_ uint64, cancel context.CancelCauseFunc) bool {
		cancel(cause)
		n++
		return true
	})
	return n
}

// PendingSyscalls returns the number of syscalls in flight.
func (p *Process) PendingSyscalls() int {
	return p.pending.Size()
}

// UserlandActivity returns the fraction of the recent window the process
// spent outside syscalls.
func (p *Process) UserlandActivity(now time.Time) float64 {
	return p.activity.Userland(now)
}

// OnExit records the exit value, closes every fd, rejects pending syscalls
// and stops the unit. Only the first call takes effect; it reports whether
// this call did. The error joins fd close failures.
func (p *Process) OnExit(value any) (bool, error) {
	p.mu.Lock()
	if !p.exited.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return false, nil
	}
	p.exitValue = value
	_ = p.transitionLocked(StateExiting)
	fds := p.fds
	p.fds = make(map[int]*vfs.FileDescriptor)
	unit := p.unit
	p.mu.Unlock()

	var errs []error
	for _, n := range slices.Sorted(maps.Keys(fds)) {
		if err := fds[n].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", n, err))
		}
	}
	p.RejectPending(kerr.ErrProcessExited)
	if unit != nil {
		unit.Terminate()
	}
	return true, errors.Join(errs...)
}

// Exited reports whether OnExit has run.
func (p *Process) Exited() bool {
	return p.exited.Load()
}

// ExitValue returns the exit value and whether the process has exited.
func (p *Process) ExitValue() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitValue, p.exited.Load()
}

// Info is the process listing entry.
type Info struct {
	PID               int               `json:"pid"`
	PPID              int               `json:"ppid"`
	PGID              int               `json:"pgid"`
	SID               int               `json:"sid"`
	ProgramName       string            `json:"programName"`
	Args              []string          `json:"args"`
	CommandLine       string            `json:"commandLine"`
	Cwd               string            `json:"workingDirectory"`
	State             string            `json:"state"`
	InterruptBehavior InterruptBehavior `json:"interruptBehavior"`
	Promises          string            `json:"promises"`
	FDs               []int             `json:"fds"`
	Children          []int             `json:"children"`
	PendingSyscalls   int               `json:"pendingSyscalls"`
	UserlandActivity  float64           `json:"userlandActivity"`
	Lifetime          float64           `json:"lifetimeSeconds"`
}

// Info snapshots the process for listings.
func (p *Process) Info() Info {
	now := p.clock()
	info := Info{
		PID:              p.pid,
		PPID:             p.PPID(),
		PGID:             p.PGID(),
		SID:              p.SID(),
		ProgramName:      p.programName,
		Args:             p.Args(),
		CommandLine:      p.CommandLine(),
		FDs:              p.FDs(),
		Children:         p.Children(),
		PendingSyscalls:  p.PendingSyscalls(),
		UserlandActivity: p.UserlandActivity(now),
		Lifetime:         p.Lifetime().Seconds(),
	}

	p.mu.Lock()
	info.Cwd = p.cwd
	info.State = p.state.String()
	info.InterruptBehavior = p.interrupt
	info.Promises = p.sandbox.Promises().String()
	p.mu.Unlock()

	if info.Args == nil {
		info.Args = []string{}
	}
	return info
}
