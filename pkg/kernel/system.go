package kernel

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"webkernel/pkg/config"
	"webkernel/pkg/kerr"
	"webkernel/pkg/logger"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/pty"
	"webkernel/pkg/security"
	"webkernel/pkg/vfs"
	"webkernel/pkg/waitq"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Wait queue names.
const (
	queueExit = "exit"
)

// Option configures a System.
type Option func(*System)

// WithLauncher sets the launcher that turns program files into units.
func WithLauncher(l process.Launcher) Option {
	return func(s *System) { s.launcher = l }
}

// WithConsole attaches /dev/con to out and in. A nil in reads as end of file.
func WithConsole(out io.Writer, in vfs.ConsoleInput) Option {
	return func(s *System) { s.console = vfs.NewConsoleFile(out, in) }
}

// WithDisplay provides the graphics display.
func WithDisplay(d Display) Option {
	return func(s *System) { s.display = d }
}

// WithPolicies sets the sandbox policies applied to spawned programs.
func WithPolicies(p *security.Policies) Option {
	return func(s *System) { s.policies = p }
}

// WithRegisterer registers the kernel metrics with reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *System) { s.registerer = reg }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *System) { s.clock = clock }
}

// System is the kernel: the process table, the file system, the
// pseudoterminal registry and the syscall dispatcher.
type System struct {
	// mu guards the process table, parent/child links and the terminal
	// registry. It is taken before any process lock and is never held
	// while files are closed or signals are delivered.
	mu      sync.Mutex
	waiters *waitq.Registry
	procs   *process.Table

	root  *vfs.Directory
	dev   *vfs.Directory
	pts   *vfs.Directory
	files *vfs.Table

	// terminals maps n in /dev/pts/n to its terminal.
	terminals map[int]*pty.PseudoTerminal
	// sessions maps a session id to the terminal it owns.
	sessions map[int]*pty.PseudoTerminal
	nextPty  int

	cfg        config.KernelConfig
	launcher   process.Launcher
	console    *vfs.ConsoleFile
	display    Display
	policies   *security.Policies
	registerer prometheus.Registerer
	clock      func() time.Time

	syscalls map[string]syscallDef
	metrics  *Metrics
	bootID   uuid.UUID
	log      log.Logger

	booted   bool
	bootTime time.Time
	initDone chan struct{}
	initExit any
}

// New creates a kernel with an empty process table and the standard file
// system layout. Programs may be installed before Boot.
func New(cfg config.KernelConfig, opts ...Option) *System {
	s := &System{
		procs:     process.NewTable(),
		files:     vfs.NewTable(),
		terminals: make(map[int]*pty.PseudoTerminal),
		sessions:  make(map[int]*pty.PseudoTerminal),
		cfg:       cfg,
		clock:     time.Now,
		bootID:    uuid.New(),
		initDone:  make(chan struct{}),
	}
	s.waiters = waitq.New(&s.mu)

	for _, opt := range opts {
		opt(s)
	}
	if s.console == nil {
		s.console = vfs.NewConsoleFile(io.Discard, nil)
	}
	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}
	if s.cfg.SleepGranularityMs <= 0 {
		s.cfg.SleepGranularityMs = 10
	}
	if s.cfg.InitPath == "" {
		s.cfg.InitPath = "/sys/init"
	}

	s.log = logger.With(logger.NewLoggerWithContext("kernel"), "boot_id", s.bootID.String())
	s.metrics = newMetrics(s.registerer, s)
	s.syscalls = s.syscallTable()
	s.makeLayout()
	return s
}

// makeLayout builds the initial file system.
func (s *System) makeLayout() {
	s.root = vfs.NewDirectory(nil)
	for _, name := range []string{"bin", "sys", "home", "tmp"} {
		s.root.MakeDir(name)
	}
	s.dev, _ = s.root.MakeDir("dev")
	s.pts, _ = s.dev.MakeDir("pts")

	s.dev.Link("con", s.console)
	s.dev.Link("null", vfs.NullFile{})
	s.dev.Link("pipe", ipc.PipeDevice{})
	s.dev.Link("ptmx", ptmxDevice{s: s})
	s.dev.Link("tty", ttyDevice{s: s})
	s.dev.Link("graphics", graphicsDevice{s: s})
}

// Root returns the root directory.
func (s *System) Root() *vfs.Directory { return s.root }

// Files returns the table of live open file descriptions.
func (s *System) Files() *vfs.Table { return s.files }

// Metrics returns the kernel metrics.
func (s *System) Metrics() *Metrics { return s.metrics }

// BootID identifies this kernel instance in logs.
func (s *System) BootID() uuid.UUID { return s.bootID }

// InstallProgram writes code to path, creating or replacing a text file.
// Missing parent directories are created.
func (s *System) InstallProgram(path, code string) error {
	if err := vfs.ValidatePath(path); err != nil {
		return err
	}
	parent, name := vfs.Split(vfs.Abs("/", path))
	if name == "" {
		return kerr.Wrap(kerr.ErrIsDirectory, path)
	}
	dir, err := vfs.MakeDirAll(s.root, parent)
	if err != nil {
		return err
	}
	if f, ok := dir.Lookup(name); ok {
		if tf, ok := f.(*vfs.TextFile); ok {
			tf.SetText(code)
			return nil
		}
		return dir.Replace(name, vfs.NewTextFile(code))
	}
	return dir.Link(name, vfs.NewTextFile(code))
}

// Boot spawns the init program as pid 1 with fds 0 and 1 on /dev/con.
func (s *System) Boot() (*process.Process, error) {
	s.mu.Lock()
	if s.booted {
		s.mu.Unlock()
		return nil, errors.New("kernel already booted")
	}
	s.booted = true
	s.bootTime = s.clock()
	s.mu.Unlock()

	caller := bootCaller{}
	stdin, err := vfs.Open(s.files, s.console, caller, vfs.ModeRead)
	if err != nil {
		return nil, err
	}
	stdout, err := vfs.Open(s.files, s.console, caller, vfs.ModeWrite)
	if err != nil {
		stdin.Close()
		return nil, err
	}

	p, err := s.Spawn(SpawnConfig{
		ProgramPath: s.cfg.InitPath,
		Group:       NewGroup(),
		FDs:         map[int]*vfs.FileDescriptor{0: stdin, 1: stdout},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("init", s.cfg.InitPath).Int("pid", p.PID()).Msg("kernel booted")
	return p, nil
}

// BootTime returns when Boot was called, or the zero time before.
func (s *System) BootTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootTime
}

// Wait blocks until init exits and returns its exit value.
func (s *System) Wait(ctx context.Context) (any, error) {
	select {
	case <-s.initDone:
		return s.initExit, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown kills every live process, init last.
func (s *System) Shutdown() {
	procs := s.Processes()
	for i := len(procs) - 1; i >= 0; i-- {
		if p := procs[i]; !p.Exited() {
			s.exitProcess(p, process.SignalExit{Signal: ipc.SignalKill}, "shutdown")
		}
	}
	s.log.Info().Msg("kernel shut down")
}

// Processes returns every process in the table ordered by pid.
func (s *System) Processes() []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs.All()
}

// Process looks up pid, zombies included.
func (s *System) Process(pid int) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs.Get(pid)
	if !ok {
		return nil, kerr.ErrNoSuchProcess
	}
	return p, nil
}

// bootCaller opens the console before init exists.
type bootCaller struct{}

func (bootCaller) PID() int  { return 0 }
func (bootCaller) PGID() int { return 0 }
func (bootCaller) SID() int  { return 0 }
