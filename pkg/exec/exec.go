// Package exec turns program files into execution units. A program file
// starts with a shebang line naming its interpreter:
//
//	#!go <name>                    a Go function registered with Mux.Register
//	#!lua                          Lua source, see package luaunit
//	#!remote <network> <address>   a unit served over a stream, see package remote
//
// Everything after the first line is the program body handed to the
// interpreter.
package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"webkernel/pkg/libc"
	"webkernel/pkg/logger"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"

	"github.com/phuslu/log"
)

// Errors returned by the mux.
var (
	ErrNoShebang          = errors.New("program has no shebang line")
	ErrUnknownInterpreter = errors.New("unknown interpreter")
	ErrUnknownProgram     = errors.New("unknown go program")
)

// Factory creates units for one interpreter. directive is the rest of the
// shebang line and body the program text after it.
type Factory interface {
	NewUnit(directive, body string) (process.Unit, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(directive, body string) (process.Unit, error)

func (f FactoryFunc) NewUnit(directive, body string) (process.Unit, error) {
	return f(directive, body)
}

// Env is what a Go program sees of its process.
type Env struct {
	PID     int
	Name    string
	Args    []string
	Sys     *libc.Client
	Signals <-chan ipc.Signal
}

// Program is a userland program written in Go. Its return value is the
// exit value; an error crashes the process.
type Program func(ctx context.Context, env *Env) (any, error)

// Mux is a process.Launcher dispatching on the shebang line.
type Mux struct {
	mu           sync.RWMutex
	interpreters map[string]Factory
	programs     map[string]Program
}

// NewMux creates a mux that knows the go interpreter.
func NewMux() *Mux {
	m := &Mux{
		interpreters: make(map[string]Factory),
		programs:     make(map[string]Program),
	}
	m.Handle("go", FactoryFunc(m.newGoUnit))
	return m
}

// Handle registers the factory for interpreter name.
func (m *Mux) Handle(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interpreters[name] = f
}

// Register makes prog runnable as "#!go name".
func (m *Mux) Register(name string, prog Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[name] = prog
}

// Programs returns the names of the registered Go programs.
func (m *Mux) Programs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.programs))
	for name := range m.programs {
		names = append(names, name)
	}
	return names
}

// Recognizes implements process.Launcher.
func (m *Mux) Recognizes(code string) bool {
	interp, _, _, ok := ParseShebang(code)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok = m.interpreters[interp]
	return ok
}

// NewUnit implements process.Launcher.
func (m *Mux) NewUnit(code string) (process.Unit, error) {
	interp, directive, body, ok := ParseShebang(code)
	if !ok {
		return nil, ErrNoShebang
	}
	m.mu.RLock()
	f, ok := m.interpreters[interp]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterpreter, interp)
	}
	return f.NewUnit(directive, body)
}

// ParseShebang splits "#!interp directive\nbody".
func ParseShebang(code string) (interp, directive, body string, ok bool) {
	if !strings.HasPrefix(code, "#!") {
		return "", "", "", false
	}
	line, body, _ := strings.Cut(code[2:], "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", "", false
	}
	return fields[0], strings.Join(fields[1:], " "), body, true
}

func (m *Mux) newGoUnit(directive, _ string) (process.Unit, error) {
	m.mu.RLock()
	prog, ok := m.programs[directive]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, directive)
	}
	return &goUnit{prog: prog, rt: NewRuntime("go")}, nil
}

type goUnit struct {
	prog Program
	rt   *Runtime
}

func (u *goUnit) Start(msg protocol.StartProcess, host process.Host) error {
	ctx, client, ok := u.rt.Begin(host)
	if !ok {
		return nil
	}
	env := &Env{
		PID:     msg.PID,
		Name:    msg.ProgramName,
		Args:    msg.Args,
		Sys:     client,
		Signals: u.rt.Signals(),
	}
	go func() {
		value, err := Recover(func() (any, error) { return u.prog(ctx, env) })
		u.rt.Finish(value, err)
	}()
	return nil
}

func (u *goUnit) Deliver(res protocol.SyscallResult) { u.rt.Deliver(res) }
func (u *goUnit) Signal(sig ipc.Signal)              { u.rt.Signal(sig) }
func (u *goUnit) Terminate()                         { u.rt.Terminate() }

// Runtime is the state a unit running userland code in this address space
// keeps: the syscall client, pending signals and the program's context.
type Runtime struct {
	mu         sync.Mutex
	host       process.Host
	client     *libc.Client
	cancel     context.CancelFunc
	terminated bool
	signals    chan ipc.Signal
	log        log.Logger
}

// NewRuntime creates the runtime of one unit of the given kind.
func NewRuntime(kind string) *Runtime {
	return &Runtime{
		signals: make(chan ipc.Signal, 16),
		log:     logger.NewLoggerWithContext(kind),
	}
}

// Begin binds the runtime to host. It reports false when the unit was
// terminated before it started.
func (r *Runtime) Begin(host process.Host) (context.Context, *libc.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.host, r.cancel = host, cancel
	r.client = libc.New(host)
	return ctx, r.client, true
}

// Client returns the syscall client, nil before Begin.
func (r *Runtime) Client() *libc.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// Deliver routes a syscall result to the client.
func (r *Runtime) Deliver(res protocol.SyscallResult) {
	if c := r.Client(); c != nil {
		c.Deliver(res)
	}
}

// Signal queues a non-lethal signal. Signals beyond the queue are dropped.
func (r *Runtime) Signal(sig ipc.Signal) {
	select {
	case r.signals <- sig:
	default:
		r.log.Warn().Str("signal", sig.String()).Msg("signal queue full")
	}
}

// Signals returns the queued signals.
func (r *Runtime) Signals() <-chan ipc.Signal {
	return r.signals
}

// Terminate cancels the program and fails its pending syscalls.
func (r *Runtime) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return
	}
	r.terminated = true
	if r.cancel != nil {
		r.cancel()
	}
	if r.client != nil {
		r.client.Close()
	}
}

// Terminated reports whether Terminate ran.
func (r *Runtime) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// Finish reports the program's outcome to the host unless the unit was
// terminated meanwhile. An error becomes a crash.
func (r *Runtime) Finish(value any, err error) {
	r.mu.Lock()
	host, terminated := r.host, r.terminated
	r.mu.Unlock()
	if terminated || host == nil {
		return
	}
	if err != nil {
		r.log.Debug().Err(err).Msg("program crashed")
		host.Finished(protocol.Crash(err.Error()))
		return
	}
	host.Finished(value)
}

// Recover runs fn and turns a panic into an error.
func Recover(fn func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
