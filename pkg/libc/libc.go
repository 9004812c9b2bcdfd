// Package libc is the userland side of the syscall boundary. A Client numbers
// each request, hands it to the unit's host and waits for the one result
// with the same number.
package libc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"

	"github.com/puzpuzpuz/xsync/v4"
)

// ErrTerminated fails the calls of a unit that was stopped.
var ErrTerminated = errors.New("process terminated")

// Client issues syscalls on behalf of one process.
type Client struct {
	host    process.Host
	seq     atomic.Int64
	pending *xsync.Map[int, chan protocol.SyscallResult]

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a client sending requests to host.
func New(host process.Host) *Client {
	return &Client{
		host:    host,
		pending: xsync.NewMap[int, chan protocol.SyscallResult](),
		closed:  make(chan struct{}),
	}
}

// Call issues syscall name and waits for its result.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	select {
	case <-c.closed:
		return nil, ErrTerminated
	default:
	}

	seq := int(c.seq.Add(1))
	ch := make(chan protocol.SyscallResult, 1)
	c.pending.Store(seq, ch)
	defer c.pending.Delete(seq)

	if args == nil {
		args = map[string]any{}
	}
	c.host.Syscall(protocol.SyscallRequest{Syscall: name, Arg: args, SequenceNum: seq})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Success, nil
	case <-c.closed:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver routes a result to the waiting call. Results nobody waits for are
// dropped.
func (c *Client) Deliver(res protocol.SyscallResult) {
	if ch, ok := c.pending.LoadAndDelete(res.SequenceNum); ok {
		ch <- res
	}
}

// Close fails every pending and future call with ErrTerminated.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Exit ends the process with value. The kernel never answers it.
func (c *Client) Exit(value any) {
	seq := int(c.seq.Add(1))
	c.host.Syscall(protocol.SyscallRequest{
		Syscall:     "exit",
		Arg:         map[string]any{"exitValue": value},
		SequenceNum: seq,
	})
}

func (c *Client) callInt(ctx context.Context, name string, args map[string]any) (int, error) {
	v, err := c.Call(ctx, name, args)
	if err != nil {
		return 0, err
	}
	n, ok := protocol.Int(v)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected result %v", name, v)
	}
	return n, nil
}

func (c *Client) callString(ctx context.Context, name string, args map[string]any) (string, error) {
	v, err := c.Call(ctx, name, args)
	if err != nil {
		return "", err
	}
	s, ok := protocol.String(v)
	if !ok {
		return "", fmt.Errorf("%s: unexpected result %v", name, v)
	}
	return s, nil
}

func (c *Client) callNone(ctx context.Context, name string, args map[string]any) error {
	_, err := c.Call(ctx, name, args)
	return err
}

// Open opens path and returns the new fd.
func (c *Client) Open(ctx context.Context, path string, mode vfs.Mode, create bool) (int, error) {
	args := map[string]any{"path": path, "createIfNecessary": create}
	if mode != "" {
		args["mode"] = string(mode)
	}
	return c.callInt(ctx, "openFile", args)
}

// Read reads from fd. An empty result means end of file.
func (c *Client) Read(ctx context.Context, fd int) (string, error) {
	return c.callString(ctx, "read", map[string]any{"fd": fd})
}

// TryRead reads from fd without blocking.
func (c *Client) TryRead(ctx context.Context, fd int) (string, error) {
	return c.callString(ctx, "read", map[string]any{"fd": fd, "nonBlocking": true})
}

// Write writes text to fd.
func (c *Client) Write(ctx context.Context, fd int, text string) error {
	return c.callNone(ctx, "write", map[string]any{"fd": fd, "text": text})
}

// CloseFD closes fd.
func (c *Client) CloseFD(ctx context.Context, fd int) error {
	return c.callNone(ctx, "close", map[string]any{"fd": fd})
}

// Dup duplicates fd.
func (c *Client) Dup(ctx context.Context, fd int) (int, error) {
	return c.callInt(ctx, "duplicateFd", map[string]any{"fd": fd})
}

// SeekInFile moves fd's offset to pos.
func (c *Client) SeekInFile(ctx context.Context, fd, pos int) error {
	return c.callNone(ctx, "seekInFile", map[string]any{"fd": fd, "position": pos})
}

// Truncate sets the length of the file open at fd.
func (c *Client) Truncate(ctx context.Context, fd, length int) error {
	return c.callNone(ctx, "setFileLength", map[string]any{"fd": fd, "length": length})
}

// Stat describes the file at path.
func (c *Client) Stat(ctx context.Context, path string) (map[string]any, error) {
	v, err := c.Call(ctx, "getFileStatus", map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}

// ListDirectory lists the entries of path.
func (c *Client) ListDirectory(ctx context.Context, path string) ([]string, error) {
	v, err := c.Call(ctx, "listDirectory", map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	names, ok := protocol.Strings(v)
	if !ok {
		return nil, fmt.Errorf("listDirectory: unexpected result %v", v)
	}
	return names, nil
}

// Chdir changes the working directory.
func (c *Client) Chdir(ctx context.Context, path string) error {
	return c.callNone(ctx, "changeWorkingDirectory", map[string]any{"path": path})
}

// Getwd returns the working directory.
func (c *Client) Getwd(ctx context.Context) (string, error) {
	return c.callString(ctx, "getWorkingDirectory", nil)
}

// Pipe creates a pipe and returns its read and write fds.
func (c *Client) Pipe(ctx context.Context) (r, w int, err error) {
	v, err := c.Call(ctx, "createPipe", nil)
	if err != nil {
		return 0, 0, err
	}
	fds, ok := protocol.Ints(v)
	if !ok || len(fds) != 2 {
		return 0, 0, fmt.Errorf("createPipe: unexpected result %v", v)
	}
	return fds[0], fds[1], nil
}

// SpawnOptions are the optional arguments of Spawn.
type SpawnOptions struct {
	Args []string
	// FDs maps child fd i to the caller's fd FDs[i]. Nil inherits every fd.
	FDs []int
	// PGID is nil to inherit, protocol.StartNew or a group id.
	PGID any
}

// Spawn starts programPath and returns the child pid.
func (c *Client) Spawn(ctx context.Context, programPath string, opts SpawnOptions) (int, error) {
	args := map[string]any{"programPath": programPath}
	if opts.Args != nil {
		args["args"] = opts.Args
	}
	if opts.FDs != nil {
		args["fds"] = opts.FDs
	}
	if opts.PGID != nil {
		args["pgid"] = opts.PGID
	}
	return c.callInt(ctx, "spawn", args)
}

// Wait waits for child pid and returns its exit value.
func (c *Client) Wait(ctx context.Context, pid int) (any, error) {
	return c.Call(ctx, "waitForExit", map[string]any{"pid": pid})
}

// WaitAny waits for any child and returns its pid and exit value.
func (c *Client) WaitAny(ctx context.Context) (int, any, error) {
	v, err := c.Call(ctx, "waitForExit", map[string]any{"pid": protocol.AnyChild})
	if err != nil {
		return 0, nil, err
	}
	m, _ := v.(map[string]any)
	pid, _ := protocol.Int(m["pid"])
	return pid, m["exitValue"], nil
}

// TryWaitAny collects a child that has already exited. ok is false when
// none has, or there are no children.
func (c *Client) TryWaitAny(ctx context.Context) (pid int, value any, ok bool, err error) {
	v, err := c.Call(ctx, "waitForExit", map[string]any{"pid": protocol.AnyChild, "nonBlocking": true})
	if errors.Is(err, kerr.ErrWouldBlock) || errors.Is(err, kerr.ErrNoChildren) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	m, _ := v.(map[string]any)
	pid, _ = protocol.Int(m["pid"])
	return pid, m["exitValue"], true, nil
}

// Kill sends sig to pid.
func (c *Client) Kill(ctx context.Context, pid int, sig string) error {
	return c.callNone(ctx, "sendSignal", map[string]any{"signal": sig, "pid": pid})
}

// KillGroup sends sig to every member of pgid.
func (c *Client) KillGroup(ctx context.Context, pgid int, sig string) error {
	return c.callNone(ctx, "sendSignalToProcessGroup", map[string]any{"signal": sig, "pgid": pgid})
}

// IgnoreInterrupts makes the interrupt signal harmless.
func (c *Client) IgnoreInterrupts(ctx context.Context) error {
	return c.callNone(ctx, "ignoreInterruptSignal", nil)
}

// HandleInterrupts makes the interrupt signal reject pending calls instead
// of killing the process.
func (c *Client) HandleInterrupts(ctx context.Context) error {
	return c.callNone(ctx, "handleInterruptSignal", nil)
}

// Setsid makes the process the leader of a new session and group.
func (c *Client) Setsid(ctx context.Context) error {
	return c.callNone(ctx, "joinNewSessionAndProcessGroup", nil)
}

// Pledge drops every promise not named in promises, a space separated
// list such as "stdio rpath".
func (c *Client) Pledge(ctx context.Context, promises string) error {
	return c.callNone(ctx, "pledge", map[string]any{"promises": promises})
}

// Unveil makes path visible with permissions from "rwxc".
func (c *Client) Unveil(ctx context.Context, path, permissions string) error {
	return c.callNone(ctx, "unveil", map[string]any{"path": path, "permissions": permissions})
}

// LockUnveil refuses further unveils.
func (c *Client) LockUnveil(ctx context.Context) error {
	return c.callNone(ctx, "unveil", nil)
}

// Sleep suspends for d.
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	return c.callNone(ctx, "sleep", map[string]any{"millis": d.Milliseconds()})
}

// PollRead returns the first readable fd, or false after timeout. A zero
// timeout waits forever.
func (c *Client) PollRead(ctx context.Context, fds []int, timeout time.Duration) (int, bool, error) {
	args := map[string]any{"fds": fds}
	if timeout > 0 {
		args["timeoutMillis"] = timeout.Milliseconds()
	}
	v, err := c.Call(ctx, "pollRead", args)
	if err != nil || v == nil {
		return 0, false, err
	}
	n, ok := protocol.Int(v)
	return n, ok, nil
}

// OpenPty creates a pseudoterminal for the caller's session and returns
// the master fd.
func (c *Client) OpenPty(ctx context.Context) (int, error) {
	return c.callInt(ctx, "createPseudoTerminal", nil)
}

// OpenPtySlave opens the slave of the session's pseudoterminal.
func (c *Client) OpenPtySlave(ctx context.Context) (int, error) {
	return c.callInt(ctx, "openPseudoTerminalSlave", nil)
}

// ConfigurePty sends one request to the session's pseudoterminal.
func (c *Client) ConfigurePty(ctx context.Context, request string, value any) (any, error) {
	return c.Call(ctx, "configurePseudoTerminal", map[string]any{request: value})
}

// ProcessInfo describes the calling process.
func (c *Client) ProcessInfo(ctx context.Context) (map[string]any, error) {
	v, err := c.Call(ctx, "getProcessInfo", nil)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}

// ListProcesses describes every process.
func (c *Client) ListProcesses(ctx context.Context) ([]map[string]any, error) {
	v, err := c.Call(ctx, "listProcesses", nil)
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}
