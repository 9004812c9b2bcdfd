package kernel

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"webkernel/pkg/config"
	"webkernel/pkg/kerr"
	"webkernel/pkg/logger"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func init() {
	logger.Discard()
}

const testProgram = "#!test"

// testUnit never runs code of its own: tests issue syscalls on its behalf.
type testUnit struct {
	mu         sync.Mutex
	start      protocol.StartProcess
	host       process.Host
	signals    []ipc.Signal
	results    chan protocol.SyscallResult
	terminated chan struct{}
	once       sync.Once
}

func (u *testUnit) Start(msg protocol.StartProcess, host process.Host) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.start, u.host = msg, host
	return nil
}

func (u *testUnit) Deliver(res protocol.SyscallResult) {
	u.results <- res
}

func (u *testUnit) Signal(sig ipc.Signal) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.signals = append(u.signals, sig)
}

func (u *testUnit) Terminate() {
	u.once.Do(func() { close(u.terminated) })
}

type testLauncher struct {
	mu        sync.Mutex
	units     []*testUnit
	failStart bool
}

func (l *testLauncher) Recognizes(code string) bool {
	return strings.HasPrefix(code, testProgram)
}

func (l *testLauncher) NewUnit(string) (process.Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failStart {
		return failingUnit{}, nil
	}
	u := &testUnit{
		results:    make(chan protocol.SyscallResult, 16),
		terminated: make(chan struct{}),
	}
	l.units = append(l.units, u)
	return u, nil
}

type failingUnit struct{}

func (failingUnit) Start(protocol.StartProcess, process.Host) error {
	return errors.New("no execution context")
}

func (failingUnit) Deliver(protocol.SyscallResult) {}
func (failingUnit) Signal(ipc.Signal)               {}
func (failingUnit) Terminate()                      {}

func newTestSystem(t *testing.T) (*System, *testLauncher) {
	t.Helper()

	l := &testLauncher{}
	s := New(config.DefaultConfig().Kernel, WithLauncher(l))
	for _, path := range []string{"/sys/init", "/bin/child", "/bin/sub/tool"} {
		if err := s.InstallProgram(path, testProgram); err != nil {
			t.Fatalf("InstallProgram(%q) error = %v", path, err)
		}
	}
	if err := s.InstallProgram("/home/notes", "not a program"); err != nil {
		t.Fatalf("InstallProgram() error = %v", err)
	}
	if _, err := s.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s, l
}

func call(t *testing.T, s *System, pid int, name string, args map[string]any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.Call(ctx, name, args, pid)
	if err != nil {
		t.Fatalf("%s(%v) as %d error = %v", name, args, pid, err)
	}
	return v
}

func callErr(s *System, pid int, name string, args map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Call(ctx, name, args, pid)
	return err
}

func spawnChild(t *testing.T, s *System, parent int, args map[string]any) int {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["programPath"]; !ok {
		args["programPath"] = "/bin/child"
	}
	return call(t, s, parent, "spawn", args).(int)
}

func TestBoot(t *testing.T) {
	s, l := newTestSystem(t)

	first, err := s.Process(initPID)
	if err != nil {
		t.Fatalf("Process(1) error = %v", err)
	}
	if got := first.FDs(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("init FDs() = %v, want [0 1]", got)
	}
	if !first.IsSessionLeader() || !first.IsGroupLeader() {
		t.Errorf("init pgid=%d sid=%d, want both 1", first.PGID(), first.SID())
	}
	if got := l.units[0].start; got.PID != 1 || got.ProgramName != "/sys/init" || got.Code != testProgram {
		t.Errorf("StartProcess = %+v", got)
	}

	names := call(t, s, 1, "listDirectory", map[string]any{"path": "/dev"}).([]string)
	for _, want := range []string{"con", "null", "pipe", "ptmx", "pts", "tty", "graphics"} {
		if !slices.Contains(names, want) {
			t.Errorf("listDirectory(/dev) = %v, missing %q", names, want)
		}
	}

	if s.BootTime().IsZero() {
		t.Error("BootTime() is zero after Boot")
	}
	if _, err := s.Boot(); err == nil {
		t.Error("second Boot() succeeded")
	}
}

func TestCallValidation(t *testing.T) {
	s, _ := newTestSystem(t)

	tests := []struct {
		name    string
		syscall string
		args    map[string]any
		pid     int
		want    error
	}{
		{"unknown syscall", "fork", nil, 1, kerr.ErrNoSuchSyscall},
		{"missing argument", "read", map[string]any{}, 1, kerr.ErrMissingArgument},
		{"unexpected argument", "close", map[string]any{"fd": 0, "force": true}, 1, kerr.ErrUnexpectedArg},
		{"invalid argument", "close", map[string]any{"fd": "zero"}, 1, kerr.ErrInvalidArgument},
		{"fractional fd", "close", map[string]any{"fd": 1.5}, 1, kerr.ErrInvalidArgument},
		{"no such process", "getProcessInfo", nil, 99, kerr.ErrNoSuchProcess},
		{"status needs one of path and fd", "getFileStatus", map[string]any{}, 1, kerr.ErrInvalidArgument},
		{"bad signal", "sendSignal", map[string]any{"signal": "stop", "pid": 1}, 1, kerr.ErrInvalidSignalName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callErr(s, tt.pid, tt.syscall, tt.args)
			if !errors.Is(err, tt.want) {
				t.Errorf("Call(%s) error = %v, want %v", tt.syscall, err, tt.want)
			}
		})
	}
}

func TestFileSyscalls(t *testing.T) {
	s, _ := newTestSystem(t)

	fd := call(t, s, 1, "openFile", map[string]any{
		"path": "/tmp/log", "createIfNecessary": true, "mode": "readwrite",
	}).(int)
	if fd != 2 {
		t.Errorf("openFile() = %d, want 2", fd)
	}

	call(t, s, 1, "write", map[string]any{"fd": fd, "text": "hello world"})
	call(t, s, 1, "seekInFile", map[string]any{"fd": fd, "position": 6})
	if got := call(t, s, 1, "read", map[string]any{"fd": fd}); got != "world" {
		t.Errorf("read() = %q, want %q", got, "world")
	}

	call(t, s, 1, "setFileLength", map[string]any{"fd": fd, "length": 5})
	st := call(t, s, 1, "getFileStatus", map[string]any{"path": "/tmp/log"}).(vfs.Status)
	if st.Type != vfs.TypeFile || st.Size != 5 || !st.Seekable {
		t.Errorf("getFileStatus() = %+v, want seekable file of size 5", st)
	}

	dup := call(t, s, 1, "duplicateFd", map[string]any{"fd": fd}).(int)
	call(t, s, 1, "seekInFile", map[string]any{"fd": dup, "position": 1})
	if got := call(t, s, 1, "read", map[string]any{"fd": fd}); got != "ello" {
		t.Errorf("read() after seek on duplicate = %q, want %q", got, "ello")
	}
	call(t, s, 1, "close", map[string]any{"fd": dup})
	call(t, s, 1, "close", map[string]any{"fd": fd})
	if err := callErr(s, 1, "close", map[string]any{"fd": fd}); !errors.Is(err, kerr.ErrNoSuchFD) {
		t.Errorf("second close() error = %v, want %v", err, kerr.ErrNoSuchFD)
	}

	call(t, s, 1, "changeWorkingDirectory", map[string]any{"path": "/tmp"})
	if got := call(t, s, 1, "getWorkingDirectory", nil); got != "/tmp" {
		t.Errorf("getWorkingDirectory() = %v, want /tmp", got)
	}
	fd = call(t, s, 1, "openFile", map[string]any{"path": "log"}).(int)
	if got := call(t, s, 1, "read", map[string]any{"fd": fd}); got != "hello" {
		t.Errorf("read() of relative path = %q, want %q", got, "hello")
	}

	tests := []struct {
		name    string
		syscall string
		args    map[string]any
		code    kerr.Code
		want    error
	}{
		{"missing file", "openFile", map[string]any{"path": "/tmp/nope"}, kerr.CodeNone, kerr.ErrNoSuchFile},
		{"write directory", "openFile", map[string]any{"path": "/tmp", "mode": "write"}, kerr.CodeIsDir, kerr.ErrIsDirectory},
		{"list file", "listDirectory", map[string]any{"path": "/tmp/log"}, kerr.CodeNotDir, kerr.ErrNotDirectory},
		{"cd into file", "changeWorkingDirectory", map[string]any{"path": "log"}, kerr.CodeNotDir, kerr.ErrNotDirectory},
		{"bad mode", "openFile", map[string]any{"path": "log", "mode": "exclusive"}, kerr.CodeInvalid, kerr.ErrInvalidArgument},
		{"seek console", "seekInFile", map[string]any{"fd": 0, "position": 0}, kerr.CodeSPipe, kerr.ErrNotSeekable},
		{"read write-only", "read", map[string]any{"fd": 1}, kerr.CodeNone, kerr.ErrBadFileMode},
		{"bad device request", "controlDevice", map[string]any{"fd": fd, "request": map[string]any{"x": 1}}, kerr.CodeNone, kerr.ErrBadDeviceRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callErr(s, 1, tt.syscall, tt.args)
			if !errors.Is(err, tt.want) {
				t.Fatalf("%s() error = %v, want %v", tt.syscall, err, tt.want)
			}
			if got := kerr.CodeOf(err); got != tt.code {
				t.Errorf("CodeOf(%v) = %q, want %q", err, got, tt.code)
			}
		})
	}
}

func TestFileSizeLimit(t *testing.T) {
	s, _ := newTestSystem(t)

	fd := call(t, s, 1, "openFile", map[string]any{
		"path": "/tmp/big", "createIfNecessary": true, "mode": "readwrite",
	}).(int)
	call(t, s, 1, "seekInFile", map[string]any{"fd": fd, "position": int64(1) << 62})
	if err := callErr(s, 1, "write", map[string]any{"fd": fd, "text": "x"}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("write() past size limit error = %v, want %v", err, kerr.ErrInvalidArgument)
	}
	if err := callErr(s, 1, "setFileLength", map[string]any{"fd": fd, "length": int64(1) << 62}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("setFileLength() past size limit error = %v, want %v", err, kerr.ErrInvalidArgument)
	}
	st := call(t, s, 1, "getFileStatus", map[string]any{"path": "/tmp/big"}).(vfs.Status)
	if st.Size != 0 {
		t.Errorf("getFileStatus().Size = %d, want 0", st.Size)
	}
}

func TestDirectorySyscalls(t *testing.T) {
	s, _ := newTestSystem(t)

	call(t, s, 1, "createDirectory", map[string]any{"path": "/home/user"})
	if err := callErr(s, 1, "createDirectory", map[string]any{"path": "/home/user"}); !errors.Is(err, kerr.ErrFileExists) {
		t.Errorf("createDirectory() twice error = %v, want %v", err, kerr.ErrFileExists)
	}
	call(t, s, 1, "openFile", map[string]any{"path": "/home/user/a", "createIfNecessary": true})

	if err := callErr(s, 1, "removeFile", map[string]any{"path": "/home/user"}); err == nil {
		t.Error("removeFile() of non-empty directory succeeded")
	}
	call(t, s, 1, "removeFile", map[string]any{"path": "/home/user/a"})
	call(t, s, 1, "removeFile", map[string]any{"path": "/home/user"})

	names := call(t, s, 1, "listDirectory", map[string]any{"path": "/home"}).([]string)
	if slices.Contains(names, "user") {
		t.Errorf("listDirectory(/home) = %v, want no user", names)
	}
}

func TestPipeSyscalls(t *testing.T) {
	s, _ := newTestSystem(t)

	fds := call(t, s, 1, "createPipe", nil).([]int)
	r, w := fds[0], fds[1]

	if err := callErr(s, 1, "read", map[string]any{"fd": r, "nonBlocking": true}); !errors.Is(err, kerr.ErrWouldBlock) {
		t.Errorf("non-blocking read() of empty pipe error = %v, want %v", err, kerr.ErrWouldBlock)
	}
	call(t, s, 1, "write", map[string]any{"fd": w, "text": "a"})
	call(t, s, 1, "write", map[string]any{"fd": w, "text": "b"})
	if got := call(t, s, 1, "read", map[string]any{"fd": r}); got != "ab" {
		t.Errorf("read() = %q, want %q", got, "ab")
	}

	call(t, s, 1, "close", map[string]any{"fd": w})
	if got := call(t, s, 1, "read", map[string]any{"fd": r}); got != "" {
		t.Errorf("read() after writer closed = %q, want end of file", got)
	}

	fds = call(t, s, 1, "createPipe", nil).([]int)
	call(t, s, 1, "close", map[string]any{"fd": fds[0]})
	err := callErr(s, 1, "write", map[string]any{"fd": fds[1], "text": "x"})
	if kerr.CodeOf(err) != kerr.CodePipe {
		t.Errorf("write() without readers error = %v, want EPIPE", err)
	}
}

func TestPollRead(t *testing.T) {
	s, _ := newTestSystem(t)

	a := call(t, s, 1, "createPipe", nil).([]int)
	b := call(t, s, 1, "createPipe", nil).([]int)

	got := call(t, s, 1, "pollRead", map[string]any{"fds": []int{a[0], b[0]}, "timeoutMillis": 20})
	if got != nil {
		t.Errorf("pollRead() with nothing buffered = %v, want nil", got)
	}

	call(t, s, 1, "write", map[string]any{"fd": b[1], "text": "x"})
	got = call(t, s, 1, "pollRead", map[string]any{"fds": []int{a[0], b[0]}})
	if got != b[0] {
		t.Errorf("pollRead() = %v, want %d", got, b[0])
	}

	if err := callErr(s, 1, "pollRead", map[string]any{"fds": []int{}}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("pollRead() of no fds error = %v, want %v", err, kerr.ErrInvalidArgument)
	}
}

func TestSleep(t *testing.T) {
	s, _ := newTestSystem(t)

	start := time.Now()
	call(t, s, 1, "sleep", map[string]any{"millis": 30})
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("sleep(30) returned after %v", elapsed)
	}
}

func TestSpawnAndWait(t *testing.T) {
	s, _ := newTestSystem(t)

	child := spawnChild(t, s, 1, map[string]any{"args": []any{"-v"}})
	p, _ := s.Process(child)
	if p.PPID() != 1 || p.PGID() != 1 || p.SID() != 1 {
		t.Errorf("child ppid=%d pgid=%d sid=%d, want 1 1 1", p.PPID(), p.PGID(), p.SID())
	}
	if got := p.FDs(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("child FDs() = %v, want inherited [0 1]", got)
	}
	if got := p.Args(); !slices.Equal(got, []string{"-v"}) {
		t.Errorf("child Args() = %v, want [-v]", got)
	}

	err := callErr(s, 1, "waitForExit", map[string]any{"pid": child, "nonBlocking": true})
	if !errors.Is(err, kerr.ErrWouldBlock) {
		t.Fatalf("non-blocking waitForExit() error = %v, want %v", err, kerr.ErrWouldBlock)
	}

	done := make(chan any, 1)
	go func() {
		v, err := s.Call(context.Background(), "waitForExit", map[string]any{"pid": child}, 1)
		if err != nil {
			done <- err
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	call(t, s, child, "exit", map[string]any{"exitValue": "done"})

	select {
	case got := <-done:
		if got != "done" {
			t.Errorf("waitForExit() = %v, want done", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waitForExit() did not return")
	}

	if err := callErr(s, 1, "waitForExit", map[string]any{"pid": child}); !errors.Is(err, kerr.ErrNoSuchProcess) {
		t.Errorf("second waitForExit() error = %v, want %v", err, kerr.ErrNoSuchProcess)
	}
	if _, err := s.Process(child); err == nil {
		t.Error("collected child still in the process table")
	}
}

func TestWaitAnyChild(t *testing.T) {
	s, _ := newTestSystem(t)

	if err := callErr(s, 1, "waitForExit", map[string]any{"pid": protocol.AnyChild}); !errors.Is(err, kerr.ErrNoChildren) {
		t.Fatalf("waitForExit(ANY_CHILD) error = %v, want %v", err, kerr.ErrNoChildren)
	}

	first := spawnChild(t, s, 1, nil)
	second := spawnChild(t, s, 1, nil)
	call(t, s, second, "exit", map[string]any{"exitValue": 7})

	got := call(t, s, 1, "waitForExit", map[string]any{"pid": protocol.AnyChild})
	want := ChildExit{PID: second, ExitValue: 7}
	if got != want {
		t.Errorf("waitForExit(ANY_CHILD) = %+v, want %+v", got, want)
	}

	err := callErr(s, 1, "waitForExit", map[string]any{"pid": protocol.AnyChild, "nonBlocking": true})
	if !errors.Is(err, kerr.ErrWouldBlock) {
		t.Errorf("waitForExit(ANY_CHILD) with %d running error = %v, want %v", first, err, kerr.ErrWouldBlock)
	}
}

func TestWaitForCrashedChild(t *testing.T) {
	s, _ := newTestSystem(t)

	child := spawnChild(t, s, 1, nil)
	call(t, s, child, "exit", map[string]any{
		"exitValue": map[string]any{"kind": "program", "message": "boom"},
	})

	err := callErr(s, 1, "waitForExit", map[string]any{"pid": child})
	var we *kerr.WaitError
	if !errors.As(err, &we) {
		t.Fatalf("waitForExit() error = %v, want *kerr.WaitError", err)
	}
	if we.PID != child || we.Err.Error() != "boom" {
		t.Errorf("WaitError = {%d, %v}, want {%d, boom}", we.PID, we.Err, child)
	}
	if got := protocol.FromError(err); got.Kind != protocol.ErrorWaitFailed || got.Cause.Kind != protocol.ErrorProgram {
		t.Errorf("FromError() = %+v", got)
	}
}

func TestSpawnFailuresDoNotLeak(t *testing.T) {
	s, l := newTestSystem(t)

	count, refs := s.Files().Count(), s.Files().Refs()

	tests := []struct {
		name string
		args map[string]any
		want error
	}{
		{"bad fd mapping", map[string]any{"programPath": "/bin/child", "fds": []any{0, 1, 9}}, kerr.ErrNoSuchFD},
		{"missing program", map[string]any{"programPath": "/bin/nope"}, kerr.ErrNoSuchProgram},
		{"not runnable", map[string]any{"programPath": "/home/notes"}, kerr.ErrNotRunnable},
		{"directory", map[string]any{"programPath": "/bin"}, kerr.ErrNotRunnable},
		{"no such group", map[string]any{"programPath": "/bin/child", "pgid": 42}, kerr.ErrNoSuchGroup},
		{"bad pgid", map[string]any{"programPath": "/bin/child", "pgid": "LATER"}, kerr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := callErr(s, 1, "spawn", tt.args); !errors.Is(err, tt.want) {
				t.Errorf("spawn() error = %v, want %v", err, tt.want)
			}
			if got := s.Files().Count(); got != count {
				t.Errorf("Files().Count() = %d, want %d", got, count)
			}
			if got := s.Files().Refs(); got != refs {
				t.Errorf("Files().Refs() = %d, want %d", got, refs)
			}
		})
	}

	l.mu.Lock()
	l.failStart = true
	l.mu.Unlock()
	if err := callErr(s, 1, "spawn", map[string]any{"programPath": "/bin/child"}); err == nil {
		t.Error("spawn() with failing unit succeeded")
	}
	if got := s.Files().Refs(); got != refs {
		t.Errorf("Files().Refs() after failed start = %d, want %d", got, refs)
	}
	reaper, _ := s.Process(initPID)
	if got := reaper.Children(); len(got) != 0 {
		t.Errorf("init Children() = %v, want none", got)
	}
}

func TestSpawnFDMapping(t *testing.T) {
	s, _ := newTestSystem(t)

	fds := call(t, s, 1, "createPipe", nil).([]int)
	child := spawnChild(t, s, 1, map[string]any{"fds": []any{fds[0], 1}})

	p, _ := s.Process(child)
	if got := p.FDs(); !slices.Equal(got, []int{0, 1}) {
		t.Fatalf("child FDs() = %v, want [0 1]", got)
	}
	call(t, s, 1, "write", map[string]any{"fd": fds[1], "text": "to child"})
	if got := call(t, s, child, "read", map[string]any{"fd": 0}); got != "to child" {
		t.Errorf("child read(0) = %q, want %q", got, "to child")
	}
}

func TestProcessGroups(t *testing.T) {
	s, _ := newTestSystem(t)

	leader := spawnChild(t, s, 1, map[string]any{"pgid": protocol.StartNew})
	member := spawnChild(t, s, 1, map[string]any{"pgid": leader})

	lp, _ := s.Process(leader)
	mp, _ := s.Process(member)
	if lp.PGID() != leader || mp.PGID() != leader {
		t.Errorf("pgids = %d, %d, want %d", lp.PGID(), mp.PGID(), leader)
	}

	if err := callErr(s, leader, "joinNewSessionAndProcessGroup", nil); !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("joinNewSessionAndProcessGroup() by group leader error = %v, want %v", err, kerr.ErrNotPermitted)
	}
	call(t, s, member, "joinNewSessionAndProcessGroup", nil)
	if mp.SID() != member || mp.PGID() != member {
		t.Errorf("after join sid=%d pgid=%d, want %d", mp.SID(), mp.PGID(), member)
	}

	err := callErr(s, member, "spawn", map[string]any{"programPath": "/bin/child", "pgid": leader})
	if !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("spawn() into another session's group error = %v, want %v", err, kerr.ErrNotPermitted)
	}

	call(t, s, 1, "sendSignalToProcessGroup", map[string]any{"signal": "kill", "pgid": leader})
	if !lp.Exited() {
		t.Error("group leader survived kill")
	}
	if mp.Exited() {
		t.Error("process that left the group was killed")
	}
	if err := callErr(s, 1, "sendSignalToProcessGroup", map[string]any{"signal": "kill", "pgid": leader}); !errors.Is(err, kerr.ErrNoSuchGroup) {
		t.Errorf("signal to empty group error = %v, want %v", err, kerr.ErrNoSuchGroup)
	}
}

func TestInterruptBehaviors(t *testing.T) {
	tests := []struct {
		name       string
		setup      string
		wantExited bool
	}{
		{"exit", "", true},
		{"ignore", "ignoreInterruptSignal", false},
		{"handle", "handleInterruptSignal", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSystem(t)
			child := spawnChild(t, s, 1, nil)
			if tt.setup != "" {
				call(t, s, child, tt.setup, nil)
			}

			call(t, s, 1, "sendSignal", map[string]any{"signal": "interrupt", "pid": child})

			p, _ := s.Process(child)
			if got := p.Exited(); got != tt.wantExited {
				t.Fatalf("Exited() = %v, want %v", got, tt.wantExited)
			}
			if tt.wantExited {
				got := call(t, s, 1, "waitForExit", map[string]any{"pid": child})
				if got != (process.SignalExit{Signal: ipc.SignalInterrupt}) {
					t.Errorf("waitForExit() = %v, want killed by interrupt", got)
				}
			}
		})
	}
}

func TestHandledInterruptRejectsPendingSyscalls(t *testing.T) {
	s, _ := newTestSystem(t)

	child := spawnChild(t, s, 1, nil)
	call(t, s, child, "handleInterruptSignal", nil)
	fds := call(t, s, child, "createPipe", nil).([]int)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), "read", map[string]any{"fd": fds[0]}, child)
		errc <- err
	}()

	p, _ := s.Process(child)
	deadline := time.Now().Add(2 * time.Second)
	for p.PendingSyscalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	call(t, s, 1, "sendSignal", map[string]any{"signal": "interrupt", "pid": child})

	select {
	case err := <-errc:
		if !errors.Is(err, kerr.ErrInterrupted) {
			t.Errorf("read() error = %v, want %v", err, kerr.ErrInterrupted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending read() was not interrupted")
	}
	if p.Exited() {
		t.Error("handling process exited")
	}
}

func TestExitReparentsChildren(t *testing.T) {
	s, l := newTestSystem(t)

	parent := spawnChild(t, s, 1, nil)
	grandchild := spawnChild(t, s, parent, nil)

	call(t, s, 1, "sendSignal", map[string]any{"signal": "kill", "pid": parent})

	gp, _ := s.Process(grandchild)
	if gp.PPID() != initPID {
		t.Errorf("orphan PPID() = %d, want %d", gp.PPID(), initPID)
	}
	reaper, _ := s.Process(initPID)
	if !reaper.HasChild(grandchild) {
		t.Errorf("init Children() = %v, want %d", reaper.Children(), grandchild)
	}

	pu := l.units[1]
	select {
	case <-pu.terminated:
	default:
		t.Error("killed process unit was not terminated")
	}
	if got := call(t, s, 1, "waitForExit", map[string]any{"pid": parent}); got != (process.SignalExit{Signal: ipc.SignalKill}) {
		t.Errorf("waitForExit() = %v", got)
	}
}

func TestInitExitDropsZombieOrphans(t *testing.T) {
	s, l := newTestSystem(t)

	dead := spawnChild(t, s, 1, nil)
	live := spawnChild(t, s, 1, nil)
	call(t, s, 1, "sendSignal", map[string]any{"signal": "kill", "pid": dead})

	l.units[0].host.Finished(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if _, err := s.Process(dead); !errors.Is(err, kerr.ErrNoSuchProcess) {
		t.Errorf("Process(zombie orphan) error = %v, want %v", err, kerr.ErrNoSuchProcess)
	}
	lp, err := s.Process(live)
	if err != nil {
		t.Fatalf("Process(live orphan) error = %v", err)
	}
	if lp.PPID() != 0 {
		t.Errorf("live orphan PPID() = %d, want 0", lp.PPID())
	}
	for _, p := range s.Processes() {
		if p.PID() == dead || p.PID() == initPID {
			t.Errorf("Processes() still lists pid %d", p.PID())
		}
	}
}

func TestTerminalResizeForwarded(t *testing.T) {
	s, l := newTestSystem(t)

	child := spawnChild(t, s, 1, nil)
	call(t, s, 1, "sendSignal", map[string]any{"signal": "terminalResize", "pid": child})

	p, _ := s.Process(child)
	if p.Exited() {
		t.Fatal("terminalResize was lethal")
	}
	u := l.units[1]
	u.mu.Lock()
	defer u.mu.Unlock()
	if !slices.Equal(u.signals, []ipc.Signal{ipc.SignalTerminalResize}) {
		t.Errorf("unit signals = %v, want [terminalResize]", u.signals)
	}
}

func TestPseudoTerminal(t *testing.T) {
	s, _ := newTestSystem(t)

	shell := spawnChild(t, s, 1, nil)
	if err := callErr(s, shell, "createPseudoTerminal", nil); !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("createPseudoTerminal() by non-leader error = %v, want %v", err, kerr.ErrNotPermitted)
	}
	call(t, s, shell, "joinNewSessionAndProcessGroup", nil)

	master := call(t, s, shell, "createPseudoTerminal", nil).(int)
	if err := callErr(s, shell, "createPseudoTerminal", nil); !errors.Is(err, kerr.ErrTerminalExists) {
		t.Errorf("second createPseudoTerminal() error = %v, want %v", err, kerr.ErrTerminalExists)
	}
	if names := call(t, s, shell, "listDirectory", map[string]any{"path": "/dev/pts"}).([]string); !slices.Contains(names, "0") {
		t.Errorf("listDirectory(/dev/pts) = %v, want 0", names)
	}

	slave := call(t, s, shell, "openPseudoTerminalSlave", nil).(int)
	call(t, s, shell, "write", map[string]any{"fd": master, "text": "ls\n"})
	if got := call(t, s, shell, "read", map[string]any{"fd": slave}); got != "ls\n" {
		t.Errorf("slave read() = %q, want %q", got, "ls\n")
	}
	if got := call(t, s, shell, "read", map[string]any{"fd": master}); got != "ls\n" {
		t.Errorf("master read() echo = %q, want %q", got, "ls\n")
	}

	size := call(t, s, shell, "configurePseudoTerminal", map[string]any{"getTerminalSize": true})
	if size == nil {
		t.Error("getTerminalSize returned nil")
	}
	if err := callErr(s, shell, "configurePseudoTerminal", map[string]any{}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("empty configurePseudoTerminal() error = %v, want %v", err, kerr.ErrInvalidArgument)
	}

	job := spawnChild(t, s, shell, nil)
	if err := callErr(s, 1, "openPseudoTerminalSlave", nil); !errors.Is(err, kerr.ErrNoTerminal) {
		t.Errorf("openPseudoTerminalSlave() outside session error = %v, want %v", err, kerr.ErrNoTerminal)
	}

	call(t, s, shell, "exit", map[string]any{"exitValue": 0})

	jp, _ := s.Process(job)
	if !jp.Exited() {
		t.Fatal("foreground job survived its session leader")
	}
	if v, _ := jp.ExitValue(); v != (process.SignalExit{Signal: ipc.SignalHangup}) {
		t.Errorf("job exit value = %v, want killed by hangup", v)
	}
	if got := s.Terminals(); got != 0 {
		t.Errorf("Terminals() = %d, want 0", got)
	}
}

func TestListProcesses(t *testing.T) {
	s, _ := newTestSystem(t)

	child := spawnChild(t, s, 1, map[string]any{"args": []any{"hello world"}})
	infos := call(t, s, 1, "listProcesses", nil).([]process.Info)
	if len(infos) != 2 || infos[0].PID != 1 || infos[1].PID != child {
		t.Fatalf("listProcesses() = %+v", infos)
	}
	if !strings.Contains(infos[1].CommandLine, "hello world") {
		t.Errorf("CommandLine = %q", infos[1].CommandLine)
	}

	self := call(t, s, child, "getProcessInfo", nil).(process.Info)
	if self.PPID != 1 || self.State != process.StateRunning.String() {
		t.Errorf("getProcessInfo() = %+v", self)
	}
}

func TestUnitHost(t *testing.T) {
	s, l := newTestSystem(t)

	u := l.units[0]
	u.host.Syscall(protocol.SyscallRequest{Syscall: "getWorkingDirectory", SequenceNum: 1})
	u.host.Syscall(protocol.SyscallRequest{Syscall: "createPipe", SequenceNum: 2})

	got := map[int]protocol.SyscallResult{}
	for len(got) < 2 {
		select {
		case res := <-u.results:
			got[res.SequenceNum] = res
		case <-time.After(2 * time.Second):
			t.Fatalf("results = %v, want 2", got)
		}
	}
	if got[1].Success != "/" {
		t.Errorf("getWorkingDirectory result = %v, want /", got[1].Success)
	}
	if fds, ok := protocol.Ints(got[2].Success); !ok || len(fds) != 2 {
		t.Errorf("createPipe result = %#v, want two fds", got[2].Success)
	}

	u.host.Syscall(protocol.SyscallRequest{Syscall: "fork", SequenceNum: 3})
	select {
	case res := <-u.results:
		if !errors.Is(res.Err, kerr.ErrNoSuchSyscall) {
			t.Errorf("fork result error = %v, want %v", res.Err, kerr.ErrNoSuchSyscall)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result for unknown syscall")
	}

	u.host.Finished("bye")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.Wait(ctx)
	if err != nil || v != "bye" {
		t.Errorf("Wait() = %v, %v, want bye", v, err)
	}
}

type panicDisplay struct{}

func (panicDisplay) OpenWindow(context.Context, WindowSpec) (vfs.File, error) {
	panic("display unavailable")
}

func TestUnitHostRecoversSyscallPanic(t *testing.T) {
	l := &testLauncher{}
	s := New(config.DefaultConfig().Kernel, WithLauncher(l), WithDisplay(panicDisplay{}))
	if err := s.InstallProgram("/sys/init", testProgram); err != nil {
		t.Fatalf("InstallProgram() error = %v", err)
	}
	if _, err := s.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	defer s.Shutdown()

	u := l.units[0]
	u.host.Syscall(protocol.SyscallRequest{Syscall: "graphics", SequenceNum: 1, Arg: map[string]any{
		"title": "w", "size": []any{10, 10}, "resizable": false,
	}})
	select {
	case res := <-u.results:
		if !errors.Is(res.Err, kerr.ErrKernelFault) {
			t.Errorf("graphics result error = %v, want %v", res.Err, kerr.ErrKernelFault)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result for panicking syscall")
	}

	u.host.Syscall(protocol.SyscallRequest{Syscall: "getWorkingDirectory", SequenceNum: 2})
	select {
	case res := <-u.results:
		if res.Success != "/" {
			t.Errorf("getWorkingDirectory result = %v, want /", res.Success)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kernel stopped serving after a panic")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := &testLauncher{}
	s := New(config.DefaultConfig().Kernel, WithLauncher(l), WithRegisterer(reg))
	if err := s.InstallProgram("/sys/init", testProgram); err != nil {
		t.Fatalf("InstallProgram() error = %v", err)
	}
	if _, err := s.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	defer s.Shutdown()

	call(t, s, 1, "getWorkingDirectory", nil)
	_ = callErr(s, 1, "close", map[string]any{"fd": 7})
	_ = callErr(s, 1, "fork", nil)

	m := s.Metrics()
	if got := testutil.ToFloat64(m.Syscalls.WithLabelValues("getWorkingDirectory", "success")); got != 1 {
		t.Errorf("getWorkingDirectory successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Syscalls.WithLabelValues("close", "error")); got != 1 {
		t.Errorf("close errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Syscalls.WithLabelValues(unknownSyscall, "error")); got != 1 {
		t.Errorf("unknown syscall errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProcessesSpawned); got != 1 {
		t.Errorf("ProcessesSpawned = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OpenFiles); got != 2 {
		t.Errorf("OpenFiles = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "webkernel_process_userland_activity"); err != nil || n != 1 {
		t.Errorf("GatherAndCount(activity) = %d, %v, want 1", n, err)
	}
}
