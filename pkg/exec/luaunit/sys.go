package luaunit

import (
	"context"
	"strings"
	"time"

	"webkernel/pkg/libc"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/vfs"

	lua "github.com/yuin/gopher-lua"
)

// sysLib implements the sys module on top of a libc client.
type sysLib struct {
	ctx     context.Context
	client  *libc.Client
	signals <-chan ipc.Signal
}

func (s *sysLib) module(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"call":    s.call,
		"read":    s.read,
		"write":   s.write,
		"open":    s.open,
		"close":   s.close,
		"spawn":   s.spawn,
		"wait":    s.wait,
		"exit":    s.exit,
		"sleep":   s.sleep,
		"signals": s.pendingSignals,
	})
}

func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

// call(name, args) issues any syscall and returns its result.
func (s *sysLib) call(L *lua.LState) int {
	name := L.CheckString(1)
	args := map[string]any{}
	if t, ok := L.Get(2).(*lua.LTable); ok {
		if m, ok := toGo(t).(map[string]any); ok {
			args = m
		}
	}
	v, err := s.client.Call(s.ctx, name, args)
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, v))
	return 1
}

// read(fd) returns the next chunk, "" at end of file.
func (s *sysLib) read(L *lua.LState) int {
	text, err := s.client.Read(s.ctx, L.CheckInt(1))
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(text))
	return 1
}

// write(fd, text)
func (s *sysLib) write(L *lua.LState) int {
	if err := s.client.Write(s.ctx, L.CheckInt(1), L.CheckString(2)); err != nil {
		return raise(L, err)
	}
	return 0
}

// open(path [, mode [, create]]) returns an fd.
func (s *sysLib) open(L *lua.LState) int {
	path := L.CheckString(1)
	mode := vfs.Mode(L.OptString(2, ""))
	create := L.OptBool(3, false)
	fd, err := s.client.Open(s.ctx, path, mode, create)
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LNumber(fd))
	return 1
}

// close(fd)
func (s *sysLib) close(L *lua.LState) int {
	if err := s.client.CloseFD(s.ctx, L.CheckInt(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

// spawn(path [, args [, opts]]) returns the child pid. opts may hold fds
// and pgid.
func (s *sysLib) spawn(L *lua.LState) int {
	path := L.CheckString(1)
	var opts libc.SpawnOptions
	if t, ok := L.Get(2).(*lua.LTable); ok {
		opts.Args = stringList(t)
	}
	if t, ok := L.Get(3).(*lua.LTable); ok {
		if fds, ok := t.RawGetString("fds").(*lua.LTable); ok {
			opts.FDs = intList(fds)
		}
		if pgid := t.RawGetString("pgid"); pgid != lua.LNil {
			opts.PGID = toGo(pgid)
		}
	}
	pid, err := s.client.Spawn(s.ctx, path, opts)
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LNumber(pid))
	return 1
}

// wait(pid) returns the child's exit value.
func (s *sysLib) wait(L *lua.LState) int {
	v, err := s.client.Wait(s.ctx, L.CheckInt(1))
	if err != nil {
		return raise(L, err)
	}
	L.Push(toLua(L, v))
	return 1
}

// exit(value) never returns.
func (s *sysLib) exit(L *lua.LState) int {
	s.client.Exit(toGo(L.Get(1)))
	select {
	case <-s.client.Done():
	case <-s.ctx.Done():
	}
	L.RaiseError("process exited")
	return 0
}

// sleep(millis)
func (s *sysLib) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond
	if err := s.client.Sleep(s.ctx, d); err != nil {
		return raise(L, err)
	}
	return 0
}

// signals() returns the names of the signals received since the last call.
func (s *sysLib) pendingSignals(L *lua.LState) int {
	t := L.NewTable()
	for {
		select {
		case sig := <-s.signals:
			t.Append(lua.LString(sig))
		default:
			L.Push(t)
			return 1
		}
	}
}

// print writes its arguments to fd 1 the way Lua's print formats them.
func (s *sysLib) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	_ = s.client.Write(s.ctx, 1, strings.Join(parts, "\t")+"\n")
	return 0
}
