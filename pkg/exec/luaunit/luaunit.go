// Package luaunit runs "#!lua" programs on gopher-lua.
//
// Each process gets its own interpreter state with the base, table, string
// and math libraries. The environment adds:
//
//	pid          the process id
//	args         the argument list
//	print(...)   writes its arguments, tab separated, to fd 1
//	sys          the syscall module: call, read, write, open, close, spawn,
//	             wait, exit, sleep, signals
//
// The value the chunk returns is the exit value. A Lua error that escapes
// the chunk crashes the process with the error message.
package luaunit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webkernel/pkg/config"
	"webkernel/pkg/exec"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Interpreter is the shebang name of Lua programs.
const Interpreter = "lua"

// Factory creates Lua units. It implements exec.Factory.
type Factory struct {
	cfg config.LuaConfig
}

// NewFactory creates a factory whose interpreters are bounded by cfg.
func NewFactory(cfg config.LuaConfig) *Factory {
	return &Factory{cfg: cfg}
}

// NewUnit compiles body. Syntax errors fail here, before a process exists.
func (f *Factory) NewUnit(_ string, body string) (process.Unit, error) {
	// The shebang line was cut off; keep line numbers as the author sees them.
	proto, err := compile("\n" + body)
	if err != nil {
		return nil, fmt.Errorf("lua: %w", err)
	}
	return &unit{proto: proto, cfg: f.cfg, rt: exec.NewRuntime("luaunit")}, nil
}

func compile(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "program")
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, "program")
}

type unit struct {
	proto *lua.FunctionProto
	cfg   config.LuaConfig
	rt    *exec.Runtime
}

func (u *unit) Start(msg protocol.StartProcess, host process.Host) error {
	ctx, client, ok := u.rt.Begin(host)
	if !ok {
		return nil
	}
	go func() {
		value, err := exec.Recover(func() (any, error) {
			return u.run(ctx, &sysLib{ctx: ctx, client: client, signals: u.rt.Signals()}, msg)
		})
		u.rt.Finish(value, err)
	}()
	return nil
}

func (u *unit) run(ctx context.Context, lib *sysLib, msg protocol.StartProcess) (any, error) {
	L := lua.NewState(lua.Options{
		CallStackSize: u.cfg.CallStackSize,
		RegistrySize:  u.cfg.RegistrySize,
		SkipOpenLibs:  true,
	})
	defer L.Close()

	openLibraries(L)
	L.SetContext(ctx)

	L.SetGlobal("pid", lua.LNumber(msg.PID))
	L.SetGlobal("args", toLua(L, msg.Args))
	L.SetGlobal("print", L.NewFunction(lib.print))
	L.SetGlobal("sys", lib.module(L))

	L.Push(L.NewFunctionFromProto(u.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, luaError(err)
	}
	return toGo(L.Get(-1)), nil
}

func (u *unit) Deliver(res protocol.SyscallResult) { u.rt.Deliver(res) }
func (u *unit) Signal(sig ipc.Signal)              { u.rt.Signal(sig) }
func (u *unit) Terminate()                         { u.rt.Terminate() }

// openLibraries opens the libraries that cannot reach the host.
func openLibraries(L *lua.LState) {
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// luaError strips the interpreter's wrapping from an error raised by the
// program.
func luaError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil && apiErr.Object != lua.LNil {
		return errors.New(apiErr.Object.String())
	}
	return err
}
