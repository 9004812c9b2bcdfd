// Package userland holds the built-in Go programs: an init that reaps
// orphans, a line-oriented shell and a few file and process tools.
package userland

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"webkernel/pkg/exec"
	"webkernel/pkg/libc"
	"webkernel/pkg/protocol"
)

// ShellPath is where init finds the shell.
const ShellPath = "/bin/sh"

// Installer writes a program into the kernel's file system.
type Installer interface {
	InstallProgram(path, code string) error
}

var programs = map[string]exec.Program{
	"init":  initProgram,
	"sh":    shell,
	"echo":  echo,
	"cat":   cat,
	"wc":    wc,
	"ls":    ls,
	"mkdir": mkdir,
	"rm":    rm,
	"ps":    ps,
	"kill":  kill,
	"sleep": sleep,
}

// Register makes every built-in runnable through m.
func Register(m *exec.Mux) {
	for name, prog := range programs {
		m.Register(name, prog)
	}
}

// Install writes the launcher files: /sys/init and /bin/<name> for the
// rest.
func Install(sys Installer) error {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := "/bin/" + name
		if name == "init" {
			path = "/sys/init"
		}
		if err := sys.InstallProgram(path, "#!go "+name); err != nil {
			return fmt.Errorf("install %s: %w", path, err)
		}
	}
	return nil
}

// initProgram runs the shell named by its first argument, or ShellPath,
// and reaps every child until the shell exits. The shell's exit value is
// init's.
func initProgram(ctx context.Context, env *exec.Env) (any, error) {
	path := ShellPath
	if len(env.Args) > 0 {
		path = env.Args[0]
	}
	shellPID, err := env.Sys.Spawn(ctx, path, libc.SpawnOptions{})
	if err != nil {
		return nil, err
	}
	for {
		pid, value, err := env.Sys.WaitAny(ctx)
		if err != nil {
			return nil, err
		}
		if pid == shellPID {
			return value, nil
		}
	}
}

func write(ctx context.Context, env *exec.Env, format string, args ...any) error {
	return env.Sys.Write(ctx, 1, fmt.Sprintf(format, args...))
}

func echo(ctx context.Context, env *exec.Env) (any, error) {
	return 0, write(ctx, env, "%s\n", strings.Join(env.Args, " "))
}

// copyFD copies fd to standard output until end of file.
func copyFD(ctx context.Context, env *exec.Env, fd int) error {
	for {
		text, err := env.Sys.Read(ctx, fd)
		if err != nil {
			return err
		}
		if text == "" {
			return nil
		}
		if err := env.Sys.Write(ctx, 1, text); err != nil {
			return err
		}
	}
}

func cat(ctx context.Context, env *exec.Env) (any, error) {
	if len(env.Args) == 0 {
		return 0, copyFD(ctx, env, 0)
	}
	for _, path := range env.Args {
		fd, err := env.Sys.Open(ctx, path, "", false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		err = copyFD(ctx, env, fd)
		env.Sys.CloseFD(ctx, fd)
		if err != nil {
			return nil, err
		}
	}
	return 0, nil
}

// wc prints the line, word and byte counts of standard input.
func wc(ctx context.Context, env *exec.Env) (any, error) {
	var lines, words, bytes int
	inWord := false
	for {
		text, err := env.Sys.Read(ctx, 0)
		if err != nil {
			return nil, err
		}
		if text == "" {
			break
		}
		bytes += len(text)
		for _, r := range text {
			if r == '\n' {
				lines++
			}
			space := unicode.IsSpace(r)
			if !space && !inWord {
				words++
			}
			inWord = !space
		}
	}
	return 0, write(ctx, env, "%d %d %d\n", lines, words, bytes)
}

func ls(ctx context.Context, env *exec.Env) (any, error) {
	dir := "."
	if len(env.Args) > 0 {
		dir = env.Args[0]
	}
	names, err := env.Sys.ListDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if name != "." && name != ".." {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return 0, nil
	}
	return 0, write(ctx, env, "%s\n", strings.Join(out, "\n"))
}

func mkdir(ctx context.Context, env *exec.Env) (any, error) {
	for _, path := range env.Args {
		if _, err := env.Sys.Call(ctx, "createDirectory", map[string]any{"path": path}); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return 0, nil
}

func rm(ctx context.Context, env *exec.Env) (any, error) {
	for _, path := range env.Args {
		if _, err := env.Sys.Call(ctx, "removeFile", map[string]any{"path": path}); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return 0, nil
}

func ps(ctx context.Context, env *exec.Env) (any, error) {
	procs, err := env.Sys.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%5s %5s %5s %-8s %s\n", "PID", "PPID", "PGID", "STATE", "COMMAND")
	for _, p := range procs {
		pid, _ := protocol.Int(p["pid"])
		ppid, _ := protocol.Int(p["ppid"])
		pgid, _ := protocol.Int(p["pgid"])
		state, _ := protocol.String(p["state"])
		cmd, _ := protocol.String(p["commandLine"])
		fmt.Fprintf(&b, "%5d %5d %5d %-8s %s\n", pid, ppid, pgid, state, cmd)
	}
	return 0, env.Sys.Write(ctx, 1, b.String())
}

// kill [signal] pid...
func kill(ctx context.Context, env *exec.Env) (any, error) {
	args := env.Args
	sig := "kill"
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			sig, args = args[0], args[1:]
		}
	}
	if len(args) == 0 {
		return nil, errors.New("usage: kill [signal] pid...")
	}
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pid %q", arg)
		}
		if err := env.Sys.Kill(ctx, pid, sig); err != nil {
			return nil, fmt.Errorf("%d: %w", pid, err)
		}
	}
	return 0, nil
}

// sleep millis
func sleep(ctx context.Context, env *exec.Env) (any, error) {
	if len(env.Args) != 1 {
		return nil, errors.New("usage: sleep millis")
	}
	ms, err := strconv.Atoi(env.Args[0])
	if err != nil {
		return nil, err
	}
	return 0, env.Sys.Sleep(ctx, time.Duration(ms)*time.Millisecond)
}
