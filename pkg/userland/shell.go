package userland

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"webkernel/pkg/exec"
	"webkernel/pkg/libc"
	"webkernel/pkg/parser"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"
)

const prompt = "$ "

// lineReader splits the chunks read from an fd into lines.
type lineReader struct {
	sys *libc.Client
	fd  int
	buf string
	eof bool
}

// readLine returns the next line without its newline. At end of file it
// returns the unterminated rest and sets eof.
func (r *lineReader) readLine(ctx context.Context) (string, error) {
	for {
		if line, rest, ok := strings.Cut(r.buf, "\n"); ok {
			r.buf = rest
			return line, nil
		}
		if r.eof {
			line := r.buf
			r.buf = ""
			return line, nil
		}
		chunk, err := r.sys.Read(ctx, r.fd)
		if err != nil {
			return "", err
		}
		if chunk == "" {
			r.eof = true
		}
		r.buf += chunk
	}
}

// shell reads command lines from standard input, or from the script named
// by its first argument, and runs them. Its exit value is the last
// command's.
func shell(ctx context.Context, env *exec.Env) (any, error) {
	sh := &shellState{env: env, status: 0}
	in := &lineReader{sys: env.Sys, fd: 0}
	interactive := true
	if len(env.Args) > 0 {
		fd, err := env.Sys.Open(ctx, env.Args[0], "", false)
		if err != nil {
			return nil, err
		}
		in.fd = fd
		interactive = false
	}

	for {
		sh.reapJobs(ctx)
		if interactive {
			if err := env.Sys.Write(ctx, 1, prompt); err != nil {
				return nil, err
			}
		}
		line, err := in.readLine(ctx)
		if err != nil {
			return nil, err
		}
		if in.eof && line == "" {
			return sh.status, nil
		}

		list, err := parser.ParseString(line)
		if err != nil {
			sh.report(ctx, "sh", err)
			sh.status = 2
			continue
		}
		if sh.runList(ctx, list) {
			return sh.status, nil
		}
	}
}

type shellState struct {
	env    *exec.Env
	status any
	// jobs maps background pids to their command lines.
	jobs map[int]string
}

func succeeded(v any) bool {
	n, ok := protocol.Int(v)
	return ok && n == 0
}

// runList runs the pipelines of one line and reports whether the shell
// should exit.
func (sh *shellState) runList(ctx context.Context, list *parser.List) bool {
	for i, pl := range list.Pipelines {
		if i > 0 {
			prev := list.Pipelines[i-1]
			if prev.And && !succeeded(sh.status) || prev.Or && succeeded(sh.status) {
				continue
			}
		}
		if exit := sh.runPipeline(ctx, pl); exit {
			return true
		}
	}
	return false
}

func (sh *shellState) report(ctx context.Context, name string, err error) {
	sh.env.Sys.Write(ctx, 1, name+": "+err.Error()+"\n")
}

// builtin runs cmd when it is a builtin and reports whether it was.
func (sh *shellState) builtin(ctx context.Context, cmd *parser.Command) (handled, exit bool) {
	var err error
	switch cmd.Name {
	case "exit":
		if len(cmd.Args) > 0 {
			n, err := strconv.Atoi(cmd.Args[0])
			if err != nil {
				sh.report(ctx, "exit", fmt.Errorf("%s: numeric argument required", cmd.Args[0]))
				n = 2
			}
			sh.status = n
		}
		return true, true
	case "cd":
		dir := "/"
		if len(cmd.Args) > 0 {
			dir = cmd.Args[0]
		}
		err = sh.env.Sys.Chdir(ctx, dir)
	case "pwd":
		var wd string
		if wd, err = sh.env.Sys.Getwd(ctx); err == nil {
			err = sh.env.Sys.Write(ctx, 1, wd+"\n")
		}
	case "jobs":
		for pid, line := range sh.jobs {
			if err = sh.env.Sys.Write(ctx, 1, fmt.Sprintf("[%d] %s\n", pid, line)); err != nil {
				break
			}
		}
	default:
		return false, false
	}
	if err != nil {
		sh.report(ctx, "sh", err)
		sh.status = 1
	} else {
		sh.status = 0
	}
	return true, false
}

// runPipeline spawns every command of pl with its standard input and
// output joined by pipes or redirected to files, then waits for them
// unless pl runs in the background. The status is the last command's.
func (sh *shellState) runPipeline(ctx context.Context, pl *parser.Pipeline) (exit bool) {
	if len(pl.Commands) == 1 && len(pl.Commands[0].Redirections) == 0 && !pl.Background {
		if handled, exit := sh.builtin(ctx, pl.Commands[0]); handled {
			return exit
		}
	}

	sys := sh.env.Sys
	var open []int
	closeAll := func() {
		for _, fd := range open {
			sys.CloseFD(ctx, fd)
		}
		open = nil
	}
	defer closeAll()

	type job struct {
		pid  int
		name string
	}
	var started []job
	lastStarted := false
	stdin := 0
	for i, cmd := range pl.Commands {
		in, out := stdin, 1
		if i < len(pl.Commands)-1 {
			r, w, err := sys.Pipe(ctx)
			if err != nil {
				sh.report(ctx, "sh", err)
				break
			}
			open = append(open, r, w)
			out, stdin = w, r
		}

		in, out, opened, err := sh.redirect(ctx, cmd, in, out)
		open = append(open, opened...)
		if err != nil {
			sh.report(ctx, cmd.Name, err)
			continue
		}

		pid, err := sys.Spawn(ctx, commandPath(cmd.Name), libc.SpawnOptions{
			Args: cmd.Args,
			FDs:  []int{in, out},
		})
		if err != nil {
			sh.report(ctx, "sh", err)
			continue
		}
		started = append(started, job{pid: pid, name: cmd.Name})
		lastStarted = i == len(pl.Commands)-1
	}

	// Children hold their own copies, so pipe readers see end of file once
	// the writers exit.
	closeAll()

	if pl.Background {
		if sh.jobs == nil {
			sh.jobs = map[int]string{}
		}
		for _, j := range started {
			sh.jobs[j.pid] = pl.String()
		}
		if n := len(started); n > 0 {
			sys.Write(ctx, 1, fmt.Sprintf("[%d]\n", started[n-1].pid))
		}
		sh.status = 0
		return false
	}

	var value any = 1
	for i, j := range started {
		v, err := sys.Wait(ctx, j.pid)
		if err != nil {
			sh.report(ctx, j.name, err)
			v = 1
		}
		if lastStarted && i == len(started)-1 {
			value = v
			if !succeeded(v) {
				sys.Write(ctx, 1, "["+j.name+" exited with "+protocol.FormatValue(v)+"]\n")
			}
		}
	}
	sh.status = value
	return false
}

// redirect opens the files of cmd's redirections in order. The last
// input and output redirections replace in and out.
func (sh *shellState) redirect(ctx context.Context, cmd *parser.Command, in, out int) (int, int, []int, error) {
	sys := sh.env.Sys
	var opened []int
	for _, r := range cmd.Redirections {
		var fd int
		var err error
		switch r.Type {
		case parser.RedirInput:
			fd, err = sys.Open(ctx, r.File, vfs.ModeRead, false)
		case parser.RedirOutput:
			if fd, err = sys.Open(ctx, r.File, vfs.ModeWrite, true); err == nil {
				opened = append(opened, fd)
				err = sys.Truncate(ctx, fd, 0)
			}
		case parser.RedirAppend:
			fd, err = sys.Open(ctx, r.File, vfs.ModeAppend, true)
		}
		if err != nil {
			return in, out, opened, fmt.Errorf("%s: %w", r.File, err)
		}
		if r.Type != parser.RedirOutput {
			opened = append(opened, fd)
		}
		if r.Type == parser.RedirInput {
			in = fd
		} else {
			out = fd
		}
	}
	return in, out, opened, nil
}

// reapJobs collects finished background jobs and reports them.
func (sh *shellState) reapJobs(ctx context.Context) {
	for len(sh.jobs) > 0 {
		pid, value, ok, err := sh.env.Sys.TryWaitAny(ctx)
		if err != nil || !ok {
			return
		}
		line, known := sh.jobs[pid]
		delete(sh.jobs, pid)
		if known {
			sh.env.Sys.Write(ctx, 1, fmt.Sprintf("[%d] done %s (%s)\n", pid, line, protocol.FormatValue(value)))
		}
	}
}

// commandPath resolves a name without a slash against /bin.
func commandPath(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "/bin/" + name
}
