package kernel

import (
	"context"
	"errors"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"
)

func (s *System) procSpawn(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "programPath")
	if err != nil {
		return nil, err
	}
	argv, err := stringsArg(args, "args")
	if err != nil {
		return nil, err
	}
	group, err := ParseGroupOption(args["pgid"])
	if err != nil {
		return nil, err
	}

	var fds map[int]*vfs.FileDescriptor
	if v, ok := args["fds"]; ok && v != nil {
		mapping, ok := protocol.Ints(v)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "fds")
		}
		fds, err = duplicateFDs(p, mapping)
	} else {
		fds, err = duplicateFDs(p, nil)
	}
	if err != nil {
		return nil, err
	}

	child, err := s.Spawn(SpawnConfig{
		ProgramPath: path,
		Args:        argv,
		Parent:      p,
		Group:       group,
		FDs:         fds,
	})
	if err != nil {
		return nil, err
	}
	return child.PID(), nil
}

// duplicateFDs duplicates the parent's descriptors for a child: child fd i
// gets parent fd mapping[i], or every parent fd at its own number when
// mapping is nil. On failure the duplicates made so far are closed.
func duplicateFDs(p *process.Process, mapping []int) (map[int]*vfs.FileDescriptor, error) {
	if mapping == nil {
		mapping = p.FDs()
		out := make(map[int]*vfs.FileDescriptor, len(mapping))
		for _, n := range mapping {
			if err := duplicateInto(out, p, n, n); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	out := make(map[int]*vfs.FileDescriptor, len(mapping))
	for child, parent := range mapping {
		if err := duplicateInto(out, p, child, parent); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func duplicateInto(out map[int]*vfs.FileDescriptor, p *process.Process, child, parent int) error {
	fd, err := p.FD(parent)
	if err == nil {
		var dup *vfs.FileDescriptor
		if dup, err = fd.Duplicate(); err == nil {
			out[child] = dup
			return nil
		}
	}
	errs := []error{err}
	for _, dup := range out {
		errs = append(errs, dup.Close())
	}
	return errors.Join(errs...)
}

func (s *System) procWaitForExit(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	nonBlocking, err := boolArg(args, "nonBlocking", false)
	if err != nil {
		return nil, err
	}
	if name, ok := args["pid"].(string); ok {
		if name != protocol.AnyChild {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "pid")
		}
		return s.waitForChild(ctx, p, 0, true, nonBlocking)
	}
	pid, err := intArg(args, "pid")
	if err != nil {
		return nil, err
	}
	return s.waitForChild(ctx, p, pid, false, nonBlocking)
}

func (s *System) procExit(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	s.exitProcess(p, exitValueFromWire(args["exitValue"]), "exit")
	return nil, nil
}

func (s *System) procSendSignal(_ context.Context, _ *process.Process, args map[string]any) (any, error) {
	sig, err := signalArg(args)
	if err != nil {
		return nil, err
	}
	pid, err := intArg(args, "pid")
	if err != nil {
		return nil, err
	}
	return nil, s.SendSignal(sig, pid)
}

func (s *System) procSendSignalToProcessGroup(_ context.Context, _ *process.Process, args map[string]any) (any, error) {
	sig, err := signalArg(args)
	if err != nil {
		return nil, err
	}
	pgid, err := intArg(args, "pgid")
	if err != nil {
		return nil, err
	}
	return nil, s.SendSignalToProcessGroup(sig, pgid)
}

func signalArg(args map[string]any) (ipc.Signal, error) {
	name, err := stringArg(args, "signal")
	if err != nil {
		return "", err
	}
	return ipc.ParseSignal(name)
}

func (s *System) procIgnoreInterruptSignal(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	p.SetInterruptBehavior(process.InterruptIgnore)
	return nil, nil
}

func (s *System) procHandleInterruptSignal(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	p.SetInterruptBehavior(process.InterruptHandle)
	return nil, nil
}

// procJoinNewSessionAndProcessGroup makes p the leader of a new session and
// group. A group leader may not do so while its group can still have
// members.
func (s *System) procJoinNewSessionAndProcessGroup(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IsGroupLeader() {
		return nil, kerr.Wrap(kerr.ErrNotPermitted, "process group leader")
	}
	p.SetPGID(p.PID())
	p.SetSID(p.PID())
	s.log.Debug().Int("pid", p.PID()).Msg("new session")
	return nil, nil
}

func (s *System) procListProcesses(_ context.Context, _ *process.Process, _ map[string]any) (any, error) {
	procs := s.Processes()
	infos := make([]process.Info, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, p.Info())
	}
	return infos, nil
}

func (s *System) procGetProcessInfo(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	return p.Info(), nil
}
