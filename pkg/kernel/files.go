package kernel

import (
	"context"
	"errors"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/vfs"
)

func (s *System) procOpenFile(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	create, err := boolArg(args, "createIfNecessary", false)
	if err != nil {
		return nil, err
	}
	modeName, err := optionalStringArg(args, "mode", "")
	if err != nil {
		return nil, err
	}
	mode, err := vfs.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	if err := checkPath(p, path, modeAccess(mode)); err != nil {
		return nil, err
	}

	f, err := vfs.Resolve(s.root, p.Cwd(), path)
	if errors.Is(err, kerr.ErrNoSuchFile) && create {
		if err := checkPath(p, path, "c"); err != nil {
			return nil, err
		}
		f, err = s.createFile(p.Cwd(), path)
	}
	if err != nil {
		return nil, err
	}
	return s.openInstall(p, f, mode)
}

// createFile links an empty text file at path. A concurrent create of the
// same name wins and is returned instead.
func (s *System) createFile(cwd, path string) (vfs.File, error) {
	dir, name, err := vfs.ResolveParent(s.root, cwd, path)
	if err != nil {
		return nil, err
	}
	f := vfs.NewTextFile("").WithLimit(s.cfg.MaxFileSize)
	if err := dir.Link(name, f); err != nil {
		if existing, ok := dir.Lookup(name); ok {
			return existing, nil
		}
		return nil, err
	}
	return f, nil
}

func (s *System) procRead(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	fd, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	nonBlocking, err := boolArg(args, "nonBlocking", false)
	if err != nil {
		return nil, err
	}
	return p.Read(ctx, fd, nonBlocking)
}

func (s *System) procWrite(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	fd, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	return nil, p.Write(ctx, fd, text)
}

func (s *System) procClose(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	fd, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	if err := p.CloseFD(fd); err != nil {
		if errors.Is(err, vfs.ErrRefCount) {
			s.log.Error().Err(err).Int("pid", p.PID()).Int("fd", fd).Msg("close")
		}
		return nil, err
	}
	return nil, nil
}

func (s *System) procDuplicateFd(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	fd, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	return p.DuplicateFD(fd)
}

func (s *System) procSeekInFile(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	n, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	pos, err := intArg(args, "position")
	if err != nil {
		return nil, err
	}
	fd, err := p.FD(n)
	if err != nil {
		return nil, err
	}
	return nil, fd.SetOffset(int64(pos))
}

func (s *System) procSetFileLength(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	n, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	length, err := intArg(args, "length")
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "negative length")
	}
	fd, err := p.FD(n)
	if err != nil {
		return nil, err
	}
	return nil, fd.SetLength(int64(length))
}

func (s *System) procGetFileStatus(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	_, hasPath := args["path"]
	_, hasFD := args["fd"]
	if hasPath == hasFD {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "exactly one of path and fd expected")
	}

	if hasFD {
		n, err := intArg(args, "fd")
		if err != nil {
			return nil, err
		}
		fd, err := p.FD(n)
		if err != nil {
			return nil, err
		}
		return fd.Status(), nil
	}

	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(p, path, "r"); err != nil {
		return nil, err
	}
	f, err := vfs.Resolve(s.root, p.Cwd(), path)
	if err != nil {
		return nil, err
	}
	return f.Status(), nil
}

func (s *System) procListDirectory(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(p, path, "r"); err != nil {
		return nil, err
	}
	dir, err := vfs.ResolveDir(s.root, p.Cwd(), path)
	if err != nil {
		return nil, err
	}
	return dir.Names(), nil
}

func (s *System) procCreateDirectory(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(p, path, "c"); err != nil {
		return nil, err
	}
	dir, name, err := vfs.ResolveParent(s.root, p.Cwd(), path)
	if err != nil {
		return nil, err
	}
	if _, exists := dir.Lookup(name); exists {
		return nil, kerr.Wrap(kerr.ErrFileExists, path)
	}
	_, err = dir.MakeDir(name)
	return nil, err
}

func (s *System) procRemoveFile(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(p, path, "c"); err != nil {
		return nil, err
	}
	dir, name, err := vfs.ResolveParent(s.root, p.Cwd(), path)
	if err != nil {
		return nil, err
	}
	f, ok := dir.Lookup(name)
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNoSuchFile, path)
	}
	if sub, ok := f.(*vfs.Directory); ok && len(sub.Names()) > 2 {
		return nil, kerr.Wrap(kerr.ErrIsDirectory, "directory not empty")
	}
	return nil, dir.Unlink(name)
}

func (s *System) procChangeWorkingDirectory(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(p, path, "r"); err != nil {
		return nil, err
	}
	if _, err := vfs.ResolveDir(s.root, p.Cwd(), path); err != nil {
		return nil, err
	}
	p.SetCwd(vfs.Abs(p.Cwd(), path))
	return nil, nil
}

func (s *System) procGetWorkingDirectory(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	return p.Cwd(), nil
}

func (s *System) procCreatePipe(_ context.Context, p *process.Process, _ map[string]any) (any, error) {
	f := ipc.NewPipeFile(ipc.NewPipe())

	r, err := vfs.Open(s.files, f, p, vfs.ModeRead)
	if err != nil {
		return nil, err
	}
	w, err := vfs.Open(s.files, f, p, vfs.ModeWrite)
	if err != nil {
		return nil, errors.Join(err, r.Close())
	}

	rn, err := p.InstallFD(r)
	if err != nil {
		return nil, errors.Join(err, r.Close(), w.Close())
	}
	wn, err := p.InstallFD(w)
	if err != nil {
		return nil, errors.Join(err, p.CloseFD(rn), w.Close())
	}
	return []int{rn, wn}, nil
}

func (s *System) procControlDevice(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	n, err := intArg(args, "fd")
	if err != nil {
		return nil, err
	}
	req, ok := args["request"].(map[string]any)
	if !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "request")
	}
	fd, err := p.FD(n)
	if err != nil {
		return nil, err
	}
	return fd.Control(ctx, p, req)
}
