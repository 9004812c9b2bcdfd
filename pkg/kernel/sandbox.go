package kernel

import (
	"context"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/security"
	"webkernel/pkg/vfs"
)

// checkPath checks p's sandbox for access want to path, relative to p's
// working directory.
func checkPath(p *process.Process, path, want string) error {
	return p.Sandbox().CheckPath(vfs.Abs(p.Cwd(), path), want)
}

// modeAccess returns the unveil permissions an open mode needs.
func modeAccess(m vfs.Mode) string {
	switch m {
	case vfs.ModeReadWrite:
		return "rw"
	case vfs.ModeWrite, vfs.ModeAppend:
		return "w"
	default:
		return "r"
	}
}

func (s *System) procPledge(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	text, err := stringArg(args, "promises")
	if err != nil {
		return nil, err
	}
	promises, err := security.ParsePromises(text)
	if err != nil {
		return nil, err
	}
	err = p.UpdateSandbox(func(sb security.Sandbox) (security.Sandbox, error) {
		return sb.Pledge(promises)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("pid", p.PID()).Str("promises", promises.String()).Msg("pledged")
	return nil, nil
}

// procUnveil unveils path with permissions, or locks unveil when called
// with neither.
func (s *System) procUnveil(_ context.Context, p *process.Process, args map[string]any) (any, error) {
	_, hasPath := args["path"]
	_, hasPerms := args["permissions"]
	if !hasPath && !hasPerms {
		return nil, p.UpdateSandbox(func(sb security.Sandbox) (security.Sandbox, error) {
			return sb.Lock(), nil
		})
	}
	if hasPath != hasPerms {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "path and permissions go together")
	}

	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	perms, err := stringArg(args, "permissions")
	if err != nil {
		return nil, err
	}
	abs := vfs.Abs(p.Cwd(), path)
	return nil, p.UpdateSandbox(func(sb security.Sandbox) (security.Sandbox, error) {
		return sb.Unveil(abs, perms)
	})
}
