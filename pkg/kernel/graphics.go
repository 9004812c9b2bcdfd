package kernel

import (
	"context"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"
)

// WindowSpec describes a window a process asks the display for.
type WindowSpec struct {
	Owner        int      `json:"owner"`
	Title        string   `json:"title"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Resizable    bool     `json:"resizable"`
	MenubarItems []string `json:"menubarItems,omitempty"`
}

// Display is the window system. The kernel only opens windows; what a
// window file reads and writes is up to the display.
type Display interface {
	OpenWindow(ctx context.Context, spec WindowSpec) (vfs.File, error)
}

// Default window size for opens of /dev/graphics.
const (
	defaultWindowWidth  = 640
	defaultWindowHeight = 480
)

func (s *System) procGraphics(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	if s.display == nil {
		return nil, kerr.ErrNoGraphics
	}

	spec := WindowSpec{Owner: p.PID()}
	var ok bool
	if spec.Title, ok = protocol.String(args["title"]); !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "title")
	}
	if spec.Width, spec.Height, ok = windowSize(args["size"]); !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "size")
	}
	if spec.Resizable, ok = protocol.Bool(args["resizable"]); !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "resizable")
	}
	if v, present := args["menubarItems"]; present {
		if spec.MenubarItems, ok = protocol.Strings(v); !ok {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "menubarItems")
		}
	}

	w, err := s.display.OpenWindow(ctx, spec)
	if err != nil {
		return nil, err
	}
	return s.openInstall(p, w, vfs.ModeReadWrite)
}

// windowSize accepts [w, h] or {"width": w, "height": h}.
func windowSize(v any) (int, int, bool) {
	if dims, ok := protocol.Ints(v); ok && len(dims) == 2 {
		return dims[0], dims[1], dims[0] > 0 && dims[1] > 0
	}
	m, ok := v.(map[string]any)
	if !ok {
		return 0, 0, false
	}
	w, ok1 := protocol.Int(m["width"])
	h, ok2 := protocol.Int(m["height"])
	return w, h, ok1 && ok2 && w > 0 && h > 0
}

// graphicsDevice is /dev/graphics: opening it creates a default window.
type graphicsDevice struct {
	vfs.BaseFile
	s *System
}

func (d graphicsDevice) OpenDevice(c vfs.Caller, _ vfs.Mode) (vfs.File, error) {
	if d.s.display == nil {
		return nil, kerr.ErrNoGraphics
	}
	spec := WindowSpec{Owner: c.PID(), Width: defaultWindowWidth, Height: defaultWindowHeight}
	if p, err := d.s.Process(c.PID()); err == nil {
		spec.Title = p.ProgramName()
	}
	return d.s.display.OpenWindow(context.Background(), spec)
}

func (graphicsDevice) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeDevice}
}
