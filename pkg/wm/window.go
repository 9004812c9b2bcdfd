package wm

import (
	"context"
	"fmt"

	"webkernel/pkg/kerr"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"
)

// windowFile is the owner's handle on a window.
type windowFile struct {
	vfs.BaseFile
	m  *Manager
	id int
}

// ReadAt returns the next event as one JSON line. A removed window reads
// as end of file.
func (f *windowFile) ReadAt(ctx context.Context, _ vfs.Caller, _ int64, nonBlocking bool) (string, error) {
	return f.m.nextEvent(ctx, f.id, nonBlocking)
}

// WriteAt draws text into the window.
func (f *windowFile) WriteAt(_ context.Context, _ vfs.Caller, _ int64, text string) (int, error) {
	if err := f.m.draw(f.id, text); err != nil {
		return 0, err
	}
	return len(text), nil
}

func (f *windowFile) PollRead(ctx context.Context, _ vfs.Caller) error {
	return f.m.waitEvent(ctx, f.id)
}

// Close removes the window with its last descriptor.
func (f *windowFile) Close(vfs.Mode) {
	f.m.remove(f.id)
}

func (f *windowFile) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeDevice}
}

// Control handles the window requests, each a single key:
//
//	info                  the window's state
//	move      [x, y]
//	resize    [w, h]
//	snap      "left", "topRight", ...
//	maximize, minimize, restore, focus, clear
//	setTitle  "title"
func (f *windowFile) Control(_ context.Context, _ vfs.Caller, req map[string]any) (any, error) {
	if len(req) != 1 {
		return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, "expected exactly one window request")
	}
	for name, arg := range req {
		return f.control(name, arg)
	}
	return nil, nil
}

func (f *windowFile) control(name string, arg any) (any, error) {
	m, id := f.m, f.id
	var err error
	switch name {
	case "info":
		return m.Window(id)
	case "move":
		xy, ok := protocol.Ints(arg)
		if !ok || len(xy) != 2 {
			return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, "move wants [x, y]")
		}
		err = m.MoveWindow(id, xy[0], xy[1])
	case "resize":
		wh, ok := protocol.Ints(arg)
		if !ok || len(wh) != 2 || wh[0] <= 0 || wh[1] <= 0 {
			return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, "resize wants [width, height]")
		}
		err = m.ResizeWindow(id, wh[0], wh[1])
	case "snap":
		pos, _ := protocol.String(arg)
		err = m.SnapWindow(id, SnapPosition(pos))
	case "maximize":
		err = m.MaximizeWindow(id)
	case "minimize":
		err = m.MinimizeWindow(id)
	case "restore":
		err = m.RestoreWindow(id)
	case "focus":
		err = m.FocusWindow(id)
	case "clear":
		err = m.clear(id)
	case "setTitle":
		title, ok := protocol.String(arg)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, "setTitle wants a string")
		}
		err = m.SetWindowTitle(id, title)
	default:
		return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, fmt.Sprintf("unknown window request %q", name))
	}
	if err != nil {
		return nil, kerr.Wrap(kerr.ErrBadDeviceRequest, err.Error())
	}
	return nil, nil
}
