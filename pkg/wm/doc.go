/*
Package wm is the window system behind the graphics syscall.

A Manager implements kernel.Display. Every window it opens is handed to
the owning process as a file:

  - writes draw text into the window's surface
  - reads return one event per call as a JSON line, for example
    {"event":"resize","width":400,"height":300}
  - controlDevice requests move, resize, snap, maximize, minimize,
    restore, focus, clear and retitle the window, or return its info
  - closing the last descriptor removes the window

The host side drives the manager directly: focus, desktops, screen size,
menubar selections, key input and close requests. Events are queued per
window until the owner reads them.

Example usage:

	display := wm.NewManager(wm.Config{ScreenWidth: 1280, ScreenHeight: 800})
	sys := kernel.New(cfg, kernel.WithDisplay(display))
*/
package wm
