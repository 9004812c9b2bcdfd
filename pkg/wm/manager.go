package wm

import (
	"context"
	"sort"
	"strings"
	"sync"

	"webkernel/pkg/kernel"
	"webkernel/pkg/kerr"
	"webkernel/pkg/logger"
	"webkernel/pkg/vfs"

	"github.com/phuslu/log"
	"github.com/tidwall/sjson"
)

// maxSurface bounds the text kept per window; older output is dropped.
const maxSurface = 64 << 10

// cascade is the offset between successive new windows.
const cascade = 24

// Manager manages windows and desktops. It implements kernel.Display.
type Manager struct {
	mu             sync.Mutex
	windows        map[int]*window
	desktops       []*Desktop
	currentDesktop int
	focused        int
	nextWindowID   int
	screenWidth    int
	screenHeight   int
	log            log.Logger
}

// window is a Window plus what its owner drew and the events it has not
// read yet.
type window struct {
	Window
	surface strings.Builder
	events  []string
	changed chan struct{}
}

// notify wakes readers waiting for an event. Callers hold m.mu.
func (w *window) notify() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// Config holds configuration for the window manager.
type Config struct {
	ScreenWidth     int
	ScreenHeight    int
	InitialDesktops int
}

// NewManager creates a new window manager with the given configuration.
func NewManager(cfg Config) *Manager {
	count := cfg.InitialDesktops
	if count <= 0 {
		count = 4
	}
	desktops := make([]*Desktop, count)
	for i := range desktops {
		desktops[i] = newDesktop(i)
	}
	return &Manager{
		windows:      make(map[int]*window),
		desktops:     desktops,
		screenWidth:  cfg.ScreenWidth,
		screenHeight: cfg.ScreenHeight,
		nextWindowID: 1,
		log:          logger.NewLoggerWithContext("wm"),
	}
}

// OpenWindow creates a window on the current desktop and focuses it. The
// returned file is the owner's handle: writes draw, reads return events
// and closing the last descriptor removes the window.
func (m *Manager) OpenWindow(_ context.Context, spec kernel.WindowSpec) (vfs.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextWindowID
	m.nextWindowID++

	offset := (id - 1) * cascade
	if span := min(m.screenWidth, m.screenHeight) / 2; span > 0 {
		offset %= span
	}
	frame := Frame{X: offset, Y: offset, Width: spec.Width, Height: spec.Height}

	w := &window{
		Window: Window{
			ID:           id,
			Owner:        spec.Owner,
			Title:        spec.Title,
			Frame:        frame,
			NormalFrame:  frame,
			State:        WindowStateNormal,
			Resizable:    spec.Resizable,
			MenubarItems: spec.MenubarItems,
			Desktop:      m.currentDesktop,
			Visible:      true,
		},
		changed: make(chan struct{}),
	}
	m.windows[id] = w
	m.desktops[m.currentDesktop].Windows = append(m.desktops[m.currentDesktop].Windows, id)
	m.focusLocked(id)

	m.log.Debug().Int("window", id).Int("owner", spec.Owner).Str("title", spec.Title).Msg("window opened")
	return &windowFile{m: m, id: id}, nil
}

// remove deletes a window once its owner closed it.
func (m *Manager) remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[id]
	if !ok {
		return
	}
	w.notify()
	m.desktops[w.Desktop].remove(id)
	delete(m.windows, id)

	if m.focused == id {
		m.focused = 0
		if ids := m.desktops[m.currentDesktop].Windows; len(ids) > 0 {
			m.focusLocked(ids[len(ids)-1])
		}
	}
	m.log.Debug().Int("window", id).Msg("window closed")
}

func (m *Manager) get(id int) (*window, error) {
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return w, nil
}

// post queues an event for the window's owner. Callers hold m.mu.
func (m *Manager) post(w *window, event string, fields ...any) {
	line, _ := sjson.Set(`{}`, "event", event)
	for i := 0; i+1 < len(fields); i += 2 {
		line, _ = sjson.Set(line, fields[i].(string), fields[i+1])
	}
	w.events = append(w.events, line+"\n")
	w.notify()
}

// Window returns a snapshot of a window.
func (m *Manager) Window(id int) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return Window{}, err
	}
	return m.snapshot(w), nil
}

func (m *Manager) snapshot(w *window) Window {
	s := w.Window
	s.Focused = m.focused == w.ID
	s.MenubarItems = append([]string(nil), w.MenubarItems...)
	return s
}

// Windows returns every window ordered by id.
func (m *Manager) Windows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Window, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, m.snapshot(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contents returns what the window's owner has drawn.
func (m *Manager) Contents(id int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return "", err
	}
	return w.surface.String(), nil
}

// FocusWindow focuses a window. The windows losing and gaining focus are
// told so.
func (m *Manager) FocusWindow(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(id); err != nil {
		return err
	}
	m.focusLocked(id)
	return nil
}

func (m *Manager) focusLocked(id int) {
	if m.focused == id {
		return
	}
	if old, ok := m.windows[m.focused]; ok {
		m.post(old, "blur")
	}
	m.focused = id
	if w, ok := m.windows[id]; ok {
		m.post(w, "focus")
	}
}

// Focused returns the focused window id, 0 if none.
func (m *Manager) Focused() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// WindowAt returns the topmost visible window on the current desktop
// containing the point.
func (m *Manager) WindowAt(x, y int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.desktops[m.currentDesktop].Windows
	for i := len(ids) - 1; i >= 0; i-- {
		w := m.windows[ids[i]]
		if w.Visible && w.Frame.Contains(x, y) {
			return w.ID, true
		}
	}
	return 0, false
}

// MoveWindow moves a window to a new position.
func (m *Manager) MoveWindow(id, x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.Frame.X, w.Frame.Y = x, y
	return nil
}

// ResizeWindow resizes a resizable window and tells its owner.
func (m *Manager) ResizeWindow(id, width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	if !w.Resizable {
		return ErrNotResizable
	}
	m.setFrame(w, Frame{X: w.Frame.X, Y: w.Frame.Y, Width: width, Height: height})
	return nil
}

// setFrame changes the frame and reports a size change. Callers hold m.mu.
func (m *Manager) setFrame(w *window, f Frame) {
	resized := f.Width != w.Frame.Width || f.Height != w.Frame.Height
	w.Frame = f
	if resized {
		m.post(w, "resize", "width", f.Width, "height", f.Height)
	}
}

// MinimizeWindow hides a window until it is restored.
func (m *Manager) MinimizeWindow(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.State = WindowStateMinimized
	w.Visible = false
	return nil
}

// MaximizeWindow makes a resizable window cover the screen.
func (m *Manager) MaximizeWindow(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	if !w.Resizable {
		return ErrNotResizable
	}
	if w.State != WindowStateMaximized {
		w.NormalFrame = w.Frame
		m.setFrame(w, Frame{Width: m.screenWidth, Height: m.screenHeight})
		w.State = WindowStateMaximized
		w.Visible = true
	}
	return nil
}

// RestoreWindow returns a window to its normal state.
func (m *Manager) RestoreWindow(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	switch w.State {
	case WindowStateMinimized:
		w.Visible = true
	case WindowStateMaximized:
		m.setFrame(w, w.NormalFrame)
	}
	w.State = WindowStateNormal
	return nil
}

// SnapWindow snaps a resizable window to a half or quarter of the screen.
func (m *Manager) SnapWindow(id int, position SnapPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	if !w.Resizable {
		return ErrNotResizable
	}
	f, ok := snapFrame(position, m.screenWidth, m.screenHeight)
	if !ok {
		return ErrInvalidSnap
	}
	m.setFrame(w, f)
	w.State = WindowStateNormal
	return nil
}

// SetWindowTitle sets the title of a window.
func (m *Manager) SetWindowTitle(id int, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.Title = title
	return nil
}

// RequestClose asks the owner to close a window. The window stays until
// the owner closes its descriptor.
func (m *Manager) RequestClose(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	m.post(w, "close")
	return nil
}

// SelectMenuItem tells the owner that a menubar item was chosen.
func (m *Manager) SelectMenuItem(id int, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	for _, it := range w.MenubarItems {
		if it == item {
			m.post(w, "menu", "item", item)
			return nil
		}
	}
	return ErrUnknownMenuItem
}

// SendKey delivers typed text to the focused window.
func (m *Manager) SendKey(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[m.focused]
	if !ok {
		return false
	}
	m.post(w, "key", "text", text)
	return true
}

// CreateDesktop creates a new desktop and returns its index.
func (m *Manager) CreateDesktop() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := newDesktop(len(m.desktops))
	m.desktops = append(m.desktops, d)
	return d.ID
}

// SwitchDesktop switches to the specified desktop.
func (m *Manager) SwitchDesktop(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.desktops) {
		return ErrInvalidDesktopIndex
	}
	m.currentDesktop = index
	return nil
}

// CurrentDesktop returns the current desktop index.
func (m *Manager) CurrentDesktop() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDesktop
}

// Desktops returns a snapshot of every desktop.
func (m *Manager) Desktops() []Desktop {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Desktop, len(m.desktops))
	for i, d := range m.desktops {
		out[i] = Desktop{ID: d.ID, Name: d.Name, Windows: append([]int(nil), d.Windows...)}
	}
	return out
}

// MoveWindowToDesktop moves a window to a different desktop.
func (m *Manager) MoveWindowToDesktop(id, desktop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	if desktop < 0 || desktop >= len(m.desktops) {
		return ErrInvalidDesktopIndex
	}
	m.desktops[w.Desktop].remove(id)
	w.Desktop = desktop
	m.desktops[desktop].Windows = append(m.desktops[desktop].Windows, id)
	return nil
}

// SetScreenSize sets the screen dimensions. Maximized windows follow.
func (m *Manager) SetScreenSize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenWidth, m.screenHeight = width, height
	for _, w := range m.windows {
		if w.State == WindowStateMaximized {
			m.setFrame(w, Frame{Width: width, Height: height})
		}
	}
}

// ScreenSize returns the screen dimensions.
func (m *Manager) ScreenSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenWidth, m.screenHeight
}

// draw appends text to the window's surface.
func (m *Manager) draw(id int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return ErrWindowClosed
	}
	w.surface.WriteString(text)
	if w.surface.Len() > maxSurface {
		keep := w.surface.String()[w.surface.Len()-maxSurface:]
		w.surface.Reset()
		w.surface.WriteString(keep)
	}
	return nil
}

// clear empties the window's surface.
func (m *Manager) clear(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.surface.Reset()
	return nil
}

// nextEvent returns the oldest unread event of a window.
func (m *Manager) nextEvent(ctx context.Context, id int, nonBlocking bool) (string, error) {
	for {
		m.mu.Lock()
		w, err := m.get(id)
		if err != nil {
			m.mu.Unlock()
			return "", nil
		}
		if len(w.events) > 0 {
			ev := w.events[0]
			w.events = w.events[1:]
			m.mu.Unlock()
			return ev, nil
		}
		if nonBlocking {
			m.mu.Unlock()
			return "", kerr.ErrWouldBlock
		}
		changed := w.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}
}

// waitEvent blocks until the window has an unread event or is gone.
func (m *Manager) waitEvent(ctx context.Context, id int) error {
	for {
		m.mu.Lock()
		w, err := m.get(id)
		if err != nil || len(w.events) > 0 {
			m.mu.Unlock()
			return nil
		}
		changed := w.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}
