package pty

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"webkernel/pkg/kerr"
	"webkernel/pkg/logger"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"
	"webkernel/pkg/vfs"

	"github.com/phuslu/log"
)

// Default terminal dimensions.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// Mode is the input processing mode of a terminal.
type Mode string

// Terminal modes.
const (
	ModeLine               Mode = "LINE"
	ModeCharacter          Mode = "CHARACTER"
	ModeCharacterAndSigint Mode = "CHARACTER_AND_SIGINT"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLine, ModeCharacter, ModeCharacterAndSigint:
		return m, nil
	default:
		return "", kerr.Wrap(kerr.ErrInvalidArgument, "terminal mode "+s)
	}
}

// Size is a terminal size in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Host is the kernel side a terminal reports to. It is never called with
// the terminal's lock held.
type Host interface {
	// SignalProcessGroup delivers sig to every process in pgid.
	SignalProcessGroup(pgid int, sig ipc.Signal)

	// ReleaseTerminal unregisters a terminal whose master has closed.
	ReleaseTerminal(t *PseudoTerminal)
}

// PseudoTerminal is a master/slave pair joined by two pipes. Input written
// to the master passes through the line discipline on its way to the slave;
// output written to the slave goes straight to the master.
type PseudoTerminal struct {
	// mu guards the fields below. It is taken before any pipe lock.
	mu sync.Mutex
	// index is n in /dev/pts/n.
	index int
	// toSlave carries input; toMaster carries output and echo.
	toSlave, toMaster *ipc.Pipe
	// disc is the cooked-mode line editor.
	disc LineDiscipline
	mode Mode
	// fg is the foreground process group.
	fg int
	// sid is the controlling session, zero until a slave is opened.
	sid    int
	size   Size
	closed bool

	host   Host
	master *MasterFile
	slave  *SlaveFile
	log    log.Logger
}

// New creates terminal n. Reads of the slave are restricted to pgid, the
// initial foreground group.
func New(n, pgid int, size Size, host Host) *PseudoTerminal {
	if size.Cols <= 0 {
		size.Cols = DefaultCols
	}
	if size.Rows <= 0 {
		size.Rows = DefaultRows
	}

	t := &PseudoTerminal{
		index:    n,
		toSlave:  ipc.NewPipe(),
		toMaster: ipc.NewPipe(),
		mode:     ModeLine,
		fg:       pgid,
		size:     size,
		host:     host,
		log:      logger.With(logger.NewLoggerWithContext("pty"), "pts", strconv.Itoa(n)),
	}
	t.master = &MasterFile{t: t}
	t.slave = &SlaveFile{t: t}

	// The terminal itself holds a reader of its input and a writer of its
	// output for as long as the master is open.
	t.toSlave.AddReader()
	t.toMaster.AddWriter()
	t.toSlave.SetRestrictReadsToProcessGroup(pgid)

	t.log.Debug().Int("pgid", pgid).Msg("terminal created")
	return t
}

// Index returns n in /dev/pts/n.
func (t *PseudoTerminal) Index() int { return t.index }

// Master returns the master side.
func (t *PseudoTerminal) Master() *MasterFile { return t.master }

// Slave returns the slave side.
func (t *PseudoTerminal) Slave() *SlaveFile { return t.slave }

// Mode returns the input mode.
func (t *PseudoTerminal) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SetMode changes the input mode. Leaving line mode discards the edit line.
func (t *PseudoTerminal) SetMode(m Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m != ModeLine {
		t.disc.Reset()
	}
	t.mode = m
}

// ForegroundPgid returns the foreground process group.
func (t *PseudoTerminal) ForegroundPgid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fg
}

// SetForegroundPgid makes pgid the only group that can read the slave.
func (t *PseudoTerminal) SetForegroundPgid(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fg = pgid
	t.toSlave.SetRestrictReadsToProcessGroup(pgid)
}

// ControllingSID returns the session that first opened the slave, or zero.
func (t *PseudoTerminal) ControllingSID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sid
}

// Size returns the terminal size.
func (t *PseudoTerminal) Size() Size {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Resize stores a new size and notifies the foreground group.
func (t *PseudoTerminal) Resize(size Size) error {
	if size.Cols <= 0 || size.Rows <= 0 {
		return kerr.Wrap(kerr.ErrInvalidArgument, "terminal size")
	}

	t.mu.Lock()
	t.size = size
	fg := t.fg
	t.mu.Unlock()

	t.signal(fg, ipc.SignalTerminalResize)
	return nil
}

// Closed reports whether the master has closed.
func (t *PseudoTerminal) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Control serves a device request on either side:
//
//	{"mode": "LINE"|"CHARACTER"|"CHARACTER_AND_SIGINT"}
//	{"resize": {"cols": c, "rows": r}}
//	{"setForegroundPgid": pgid}
//	{"getForegroundPgid": true}
//	{"getTerminalSize": true}
func (t *PseudoTerminal) Control(_ context.Context, _ vfs.Caller, req map[string]any) (any, error) {
	if v, ok := req["mode"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "mode")
		}
		m, err := ParseMode(s)
		if err != nil {
			return nil, err
		}
		t.SetMode(m)
		return nil, nil
	}

	if v, ok := req["resize"]; ok {
		size, ok := toSize(v)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "resize")
		}
		return nil, t.Resize(size)
	}

	if v, ok := req["setForegroundPgid"]; ok {
		pgid, ok := protocol.Int(v)
		if !ok || pgid <= 0 {
			return nil, kerr.Wrap(kerr.ErrInvalidArgument, "setForegroundPgid")
		}
		t.SetForegroundPgid(pgid)
		return nil, nil
	}

	if _, ok := req["getForegroundPgid"]; ok {
		return t.ForegroundPgid(), nil
	}

	if _, ok := req["getTerminalSize"]; ok {
		return t.Size(), nil
	}

	return nil, kerr.ErrBadDeviceRequest
}

// Detach drops the controlling session, as when the session leader exits,
// and returns the foreground group that should be hung up.
func (t *PseudoTerminal) Detach() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sid = 0
	return t.fg
}

// input handles text written to the master.
func (t *PseudoTerminal) input(text string) {
	t.mu.Lock()
	fg := t.fg
	interrupts := 0

	switch t.mode {
	case ModeCharacter:
		t.toSlave.Write(text)
	case ModeCharacterAndSigint:
		if n := strings.Count(text, string(ETX)); n > 0 {
			interrupts = n
			text = strings.ReplaceAll(text, string(ETX), "")
		}
		t.toSlave.Write(text)
	default:
		for _, ev := range t.disc.Feed(text) {
			switch ev.Kind {
			case EventEcho:
				t.toMaster.Write(ev.Text)
			case EventLine:
				if ev.Text == "" {
					t.toSlave.PushEOF()
				} else {
					t.toSlave.Write(ev.Text)
				}
			case EventInterrupt:
				interrupts++
			}
		}
	}
	t.mu.Unlock()

	for i := 0; i < interrupts; i++ {
		t.signal(fg, ipc.SignalInterrupt)
	}
}

// closeMaster hangs up the foreground group and unregisters the terminal.
func (t *PseudoTerminal) closeMaster() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fg := t.fg
	t.toSlave.RemoveReader()
	t.toMaster.RemoveWriter()
	t.mu.Unlock()

	t.log.Debug().Int("fg", fg).Msg("master closed")
	t.signal(fg, ipc.SignalHangup)
	if t.host != nil {
		t.host.ReleaseTerminal(t)
	}
}

func (t *PseudoTerminal) signal(pgid int, sig ipc.Signal) {
	if t.host != nil && pgid > 0 {
		t.host.SignalProcessGroup(pgid, sig)
	}
}

// MasterFile is the master side of a terminal, opened through /dev/ptmx.
type MasterFile struct {
	vfs.BaseFile
	t *PseudoTerminal
}

// Terminal returns the terminal.
func (f *MasterFile) Terminal() *PseudoTerminal { return f.t }

func (f *MasterFile) Open(_ vfs.Caller, mode vfs.Mode) error {
	if f.t.Closed() {
		return kerr.Wrap(kerr.ErrNoTerminal, "terminal closed")
	}
	if mode.Readable() {
		f.t.toMaster.AddReader()
	}
	if mode.Writable() {
		f.t.toSlave.AddWriter()
	}
	return nil
}

// Close releases the master. The last master close hangs up the terminal.
func (f *MasterFile) Close(mode vfs.Mode) {
	if mode.Readable() {
		f.t.toMaster.RemoveReader()
	}
	if mode.Writable() {
		f.t.toSlave.RemoveWriter()
	}
	f.t.closeMaster()
}

func (f *MasterFile) ReadAt(ctx context.Context, c vfs.Caller, _ int64, nonBlocking bool) (string, error) {
	return f.t.toMaster.Read(ctx, c, nonBlocking)
}

func (f *MasterFile) WriteAt(_ context.Context, _ vfs.Caller, _ int64, text string) (int, error) {
	if f.t.Closed() {
		return 0, kerr.Wrap(kerr.ErrNoTerminal, "terminal closed")
	}
	f.t.input(text)
	return len(text), nil
}

func (f *MasterFile) Control(ctx context.Context, c vfs.Caller, req map[string]any) (any, error) {
	return f.t.Control(ctx, c, req)
}

func (f *MasterFile) PollRead(ctx context.Context, c vfs.Caller) error {
	return f.t.toMaster.WaitReadable(ctx, c)
}

func (f *MasterFile) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeTerminal, Size: int64(f.t.toMaster.Buffered())}
}

// SlaveFile is the slave side of a terminal, /dev/pts/n.
type SlaveFile struct {
	vfs.BaseFile
	t *PseudoTerminal
}

// Terminal returns the terminal.
func (f *SlaveFile) Terminal() *PseudoTerminal { return f.t }

// Open claims the terminal for the caller's session if no session has it.
func (f *SlaveFile) Open(c vfs.Caller, mode vfs.Mode) error {
	t := f.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return kerr.Wrap(kerr.ErrNoTerminal, "terminal closed")
	}
	if t.sid == 0 {
		t.sid = c.SID()
	}
	if mode.Readable() {
		t.toSlave.AddReader()
	}
	if mode.Writable() {
		t.toMaster.AddWriter()
	}
	return nil
}

func (f *SlaveFile) Close(mode vfs.Mode) {
	if mode.Readable() {
		f.t.toSlave.RemoveReader()
	}
	if mode.Writable() {
		f.t.toMaster.RemoveWriter()
	}
}

func (f *SlaveFile) ReadAt(ctx context.Context, c vfs.Caller, _ int64, nonBlocking bool) (string, error) {
	return f.t.toSlave.Read(ctx, c, nonBlocking)
}

func (f *SlaveFile) WriteAt(_ context.Context, _ vfs.Caller, _ int64, text string) (int, error) {
	if err := f.t.toMaster.Write(text); err != nil {
		return 0, err
	}
	return len(text), nil
}

func (f *SlaveFile) Control(ctx context.Context, c vfs.Caller, req map[string]any) (any, error) {
	return f.t.Control(ctx, c, req)
}

func (f *SlaveFile) PollRead(ctx context.Context, c vfs.Caller) error {
	return f.t.toSlave.WaitReadable(ctx, c)
}

func (f *SlaveFile) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeTerminal}
}

func toSize(v any) (Size, bool) {
	switch s := v.(type) {
	case Size:
		return s, true
	case map[string]any:
		cols, ok1 := protocol.Int(s["cols"])
		rows, ok2 := protocol.Int(s["rows"])
		return Size{Cols: cols, Rows: rows}, ok1 && ok2
	default:
		return Size{}, false
	}
}
