package pty

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/logger"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/vfs"
)

func init() {
	logger.Discard()
}

type member struct{ pid, pgid, sid int }

func (m member) PID() int  { return m.pid }
func (m member) PGID() int { return m.pgid }
func (m member) SID() int  { return m.sid }

var (
	shell = member{2, 2, 2}
	other = member{3, 3, 2}
)

type sent struct {
	pgid int
	sig  ipc.Signal
}

type recordingHost struct {
	mu       sync.Mutex
	signals  []sent
	released []*PseudoTerminal
}

func (h *recordingHost) SignalProcessGroup(pgid int, sig ipc.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, sent{pgid, sig})
}

func (h *recordingHost) ReleaseTerminal(t *PseudoTerminal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, t)
}

func (h *recordingHost) sent() []sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sent(nil), h.signals...)
}

func TestLineDiscipline(t *testing.T) {
	left := CursorLeft(1)

	tests := []struct {
		name      string
		inputs    []string
		wantLines []string
		wantEcho  string
	}{
		{
			name:      "backspace reflow",
			inputs:    []string{"abc\b\bXY\n"},
			wantLines: []string{"aXY\n"},
			wantEcho:  "abc" + left + " " + left + left + " " + left + "XY\n",
		},
		{
			name:      "carriage return ends line",
			inputs:    []string{"ls\r"},
			wantLines: []string{"ls\n"},
			wantEcho:  "ls\n",
		},
		{
			name:      "insert before cursor",
			inputs:    []string{"ac\x1b[Db\n"},
			wantLines: []string{"abc\n"},
			wantEcho:  "ac" + left + "bc" + left + "\n",
		},
		{
			name:      "escape split across writes",
			inputs:    []string{"ab\x1b", "[", "Dx\n"},
			wantLines: []string{"axb\n"},
			wantEcho:  "ab" + left + "xb" + left + "\n",
		},
		{
			name:      "home and delete",
			inputs:    []string{"ab\x1b[H\x1b[3~\n"},
			wantLines: []string{"b\n"},
			wantEcho:  "ab" + CursorLeft(2) + "b " + CursorLeft(2) + "\n",
		},
		{
			name:      "end key",
			inputs:    []string{"ab\x1bOH\x1bOFc\n"},
			wantLines: []string{"abc\n"},
			wantEcho:  "ab" + CursorLeft(2) + CursorRight(2) + "c\n",
		},
		{
			name:      "ctrl-d flushes without newline",
			inputs:    []string{"ab\x04"},
			wantLines: []string{"ab"},
			wantEcho:  "ab",
		},
		{
			name:      "ctrl-d on empty line",
			inputs:    []string{"\x04"},
			wantLines: []string{""},
		},
		{
			name:      "backspace at start",
			inputs:    []string{"\x7f\x7fa\n"},
			wantLines: []string{"a\n"},
			wantEcho:  "a\n",
		},
		{
			name:      "utf-8 split across writes",
			inputs:    []string{"\xc3", "\xa9\n"},
			wantLines: []string{"é\n"},
			wantEcho:  "é\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d LineDiscipline
			var lines []string
			var echo strings.Builder
			for _, in := range tt.inputs {
				for _, ev := range d.Feed(in) {
					switch ev.Kind {
					case EventEcho:
						echo.WriteString(ev.Text)
					case EventLine:
						lines = append(lines, ev.Text)
					case EventInterrupt:
						t.Errorf("unexpected interrupt")
					}
				}
			}
			if !reflect.DeepEqual(lines, tt.wantLines) {
				t.Errorf("lines = %q, want %q", lines, tt.wantLines)
			}
			if echo.String() != tt.wantEcho {
				t.Errorf("echo = %q, want %q", echo.String(), tt.wantEcho)
			}
		})
	}
}

func TestLineDisciplineCtrlC(t *testing.T) {
	var d LineDiscipline
	got := d.Feed("ab\x03c")
	want := []Event{
		{Kind: EventEcho, Text: "ab^C\n"},
		{Kind: EventInterrupt},
		{Kind: EventEcho, Text: "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Feed() = %+v, want %+v", got, want)
	}
	if d.Line() != "c" || d.Cursor() != 1 {
		t.Errorf("line = (%q, %d), want (%q, 1)", d.Line(), d.Cursor(), "c")
	}
}

func openPair(t *testing.T, host Host) (*PseudoTerminal, *vfs.FileDescriptor, *vfs.FileDescriptor) {
	t.Helper()
	term := New(0, shell.pgid, Size{}, host)
	master, err := vfs.Open(nil, term.Master(), shell, vfs.ModeReadWrite)
	if err != nil {
		t.Fatalf("Open(master) error = %v", err)
	}
	slave, err := vfs.Open(nil, term.Slave(), shell, vfs.ModeReadWrite)
	if err != nil {
		t.Fatalf("Open(slave) error = %v", err)
	}
	return term, master, slave
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLineModeEndToEnd(t *testing.T) {
	ctx := testContext(t)
	term, master, slave := openPair(t, &recordingHost{})

	if term.ControllingSID() != shell.sid {
		t.Errorf("ControllingSID() = %d, want %d", term.ControllingSID(), shell.sid)
	}

	if _, err := master.Write(ctx, shell, "abc\b\bXY\n"); err != nil {
		t.Fatalf("master Write() error = %v", err)
	}
	got, err := slave.Read(ctx, shell, false)
	if err != nil || got != "aXY\n" {
		t.Errorf("slave Read() = (%q, %v), want (%q, nil)", got, err, "aXY\n")
	}

	echo, err := master.Read(ctx, shell, true)
	if err != nil || !strings.HasSuffix(echo, "XY\n") {
		t.Errorf("master Read() = (%q, %v), want echo ending in XY", echo, err)
	}

	if _, err := slave.Write(ctx, shell, "out"); err != nil {
		t.Fatalf("slave Write() error = %v", err)
	}
	if got, _ := master.Read(ctx, shell, false); got != "out" {
		t.Errorf("master Read() = %q, want %q", got, "out")
	}
}

func TestCtrlDOnEmptyLineIsEOF(t *testing.T) {
	ctx := testContext(t)
	_, master, slave := openPair(t, &recordingHost{})

	master.Write(ctx, shell, "x\n\x04y\n")
	for _, want := range []string{"x\n", "", "y\n"} {
		got, err := slave.Read(ctx, shell, false)
		if err != nil || got != want {
			t.Errorf("slave Read() = (%q, %v), want (%q, nil)", got, err, want)
		}
	}
}

func TestInterruptModes(t *testing.T) {
	ctx := testContext(t)
	host := &recordingHost{}
	term, master, slave := openPair(t, host)

	master.Write(ctx, shell, "ab\x03")
	if got := host.sent(); !reflect.DeepEqual(got, []sent{{shell.pgid, ipc.SignalInterrupt}}) {
		t.Errorf("signals = %v, want one interrupt", got)
	}
	if _, err := slave.Read(ctx, shell, true); !errors.Is(err, kerr.ErrWouldBlock) {
		t.Errorf("slave Read() error = %v, want %v", err, kerr.ErrWouldBlock)
	}

	term.SetMode(ModeCharacterAndSigint)
	master.Write(ctx, shell, "q\x03\x03w")
	if got := len(host.sent()); got != 3 {
		t.Errorf("signals = %d, want 3", got)
	}
	if got, _ := slave.Read(ctx, shell, false); got != "qw" {
		t.Errorf("slave Read() = %q, want %q", got, "qw")
	}

	term.SetMode(ModeCharacter)
	master.Write(ctx, shell, "\x03")
	if got, _ := slave.Read(ctx, shell, false); got != "\x03" {
		t.Errorf("slave Read() = %q, want ETX", got)
	}
	if got := len(host.sent()); got != 3 {
		t.Errorf("signals = %d, want 3", got)
	}
}

func TestForegroundRestriction(t *testing.T) {
	ctx := testContext(t)
	term, master, slave := openPair(t, &recordingHost{})

	master.Write(ctx, shell, "hi\n")
	if _, err := slave.Read(ctx, other, true); !errors.Is(err, kerr.ErrWouldBlock) {
		t.Errorf("background Read() error = %v, want %v", err, kerr.ErrWouldBlock)
	}

	term.SetForegroundPgid(other.pgid)
	got, err := slave.Read(ctx, other, true)
	if err != nil || got != "hi\n" {
		t.Errorf("foreground Read() = (%q, %v), want (%q, nil)", got, err, "hi\n")
	}
}

func TestMasterCloseHangsUp(t *testing.T) {
	ctx := testContext(t)
	host := &recordingHost{}
	term, master, slave := openPair(t, host)

	if err := master.Close(); err != nil {
		t.Fatalf("master Close() error = %v", err)
	}
	if !term.Closed() {
		t.Error("Closed() = false after master close")
	}
	if got := host.sent(); !reflect.DeepEqual(got, []sent{{shell.pgid, ipc.SignalHangup}}) {
		t.Errorf("signals = %v, want hangup", got)
	}
	if len(host.released) != 1 || host.released[0] != term {
		t.Errorf("released = %v, want the terminal", host.released)
	}

	got, err := slave.Read(ctx, shell, false)
	if err != nil || got != "" {
		t.Errorf("slave Read() = (%q, %v), want EOF", got, err)
	}
	if _, err := vfs.Open(nil, term.Slave(), shell, vfs.ModeRead); !errors.Is(err, kerr.ErrNoTerminal) {
		t.Errorf("Open(slave) after close error = %v, want %v", err, kerr.ErrNoTerminal)
	}
}

func TestControl(t *testing.T) {
	ctx := testContext(t)
	host := &recordingHost{}
	term, _, slave := openPair(t, host)

	if _, err := slave.Control(ctx, shell, map[string]any{"mode": "CHARACTER"}); err != nil {
		t.Fatalf("Control(mode) error = %v", err)
	}
	if term.Mode() != ModeCharacter {
		t.Errorf("Mode() = %v, want %v", term.Mode(), ModeCharacter)
	}

	resize := map[string]any{"resize": map[string]any{"cols": float64(100), "rows": float64(40)}}
	if _, err := slave.Control(ctx, shell, resize); err != nil {
		t.Fatalf("Control(resize) error = %v", err)
	}
	size, err := slave.Control(ctx, shell, map[string]any{"getTerminalSize": true})
	if err != nil || size != (Size{Cols: 100, Rows: 40}) {
		t.Errorf("Control(getTerminalSize) = (%v, %v), want 100x40", size, err)
	}
	if got := host.sent(); !reflect.DeepEqual(got, []sent{{shell.pgid, ipc.SignalTerminalResize}}) {
		t.Errorf("signals = %v, want terminalResize", got)
	}

	if _, err := slave.Control(ctx, shell, map[string]any{"setForegroundPgid": float64(7)}); err != nil {
		t.Fatalf("Control(setForegroundPgid) error = %v", err)
	}
	if fg, _ := slave.Control(ctx, shell, map[string]any{"getForegroundPgid": true}); fg != 7 {
		t.Errorf("Control(getForegroundPgid) = %v, want 7", fg)
	}

	bad := []map[string]any{
		{"mode": "COOKED"},
		{"resize": map[string]any{"cols": float64(0), "rows": float64(1)}},
		{"setForegroundPgid": "x"},
	}
	for _, req := range bad {
		if _, err := slave.Control(ctx, shell, req); !errors.Is(err, kerr.ErrInvalidArgument) {
			t.Errorf("Control(%v) error = %v, want %v", req, err, kerr.ErrInvalidArgument)
		}
	}
	if _, err := slave.Control(ctx, shell, map[string]any{"frobnicate": true}); !errors.Is(err, kerr.ErrBadDeviceRequest) {
		t.Errorf("Control(unknown) error = %v, want %v", err, kerr.ErrBadDeviceRequest)
	}
}

func TestSlaveSessionClaim(t *testing.T) {
	term := New(1, shell.pgid, Size{}, nil)
	if _, err := vfs.Open(nil, term.Slave(), member{9, 9, 9}, vfs.ModeRead); err != nil {
		t.Fatalf("Open(slave) error = %v", err)
	}
	if _, err := vfs.Open(nil, term.Slave(), shell, vfs.ModeRead); err != nil {
		t.Fatalf("Open(slave) error = %v", err)
	}
	if got := term.ControllingSID(); got != 9 {
		t.Errorf("ControllingSID() = %d, want 9", got)
	}
	if fg := term.Detach(); fg != shell.pgid || term.ControllingSID() != 0 {
		t.Errorf("Detach() = %d, sid %d; want %d, 0", fg, term.ControllingSID(), shell.pgid)
	}
}
