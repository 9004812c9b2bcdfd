package vfs

import (
	"context"

	"webkernel/pkg/kerr"
)

// Caller identifies the process on whose behalf a file operation runs.
type Caller interface {
	PID() int
	PGID() int
	SID() int
}

// File is the capability set every backing object implements.
type File interface {
	// Open is called once for every new open file description.
	Open(c Caller, mode Mode) error

	// Close is called when the last reference to a description opened
	// with mode is dropped.
	Close(mode Mode)

	// ReadAt reads from off. Non-seekable files ignore off. An empty
	// result with a nil error means end of file.
	ReadAt(ctx context.Context, c Caller, off int64, nonBlocking bool) (string, error)

	// WriteAt writes text at off and returns the number of bytes written.
	WriteAt(ctx context.Context, c Caller, off int64, text string) (int, error)

	// SetLength truncates or extends the file.
	SetLength(n int64) error

	// Status describes the file.
	Status() Status

	// Control performs a device-specific request.
	Control(ctx context.Context, c Caller, req map[string]any) (any, error)

	// PollRead blocks until a read would not block.
	PollRead(ctx context.Context, c Caller) error
}

// Device is implemented by device nodes whose opens are served by a File
// other than the node itself.
type Device interface {
	File
	OpenDevice(c Caller, mode Mode) (File, error)
}

// Mode is the mode a file is opened with.
type Mode string

// Open modes.
const (
	ModeRead      Mode = "read"
	ModeWrite     Mode = "write"
	ModeReadWrite Mode = "readwrite"
	ModeAppend    Mode = "append"
)

// ParseMode validates a mode name. The empty string means ModeRead.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeRead, nil
	case ModeRead, ModeWrite, ModeReadWrite, ModeAppend:
		return m, nil
	default:
		return "", kerr.Wrap(kerr.ErrInvalidArgument, "mode "+s)
	}
}

// Readable reports whether the mode permits reading.
func (m Mode) Readable() bool {
	return m == ModeRead || m == ModeReadWrite
}

// Writable reports whether the mode permits writing.
func (m Mode) Writable() bool {
	return m == ModeWrite || m == ModeReadWrite || m == ModeAppend
}

// FileType classifies a File for status reports.
type FileType string

// File types.
const (
	TypeFile      FileType = "file"
	TypeDirectory FileType = "directory"
	TypeDevice    FileType = "device"
	TypePipe      FileType = "pipe"
	TypeTerminal  FileType = "pty"
)

// Status describes a file.
type Status struct {
	Type     FileType `json:"type"`
	Size     int64    `json:"size"`
	Seekable bool     `json:"seekable"`
}

// BaseFile supplies the behavior of a file that supports nothing. Concrete
// files embed it and override what they support.
type BaseFile struct{}

func (BaseFile) Open(Caller, Mode) error { return nil }

func (BaseFile) Close(Mode) {}

func (BaseFile) ReadAt(context.Context, Caller, int64, bool) (string, error) {
	return "", kerr.ErrNotSupported
}

func (BaseFile) WriteAt(context.Context, Caller, int64, string) (int, error) {
	return 0, kerr.ErrNotSupported
}

func (BaseFile) SetLength(int64) error { return kerr.ErrNotSeekable }

func (BaseFile) Control(context.Context, Caller, map[string]any) (any, error) {
	return nil, kerr.ErrBadDeviceRequest
}

func (BaseFile) PollRead(context.Context, Caller) error { return nil }
