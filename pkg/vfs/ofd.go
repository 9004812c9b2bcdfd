package vfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"webkernel/pkg/kerr"
)

// ErrRefCount reports that an open file description was released more often
// than it was referenced.
var ErrRefCount = kerr.New("open file description reference count underflow")

// Table tracks every live open file description of a kernel.
type Table struct {
	mu   sync.Mutex
	open map[*OpenFileDescription]struct{}
}

// NewTable creates an empty open-file table.
func NewTable() *Table {
	return &Table{open: make(map[*OpenFileDescription]struct{})}
}

// Count returns the number of live descriptions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Refs returns the sum of the reference counts of all live descriptions.
func (t *Table) Refs() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for d := range t.open {
		n += d.Refs()
	}
	return n
}

func (t *Table) add(d *OpenFileDescription) {
	t.mu.Lock()
	t.open[d] = struct{}{}
	t.mu.Unlock()
}

func (t *Table) remove(d *OpenFileDescription) {
	t.mu.Lock()
	delete(t.open, d)
	t.mu.Unlock()
}

// OpenFileDescription is the state of one open of a File: the mode, the byte
// offset shared by all duplicates and the reference count.
type OpenFileDescription struct {
	file   File
	mode   Mode
	opener int
	table  *Table

	// mu serializes offset updates; it is held only around seekable files.
	mu     sync.Mutex
	offset int64

	refs atomic.Int32
}

// Open opens f for caller and returns the first descriptor of a new
// description. Device nodes are replaced by the File their OpenDevice
// returns.
func Open(table *Table, f File, c Caller, mode Mode) (*FileDescriptor, error) {
	if dev, ok := f.(Device); ok {
		sub, err := dev.OpenDevice(c, mode)
		if err != nil {
			return nil, err
		}
		f = sub
	}

	if _, ok := f.(*Directory); ok && mode.Writable() {
		return nil, kerr.ErrIsDirectory
	}

	if err := f.Open(c, mode); err != nil {
		return nil, err
	}

	d := &OpenFileDescription{
		file:   f,
		mode:   mode,
		opener: c.PID(),
		table:  table,
	}
	d.refs.Store(1)
	if table != nil {
		table.add(d)
	}
	return &FileDescriptor{d: d}, nil
}

// File returns the backing file.
func (d *OpenFileDescription) File() File { return d.file }

// Mode returns the open mode.
func (d *OpenFileDescription) Mode() Mode { return d.mode }

// Opener returns the pid of the opening process.
func (d *OpenFileDescription) Opener() int { return d.opener }

// Refs returns the current reference count.
func (d *OpenFileDescription) Refs() int { return int(d.refs.Load()) }

// Offset returns the current byte offset.
func (d *OpenFileDescription) Offset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

func (d *OpenFileDescription) seekable() bool {
	return d.file.Status().Seekable
}

func (d *OpenFileDescription) read(ctx context.Context, c Caller, nonBlocking bool) (string, error) {
	if !d.mode.Readable() {
		return "", kerr.ErrBadFileMode
	}
	if !d.seekable() {
		return d.file.ReadAt(ctx, c, 0, nonBlocking)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	text, err := d.file.ReadAt(ctx, c, d.offset, nonBlocking)
	if err != nil {
		return "", err
	}
	d.offset += int64(len(text))
	return text, nil
}

func (d *OpenFileDescription) write(ctx context.Context, c Caller, text string) (int, error) {
	if !d.mode.Writable() {
		return 0, kerr.ErrBadFileMode
	}
	if !d.seekable() {
		return d.file.WriteAt(ctx, c, 0, text)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	off := d.offset
	if d.mode == ModeAppend {
		off = d.file.Status().Size
	}
	n, err := d.file.WriteAt(ctx, c, off, text)
	if err != nil {
		return 0, err
	}
	d.offset = off + int64(n)
	return n, nil
}

func (d *OpenFileDescription) seek(pos int64) error {
	if !d.seekable() {
		return kerr.ErrNotSeekable
	}
	if pos < 0 {
		return kerr.Wrap(kerr.ErrInvalidArgument, "negative position")
	}

	d.mu.Lock()
	d.offset = pos
	d.mu.Unlock()
	return nil
}

func (d *OpenFileDescription) retain() {
	d.refs.Add(1)
}

func (d *OpenFileDescription) release() error {
	n := d.refs.Add(-1)
	switch {
	case n < 0:
		return fmt.Errorf("release %T: %w", d.file, ErrRefCount)
	case n > 0:
		return nil
	}

	if d.table != nil {
		d.table.remove(d)
	}
	d.file.Close(d.mode)
	return nil
}

// FileDescriptor is one handle on an OpenFileDescription. Each handle drops
// its reference exactly once.
type FileDescriptor struct {
	d      *OpenFileDescription
	closed atomic.Bool
}

// Description returns the shared open file description.
func (fd *FileDescriptor) Description() *OpenFileDescription { return fd.d }

// Duplicate returns a new handle on the same description.
func (fd *FileDescriptor) Duplicate() (*FileDescriptor, error) {
	if fd.closed.Load() {
		return nil, kerr.Wrap(kerr.ErrNoSuchFD, "descriptor closed")
	}
	fd.d.retain()
	return &FileDescriptor{d: fd.d}, nil
}

// Close drops the handle's reference. Closing twice fails.
func (fd *FileDescriptor) Close() error {
	if !fd.closed.CompareAndSwap(false, true) {
		return kerr.Wrap(kerr.ErrNoSuchFD, "descriptor already closed")
	}
	return fd.d.release()
}

// Read reads from the current offset and advances it.
func (fd *FileDescriptor) Read(ctx context.Context, c Caller, nonBlocking bool) (string, error) {
	return fd.d.read(ctx, c, nonBlocking)
}

// Write writes at the current offset, or at the end in append mode.
func (fd *FileDescriptor) Write(ctx context.Context, c Caller, text string) (int, error) {
	return fd.d.write(ctx, c, text)
}

// SetOffset sets the shared offset.
func (fd *FileDescriptor) SetOffset(pos int64) error {
	return fd.d.seek(pos)
}

// SetLength truncates or extends the backing file.
func (fd *FileDescriptor) SetLength(n int64) error {
	if !fd.d.mode.Writable() {
		return kerr.ErrBadFileMode
	}
	return fd.d.file.SetLength(n)
}

// Status describes the backing file.
func (fd *FileDescriptor) Status() Status {
	return fd.d.file.Status()
}

// Control forwards a device request to the backing file.
func (fd *FileDescriptor) Control(ctx context.Context, c Caller, req map[string]any) (any, error) {
	return fd.d.file.Control(ctx, c, req)
}

// PollRead blocks until a read would not block.
func (fd *FileDescriptor) PollRead(ctx context.Context, c Caller) error {
	return fd.d.file.PollRead(ctx, c)
}
