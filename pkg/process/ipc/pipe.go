package ipc

import (
	"context"
	"strings"
	"sync"

	"webkernel/pkg/kerr"
	"webkernel/pkg/vfs"
	"webkernel/pkg/waitq"
)

// Pipe is a FIFO of text chunks with reader and writer accounting.
//
// An empty chunk in the buffer is an end-of-file marker that exactly one read
// consumes. Once every writer is gone, reads on an empty buffer return ""
// forever. Reads may be restricted to one process group; readers outside it
// stay blocked while data is available.
type Pipe struct {
	// mu guards all fields below and is the lock of waiters.
	mu sync.Mutex
	// waiters holds blocked readers.
	waiters *waitq.Registry
	// buffer holds unread chunks.
	buffer []string
	// readers and writers count the open ends.
	readers, writers int
	// restrictPgid, when non-zero, is the only group allowed to read.
	restrictPgid int
}

const readQueue = "read"

// NewPipe creates a pipe with no readers or writers.
func NewPipe() *Pipe {
	p := &Pipe{}
	p.waiters = waitq.NewFIFO(&p.mu)
	return p
}

// Write appends text to the buffer. It fails with EPIPE when no reader is
// left. Writing "" does nothing; use PushEOF to queue an end-of-file marker.
func (p *Pipe) Write(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readers == 0 {
		return kerr.ErrReadEndClosed
	}
	if text == "" {
		return nil
	}
	p.buffer = append(p.buffer, text)
	p.waiters.Wakeup(readQueue)
	return nil
}

// PushEOF queues an end-of-file marker that the next read consumes.
func (p *Pipe) PushEOF() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer = append(p.buffer, "")
	p.waiters.Wakeup(readQueue)
}

// Read returns all buffered text up to the next end-of-file marker. A marker
// at the head of the buffer is consumed alone and reads as "". Blocked
// readers are served in the order they started waiting. Non-blocking reads
// fail with WOULDBLOCK instead of waiting, also when a blocked reader is
// owed the data.
func (p *Pipe) Read(ctx context.Context, c vfs.Caller, nonBlocking bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := func() bool { return p.readable(c) }
	if nonBlocking {
		if !p.waiters.Turn(readQueue, ready) {
			return "", kerr.ErrWouldBlock
		}
	} else if err := p.waiters.Wait(ctx, readQueue, ready); err != nil {
		return "", err
	}

	text := p.consume()
	p.waiters.Wakeup(readQueue)
	return text, nil
}

// WaitReadable blocks until a read by c would not block.
func (p *Pipe) WaitReadable(ctx context.Context, c vfs.Caller) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.waiters.Wait(ctx, readQueue, func() bool { return p.readable(c) }); err != nil {
		return err
	}
	p.waiters.Wakeup(readQueue)
	return nil
}

// SetRestrictReadsToProcessGroup limits reads to processes in pgid. Zero
// lifts the restriction.
func (p *Pipe) SetRestrictReadsToProcessGroup(pgid int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.restrictPgid = pgid
	p.waiters.Wakeup(readQueue)
}

// RestrictedProcessGroup returns the group reads are restricted to, or zero.
func (p *Pipe) RestrictedProcessGroup() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restrictPgid
}

// AddReader registers an open read end.
func (p *Pipe) AddReader() {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
}

// RemoveReader drops an open read end.
func (p *Pipe) RemoveReader() {
	p.mu.Lock()
	if p.readers > 0 {
		p.readers--
	}
	p.mu.Unlock()
}

// AddWriter registers an open write end.
func (p *Pipe) AddWriter() {
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
}

// RemoveWriter drops an open write end. Readers blocked on an empty buffer
// see end of file once the last writer is gone.
func (p *Pipe) RemoveWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writers > 0 {
		p.writers--
	}
	if p.writers == 0 {
		p.waiters.Wakeup(readQueue)
	}
}

// Readers returns the number of open read ends.
func (p *Pipe) Readers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers
}

// Writers returns the number of open write ends.
func (p *Pipe) Writers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers
}

// Buffered returns the number of buffered bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, chunk := range p.buffer {
		n += len(chunk)
	}
	return n
}

// Waiting returns the number of blocked readers.
func (p *Pipe) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len(readQueue)
}

func (p *Pipe) readable(c vfs.Caller) bool {
	if p.restrictPgid != 0 && c.PGID() != p.restrictPgid {
		return false
	}
	return len(p.buffer) > 0 || p.writers == 0
}

func (p *Pipe) consume() string {
	if len(p.buffer) == 0 {
		return ""
	}
	if p.buffer[0] == "" {
		p.buffer = p.buffer[1:]
		return ""
	}

	var sb strings.Builder
	n := 0
	for n < len(p.buffer) && p.buffer[n] != "" {
		sb.WriteString(p.buffer[n])
		n++
	}
	p.buffer = p.buffer[n:]
	return sb.String()
}

// PipeFile exposes a Pipe as a File. The open mode decides which ends an
// open holds: read, write, or both for readwrite.
type PipeFile struct {
	vfs.BaseFile
	pipe *Pipe
}

// NewPipeFile wraps p.
func NewPipeFile(p *Pipe) *PipeFile {
	return &PipeFile{pipe: p}
}

// Pipe returns the wrapped pipe.
func (f *PipeFile) Pipe() *Pipe { return f.pipe }

func (f *PipeFile) Open(_ vfs.Caller, mode vfs.Mode) error {
	if mode.Readable() {
		f.pipe.AddReader()
	}
	if mode.Writable() {
		f.pipe.AddWriter()
	}
	return nil
}

func (f *PipeFile) Close(mode vfs.Mode) {
	if mode.Readable() {
		f.pipe.RemoveReader()
	}
	if mode.Writable() {
		f.pipe.RemoveWriter()
	}
}

func (f *PipeFile) ReadAt(ctx context.Context, c vfs.Caller, _ int64, nonBlocking bool) (string, error) {
	return f.pipe.Read(ctx, c, nonBlocking)
}

func (f *PipeFile) WriteAt(_ context.Context, _ vfs.Caller, _ int64, text string) (int, error) {
	if err := f.pipe.Write(text); err != nil {
		return 0, err
	}
	return len(text), nil
}

func (f *PipeFile) PollRead(ctx context.Context, c vfs.Caller) error {
	return f.pipe.WaitReadable(ctx, c)
}

func (f *PipeFile) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypePipe, Size: int64(f.pipe.Buffered())}
}

// PipeDevice is the /dev/pipe node: every open gets a fresh pipe.
type PipeDevice struct {
	vfs.BaseFile
}

func (PipeDevice) OpenDevice(vfs.Caller, vfs.Mode) (vfs.File, error) {
	return NewPipeFile(NewPipe()), nil
}

func (PipeDevice) Status() vfs.Status {
	return vfs.Status{Type: vfs.TypeDevice}
}
