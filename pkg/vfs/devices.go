package vfs

import (
	"context"
	"io"
	"sync"
)

// NullFile discards writes and reads as end of file.
type NullFile struct {
	BaseFile
}

func (NullFile) ReadAt(context.Context, Caller, int64, bool) (string, error) {
	return "", nil
}

func (NullFile) WriteAt(_ context.Context, _ Caller, _ int64, text string) (int, error) {
	return len(text), nil
}

func (NullFile) Status() Status {
	return Status{Type: TypeDevice}
}

// ConsoleInput is the source of console keyboard input.
type ConsoleInput interface {
	// ReadInput returns the next chunk of input. An empty result means end
	// of input.
	ReadInput(ctx context.Context, nonBlocking bool) (string, error)

	// WaitReadable blocks until ReadInput would not block.
	WaitReadable(ctx context.Context) error
}

// ConsoleFile is the host console. Writes go to an io.Writer and reads come
// from a ConsoleInput. A console without input reads as end of file.
type ConsoleFile struct {
	BaseFile

	mu  sync.Mutex
	out io.Writer
	in  ConsoleInput
}

// NewConsoleFile creates a console writing to out and reading from in.
func NewConsoleFile(out io.Writer, in ConsoleInput) *ConsoleFile {
	if out == nil {
		out = io.Discard
	}
	return &ConsoleFile{out: out, in: in}
}

func (f *ConsoleFile) ReadAt(ctx context.Context, _ Caller, _ int64, nonBlocking bool) (string, error) {
	if f.in == nil {
		return "", nil
	}
	return f.in.ReadInput(ctx, nonBlocking)
}

func (f *ConsoleFile) WriteAt(_ context.Context, _ Caller, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.WriteString(f.out, text)
}

func (f *ConsoleFile) PollRead(ctx context.Context, _ Caller) error {
	if f.in == nil {
		return nil
	}
	return f.in.WaitReadable(ctx)
}

func (f *ConsoleFile) Status() Status {
	return Status{Type: TypeDevice}
}
