package vfs

import (
	"context"
	"io"
	"sync"

	"webkernel/pkg/kerr"
)

// ReaderInput is a ConsoleInput fed by an io.Reader, usually the host's
// standard input. A goroutine reads ahead; reads return whatever arrived
// since the last read.
type ReaderInput struct {
	mu      sync.Mutex
	buf     []byte
	eof     bool
	changed chan struct{}
}

// NewReaderInput starts reading r.
func NewReaderInput(r io.Reader) *ReaderInput {
	in := &ReaderInput{changed: make(chan struct{})}
	go in.pump(r)
	return in
}

func (in *ReaderInput) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		in.mu.Lock()
		in.buf = append(in.buf, chunk[:n]...)
		if err != nil {
			in.eof = true
		}
		close(in.changed)
		in.changed = make(chan struct{})
		in.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// ReadInput implements ConsoleInput.
func (in *ReaderInput) ReadInput(ctx context.Context, nonBlocking bool) (string, error) {
	for {
		in.mu.Lock()
		if len(in.buf) > 0 {
			text := string(in.buf)
			in.buf = in.buf[:0]
			in.mu.Unlock()
			return text, nil
		}
		if in.eof {
			in.mu.Unlock()
			return "", nil
		}
		if nonBlocking {
			in.mu.Unlock()
			return "", kerr.ErrWouldBlock
		}
		changed := in.changed
		in.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}
}

// WaitReadable implements ConsoleInput.
func (in *ReaderInput) WaitReadable(ctx context.Context) error {
	for {
		in.mu.Lock()
		ready := len(in.buf) > 0 || in.eof
		changed := in.changed
		in.mu.Unlock()
		if ready {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}
