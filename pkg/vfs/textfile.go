package vfs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"webkernel/pkg/kerr"
)

// DefaultMaxFileSize bounds a text file that was given no limit.
const DefaultMaxFileSize = 16 << 20

// TextFile is a regular file whose content is held in memory. Offsets are
// byte offsets into the content.
type TextFile struct {
	BaseFile

	mu    sync.RWMutex
	text  string
	limit int64
}

// NewTextFile creates a file holding text, limited to DefaultMaxFileSize.
func NewTextFile(text string) *TextFile {
	return &TextFile{text: text, limit: DefaultMaxFileSize}
}

// WithLimit sets the largest size writes and SetLength may grow the file
// to. A limit of zero or less keeps DefaultMaxFileSize.
func (f *TextFile) WithLimit(n int64) *TextFile {
	if n > 0 {
		f.mu.Lock()
		f.limit = n
		f.mu.Unlock()
	}
	return f
}

func (f *TextFile) checkSize(n int64) error {
	if n > f.limit {
		return kerr.Wrap(kerr.ErrInvalidArgument, fmt.Sprintf("file size %d exceeds limit %d", n, f.limit))
	}
	return nil
}

// Text returns the file content.
func (f *TextFile) Text() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.text
}

// SetText replaces the file content.
func (f *TextFile) SetText(text string) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
}

func (f *TextFile) ReadAt(_ context.Context, _ Caller, off int64, _ bool) (string, error) {
	if off < 0 {
		return "", kerr.Wrap(kerr.ErrInvalidArgument, "negative offset")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= int64(len(f.text)) {
		return "", nil
	}
	return f.text[off:], nil
}

// WriteAt overwrites the content at off, padding with NUL bytes when off is
// past the end.
func (f *TextFile) WriteAt(_ context.Context, _ Caller, off int64, text string) (int, error) {
	if off < 0 {
		return 0, kerr.Wrap(kerr.ErrInvalidArgument, "negative offset")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if off > f.limit {
		return 0, f.checkSize(off)
	}
	if err := f.checkSize(off + int64(len(text))); err != nil {
		return 0, err
	}

	cur := f.text
	if n := int64(len(cur)); off > n {
		cur += strings.Repeat("\x00", int(off-n))
	}

	end := off + int64(len(text))
	tail := ""
	if end < int64(len(cur)) {
		tail = cur[end:]
	}
	f.text = cur[:off] + text + tail
	return len(text), nil
}

func (f *TextFile) SetLength(n int64) error {
	if n < 0 {
		return kerr.Wrap(kerr.ErrInvalidArgument, "negative length")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkSize(n); err != nil {
		return err
	}
	if cur := int64(len(f.text)); n <= cur {
		f.text = f.text[:n]
	} else {
		f.text += strings.Repeat("\x00", int(n-cur))
	}
	return nil
}

func (f *TextFile) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{Type: TypeFile, Size: int64(len(f.text)), Seekable: true}
}
