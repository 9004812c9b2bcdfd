package vfs

import (
	"context"
	"sort"
	"sync"

	"webkernel/pkg/kerr"
)

// Directory is an in-memory directory. Every directory has "." and ".."
// entries; the root's ".." is itself.
type Directory struct {
	BaseFile

	mu      sync.RWMutex
	parent  *Directory
	entries map[string]File
}

// NewDirectory creates an empty directory below parent. A nil parent makes
// a root directory.
func NewDirectory(parent *Directory) *Directory {
	d := &Directory{
		parent:  parent,
		entries: make(map[string]File),
	}
	if d.parent == nil {
		d.parent = d
	}
	return d
}

// Parent returns the directory's ".." entry.
func (d *Directory) Parent() *Directory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.parent
}

// Lookup returns the entry called name.
func (d *Directory) Lookup(name string) (File, bool) {
	switch name {
	case ".":
		return d, true
	case "..":
		return d.Parent(), true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.entries[name]
	return f, ok
}

// Link adds f under name.
func (d *Directory) Link(name string, f File) error {
	if err := checkName(name); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; ok {
		return kerr.Wrap(kerr.ErrFileExists, name)
	}
	d.entries[name] = f
	if sub, ok := f.(*Directory); ok && sub != d {
		sub.mu.Lock()
		sub.parent = d
		sub.mu.Unlock()
	}
	return nil
}

// Replace links f under name, replacing any existing entry.
func (d *Directory) Replace(name string, f File) error {
	if err := checkName(name); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[name] = f
	return nil
}

// Unlink removes the entry called name.
func (d *Directory) Unlink(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; !ok {
		return kerr.Wrap(kerr.ErrNoSuchFile, name)
	}
	delete(d.entries, name)
	return nil
}

// MakeDir creates a subdirectory, or returns the existing one.
func (d *Directory) MakeDir(name string) (*Directory, error) {
	if f, ok := d.Lookup(name); ok {
		sub, ok := f.(*Directory)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrNotDirectory, name)
		}
		return sub, nil
	}

	sub := NewDirectory(d)
	if err := d.Link(name, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Names lists the directory's entries in sorted order, "." and ".." included.
func (d *Directory) Names() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.entries)+2)
	for name := range d.entries {
		names = append(names, name)
	}
	d.mu.RUnlock()

	names = append(names, ".", "..")
	sort.Strings(names)
	return names
}

func (d *Directory) ReadAt(context.Context, Caller, int64, bool) (string, error) {
	return "", kerr.ErrIsDirectory
}

func (d *Directory) WriteAt(context.Context, Caller, int64, string) (int, error) {
	return 0, kerr.ErrIsDirectory
}

func (d *Directory) SetLength(int64) error {
	return kerr.ErrIsDirectory
}

func (d *Directory) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{Type: TypeDirectory, Size: int64(len(d.entries) + 2)}
}

func checkName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return kerr.Wrap(kerr.ErrInvalidArgument, "file name "+name)
	case len(name) > 255:
		return kerr.Wrap(kerr.ErrInvalidArgument, "file name too long")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return kerr.Wrap(kerr.ErrInvalidArgument, "file name "+name)
		}
	}
	return nil
}
