// Package hostfs copies program files from host directories into the
// kernel's /bin and keeps them current while the kernel runs.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"webkernel/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"
)

// DefaultDir is where host programs are installed.
const DefaultDir = "/bin"

// ErrWatcherClosed is returned by Watch after Close.
var ErrWatcherClosed = errors.New("hostfs: watcher closed")

// Installer writes a program into the kernel's file system.
type Installer interface {
	InstallProgram(path, code string) error
}

// Loader installs every regular, non-hidden file of its host directories.
type Loader struct {
	dirs []string
	dest string
	sys  Installer
	log  log.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewLoader creates a loader installing the files of dirs into DefaultDir.
func NewLoader(sys Installer, dirs []string) *Loader {
	return &Loader{
		dirs: dirs,
		dest: DefaultDir,
		sys:  sys,
		log:  logger.NewLoggerWithContext("hostfs"),
	}
}

// Load installs every program and returns how many were installed. A file
// that cannot be read is skipped and reported in the joined error.
func (l *Loader) Load() (int, error) {
	var (
		n    int
		errs []error
	)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || hidden(entry.Name()) {
				continue
			}
			if err := l.install(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			n++
		}
	}
	l.log.Info().Int("programs", n).Strs("dirs", l.dirs).Msg("host programs loaded")
	return n, errors.Join(errs...)
}

func (l *Loader) install(hostPath string) error {
	code, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}
	target := l.dest + "/" + filepath.Base(hostPath)
	if err := l.sys.InstallProgram(target, string(code)); err != nil {
		return fmt.Errorf("install %s: %w", target, err)
	}
	l.log.Debug().Str("host", hostPath).Str("path", target).Msg("program installed")
	return nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// Watch reinstalls programs whose host files are created or written until
// ctx is done or the loader is closed. Removed host files stay installed.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		w.Close()
		return ErrWatcherClosed
	}
	l.watcher = w
	l.mu.Unlock()
	defer l.Close()

	for _, dir := range l.dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			l.handle(ev)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (l *Loader) handle(ev fsnotify.Event) {
	if hidden(filepath.Base(ev.Name)) {
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if err := l.install(ev.Name); err != nil {
		l.log.Warn().Err(err).Str("host", ev.Name).Msg("reload failed")
		return
	}
	l.log.Info().Str("host", ev.Name).Msg("program reloaded")
}

// Close stops Watch.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
