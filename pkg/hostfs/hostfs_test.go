package hostfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"webkernel/pkg/logger"
)

func init() {
	logger.Discard()
}

type memInstaller struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memInstaller) InstallProgram(path, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string]string)
	}
	m.files[path] = code
	return nil
}

func (m *memInstaller) get(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.files[path]
	return code, ok
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hello"), "#!lua\nprint('hi')")
	writeFile(t, filepath.Join(dir, ".hidden"), "secret")
	writeFile(t, filepath.Join(dir, "backup~"), "old")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	var sys memInstaller
	n, err := NewLoader(&sys, []string{dir}).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Load() = %d, want 1", n)
	}
	if code, _ := sys.get("/bin/hello"); code != "#!lua\nprint('hi')" {
		t.Errorf("/bin/hello = %q", code)
	}
	for _, skipped := range []string{"/bin/.hidden", "/bin/backup~", "/bin/sub"} {
		if _, ok := sys.get(skipped); ok {
			t.Errorf("%s installed", skipped)
		}
	}
}

func TestLoadMissingDir(t *testing.T) {
	var sys memInstaller
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok"), "x")

	n, err := NewLoader(&sys, []string{filepath.Join(dir, "missing"), dir}).Load()
	if err == nil {
		t.Error("Load() error = nil, want the missing directory")
	}
	if n != 1 {
		t.Errorf("Load() = %d, want the readable directory loaded", n)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	var sys memInstaller
	l := NewLoader(&sys, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// Writes before the watch is registered are missed; keep writing.
	deadline := time.Now().Add(5 * time.Second)
	for {
		writeFile(t, filepath.Join(dir, "tool"), "v2")
		time.Sleep(20 * time.Millisecond)
		if code, _ := sys.get("/bin/tool"); code == "v2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("program never reloaded")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}

	if err := l.Watch(context.Background()); err != ErrWatcherClosed {
		t.Errorf("Watch() after close error = %v, want %v", err, ErrWatcherClosed)
	}
}
