package userland

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"webkernel/pkg/config"
	"webkernel/pkg/exec"
	"webkernel/pkg/kernel"
	"webkernel/pkg/logger"
	"webkernel/pkg/vfs"
)

func init() {
	logger.Discard()
}

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// session boots the built-in userland with input typed at the console and
// returns init's exit value and everything printed.
func session(t *testing.T, input string, files map[string]string) (any, string) {
	t.Helper()
	mux := exec.NewMux()
	Register(mux)

	var out lockedBuffer
	in := vfs.NewReaderInput(strings.NewReader(input))
	s := kernel.New(config.DefaultConfig().Kernel, kernel.WithLauncher(mux), kernel.WithConsole(&out, in))
	if err := Install(s); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	for path, text := range files {
		if err := s.InstallProgram(path, text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	t.Cleanup(s.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v\noutput so far:\n%s", err, out.String())
	}
	return v, out.String()
}

func TestShellSession(t *testing.T) {
	v, out := session(t, strings.Join([]string{
		"echo hello   world",
		"mkdir /tmp/d",
		"ls /tmp",
		"cd /tmp/d",
		"pwd",
		"# a comment",
		"sh /home/script",
		"cat /home/notes",
		"bogus",
		"exit",
	}, "\n")+"\n", map[string]string{
		"/home/script": "echo from script\n",
		"/home/notes":  "line one\nline two\n",
	})

	for _, want := range []string{
		"$ hello world\n",
		"d\n",
		"/tmp/d\n",
		"from script\n",
		"line one\nline two\n",
		"sh: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if v != float64(1) {
		t.Errorf("exit value = %#v, want the failed command's status 1", v)
	}
}

func TestShellEndOfInput(t *testing.T) {
	v, out := session(t, "echo bye", nil)

	if !strings.Contains(out, "bye\n") {
		t.Errorf("output = %q", out)
	}
	if v != float64(0) {
		t.Errorf("exit value = %#v, want 0", v)
	}
}

func TestShellExitStatus(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
		out   string
	}{
		{"number", "exit 3\n", float64(3), ""},
		{"zero", "exit 0\n", float64(0), ""},
		{"not a number", "exit three\n", float64(2), "exit: three: numeric argument required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, out := session(t, tt.input, nil)
			if v != tt.want {
				t.Errorf("exit value = %#v, want %#v", v, tt.want)
			}
			if !strings.Contains(out, tt.out) {
				t.Errorf("output missing %q:\n%s", tt.out, out)
			}
		})
	}
}

func TestShellReportsFailures(t *testing.T) {
	_, out := session(t, "cat /missing\nsleep\nrm /bin\n", nil)

	for _, want := range []string{
		"cat: ",
		"sleep: ",
		"rm: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShellPipelines(t *testing.T) {
	v, out := session(t, strings.Join([]string{
		"echo one two three | wc",
		"echo hi > /tmp/f",
		"echo there >> /tmp/f",
		"cat < /tmp/f",
		"echo short > /tmp/f; cat /tmp/f",
		"cat /missing || echo recovered",
		"echo ok && echo yes",
		"cat /missing && echo never",
		"echo 'quoted  spaces'",
		"echo |",
		"echo bg &",
		"echo last",
	}, "\n")+"\n", nil)

	for _, want := range []string{
		"1 3 14\n",
		"hi\nthere\n",
		"short\n",
		"recovered\n",
		"ok\n",
		"yes\n",
		"quoted  spaces\n",
		"sh: syntax error",
		"bg\n",
		"last\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "never") {
		t.Errorf("&& ran after a failure:\n%s", out)
	}
	if v != float64(0) {
		t.Errorf("exit value = %#v, want 0", v)
	}
}

func TestProcessTools(t *testing.T) {
	_, out := session(t, "ps\nkill 99\nkill hangup\n", nil)

	if !strings.Contains(out, "PID  PPID  PGID STATE") {
		t.Errorf("ps header missing:\n%s", out)
	}
	if !strings.Contains(out, "ps") {
		t.Errorf("ps does not list itself:\n%s", out)
	}
	if !strings.Contains(out, "kill: ") {
		t.Errorf("kill of a missing pid not reported:\n%s", out)
	}
}

func TestInstall(t *testing.T) {
	s := kernel.New(config.DefaultConfig().Kernel)
	if err := Install(s); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"/sys", "/bin"} {
		d, err := vfs.ResolveDir(s.Root(), "/", dir)
		if err != nil {
			t.Fatalf("ResolveDir(%s) error = %v", dir, err)
		}
		if len(d.Names()) <= 2 {
			t.Errorf("%s is empty", dir)
		}
	}
}
