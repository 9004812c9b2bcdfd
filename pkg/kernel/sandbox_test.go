package kernel

import (
	"errors"
	"testing"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/security"
)

func TestPledge(t *testing.T) {
	s, _ := newTestSystem(t)
	child := spawnChild(t, s, 1, nil)

	call(t, s, child, "pledge", map[string]any{"promises": "stdio rpath"})

	fd := call(t, s, child, "openFile", map[string]any{"path": "/home/notes"}).(int)
	call(t, s, child, "close", map[string]any{"fd": fd})

	denied := []struct {
		name string
		args map[string]any
	}{
		{"openFile", map[string]any{"path": "/home/notes", "mode": "write"}},
		{"openFile", map[string]any{"path": "/tmp/new", "createIfNecessary": true, "mode": "append"}},
		{"createDirectory", map[string]any{"path": "/tmp/dir"}},
		{"spawn", map[string]any{"programPath": "/bin/child"}},
		{"listProcesses", nil},
		{"createPseudoTerminal", nil},
		{"pledge", map[string]any{"promises": "stdio rpath proc"}},
	}
	for _, d := range denied {
		if err := callErr(s, child, d.name, d.args); !errors.Is(err, kerr.ErrNotPermitted) {
			t.Errorf("%s(%v) error = %v, want %v", d.name, d.args, err, kerr.ErrNotPermitted)
		}
	}

	info := call(t, s, child, "getProcessInfo", nil).(process.Info)
	if info.Promises != "stdio rpath" {
		t.Errorf("Promises = %q, want %q", info.Promises, "stdio rpath")
	}
	if err := callErr(s, child, "pledge", map[string]any{"promises": "stdio teleport"}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("pledge(unknown) error = %v, want %v", err, kerr.ErrInvalidArgument)
	}

	call(t, s, child, "pledge", map[string]any{"promises": ""})
	if err := callErr(s, child, "getWorkingDirectory", nil); !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("getWorkingDirectory() without stdio error = %v", err)
	}
	call(t, s, child, "exit", map[string]any{"exitValue": 0})
}

func TestPledgeInherited(t *testing.T) {
	s, _ := newTestSystem(t)
	child := spawnChild(t, s, 1, nil)
	call(t, s, child, "pledge", map[string]any{"promises": "stdio proc exec"})

	grandchild := spawnChild(t, s, child, nil)
	info := call(t, s, grandchild, "getProcessInfo", nil).(process.Info)
	if info.Promises != "stdio proc exec" {
		t.Errorf("grandchild Promises = %q, want %q", info.Promises, "stdio proc exec")
	}

	parent := call(t, s, 1, "getProcessInfo", nil).(process.Info)
	if parent.Promises != security.AllPromises.String() {
		t.Errorf("init Promises = %q, want all", parent.Promises)
	}
}

func TestUnveilSyscall(t *testing.T) {
	s, _ := newTestSystem(t)
	child := spawnChild(t, s, 1, nil)

	call(t, s, child, "changeWorkingDirectory", map[string]any{"path": "/home"})
	call(t, s, child, "unveil", map[string]any{"path": ".", "permissions": "rc"})
	call(t, s, child, "unveil", map[string]any{"path": "/bin/child", "permissions": "x"})

	if got := call(t, s, child, "listDirectory", map[string]any{"path": "/home"}).([]string); len(got) == 0 {
		t.Errorf("listDirectory(/home) = %v", got)
	}
	call(t, s, child, "createDirectory", map[string]any{"path": "work"})

	if err := callErr(s, child, "listDirectory", map[string]any{"path": "/"}); !errors.Is(err, kerr.ErrNoSuchFile) {
		t.Errorf("listDirectory(/) error = %v, want %v", err, kerr.ErrNoSuchFile)
	}
	if err := callErr(s, child, "openFile", map[string]any{"path": "notes", "mode": "write"}); !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("openFile(write) error = %v, want %v", err, kerr.ErrNotPermitted)
	}
	if err := callErr(s, child, "spawn", map[string]any{"programPath": "/bin/sub/tool"}); !errors.Is(err, kerr.ErrNoSuchFile) {
		t.Errorf("spawn(hidden) error = %v, want %v", err, kerr.ErrNoSuchFile)
	}
	spawnChild(t, s, child, nil)

	if err := callErr(s, child, "unveil", map[string]any{"path": "/tmp"}); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Errorf("unveil(path only) error = %v, want %v", err, kerr.ErrInvalidArgument)
	}
	call(t, s, child, "unveil", nil)
	if err := callErr(s, child, "unveil", map[string]any{"path": "/tmp", "permissions": "r"}); !errors.Is(err, kerr.ErrNotPermitted) {
		t.Errorf("unveil() after lock error = %v, want %v", err, kerr.ErrNotPermitted)
	}
}

func TestSpawnPolicy(t *testing.T) {
	s, _ := newTestSystem(t)

	promises := "stdio"
	policy, err := security.NewPolicy(&promises, nil)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	s.policies = security.NewPolicies()
	if err := s.policies.Set("/bin/sub/tool", policy); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	tool := spawnChild(t, s, 1, map[string]any{"programPath": "/bin/sub/tool"})
	if info := call(t, s, tool, "getProcessInfo", nil).(process.Info); info.Promises != "stdio" {
		t.Errorf("tool Promises = %q, want stdio", info.Promises)
	}

	other := spawnChild(t, s, 1, nil)
	if err := callErr(s, other, "listProcesses", nil); err != nil {
		t.Errorf("unrestricted child listProcesses() error = %v", err)
	}
}
