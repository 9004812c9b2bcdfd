package security

import (
	"fmt"
	"slices"
	"strings"

	"webkernel/pkg/kerr"
)

// Sandbox is the restriction set of one process. The zero value restricts
// nothing. Sandboxes are values: every change returns a new one, and a
// child starts with a copy of its parent's.
type Sandbox struct {
	pledged  bool
	promises Promise
	unveils  []UnveilPath
	locked   bool
}

// Promises returns what the process may still use.
func (s Sandbox) Promises() Promise {
	if !s.pledged {
		return AllPromises
	}
	return s.promises
}

// Pledged reports whether the process has pledged.
func (s Sandbox) Pledged() bool { return s.pledged }

// Unveiled returns the unveiled paths in the order they were added.
func (s Sandbox) Unveiled() []UnveilPath { return slices.Clone(s.unveils) }

// Locked reports whether further unveils are refused.
func (s Sandbox) Locked() bool { return s.locked }

// Pledge narrows the promises to p. Promises can only be dropped.
func (s Sandbox) Pledge(p Promise) (Sandbox, error) {
	if extra := p &^ s.Promises(); extra != 0 {
		return s, kerr.Wrap(kerr.ErrNotPermitted, fmt.Sprintf("cannot regain %q", extra.String()))
	}
	s.pledged = true
	s.promises = p
	return s, nil
}

// Restrict narrows the promises to their intersection with p.
func (s Sandbox) Restrict(p Promise) Sandbox {
	s.promises = s.Promises() & p
	s.pledged = true
	return s
}

// Unveil makes the absolute path visible with perms. Unveiling a path
// again replaces its permissions, but never adds to those of the deepest
// unveil already covering it.
func (s Sandbox) Unveil(path, perms string) (Sandbox, error) {
	if s.locked {
		return s, kerr.Wrap(kerr.ErrNotPermitted, "unveil is locked")
	}
	if !strings.HasPrefix(path, "/") {
		return s, kerr.Wrap(kerr.ErrInvalidArgument, "unveil path must be absolute")
	}
	if !ValidatePermissions(perms) {
		return s, kerr.Wrap(kerr.ErrInvalidArgument, fmt.Sprintf("bad unveil permissions %q", perms))
	}
	if outer, ok := match(s.unveils, path); ok && outer.Path != path && !outer.Allows(perms) {
		return s, kerr.Wrap(kerr.ErrNotPermitted, "unveil wider than "+outer.Path)
	}

	unveils := slices.DeleteFunc(slices.Clone(s.unveils), func(u UnveilPath) bool {
		return u.Path == path
	})
	s.unveils = append(unveils, UnveilPath{Path: path, Permissions: perms})
	return s, nil
}

// Lock refuses further unveils.
func (s Sandbox) Lock() Sandbox {
	s.locked = true
	return s
}

// CheckSyscall fails with ErrNotPermitted when name needs a promise the
// process dropped.
func (s Sandbox) CheckSyscall(name string) error {
	need := Required(name)
	if missing := need &^ s.Promises(); missing != 0 {
		return kerr.Wrap(kerr.ErrNotPermitted, fmt.Sprintf("%s needs %q", name, missing.String()))
	}
	return nil
}

// CheckPath checks access want, a subset of "rwxc", to the absolute path
// against both promises and unveils. A path outside every unveil does not
// exist for the process.
func (s Sandbox) CheckPath(path, want string) error {
	var need Promise
	for _, c := range want {
		need |= accessPromises[c]
	}
	if missing := need &^ s.Promises(); missing != 0 {
		return kerr.Wrap(kerr.ErrNotPermitted, fmt.Sprintf("%s needs %q", path, missing.String()))
	}

	if len(s.unveils) == 0 {
		return nil
	}
	u, ok := match(s.unveils, path)
	if !ok || u.Permissions == "" {
		return kerr.Wrap(kerr.ErrNoSuchFile, path)
	}
	if !u.Allows(want) {
		return kerr.Wrap(kerr.ErrNotPermitted, fmt.Sprintf("%s is unveiled %q", path, u.Permissions))
	}
	return nil
}
