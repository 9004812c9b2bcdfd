package security

import (
	"strings"
)

// UnveilPath makes a subtree visible with the given permissions, a subset
// of "rwxc": read, write, execute and create or remove.
type UnveilPath struct {
	Path        string `json:"path"`
	Permissions string `json:"permissions"`
}

// ValidatePermissions reports whether perms only uses r, w, x and c, each
// at most once. The empty string hides the path.
func ValidatePermissions(perms string) bool {
	seen := map[rune]bool{}
	for _, c := range perms {
		if _, ok := accessPromises[c]; !ok || seen[c] {
			return false
		}
		seen[c] = true
	}
	return true
}

// Allows reports whether u grants every letter of want.
func (u UnveilPath) Allows(want string) bool {
	for _, c := range want {
		if !strings.ContainsRune(u.Permissions, c) {
			return false
		}
	}
	return true
}

// covers reports whether the absolute path lies in u's subtree.
func (u UnveilPath) covers(path string) bool {
	if u.Path == "/" || u.Path == path {
		return true
	}
	return strings.HasPrefix(path, u.Path+"/")
}

// match returns the unveil with the deepest path covering path.
func match(unveils []UnveilPath, path string) (UnveilPath, bool) {
	var best UnveilPath
	found := false
	for _, u := range unveils {
		if u.covers(path) && (!found || len(u.Path) > len(best.Path)) {
			best, found = u, true
		}
	}
	return best, found
}
