package vfs

import (
	"strings"

	"webkernel/pkg/kerr"
)

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 4096

// Clean normalizes an absolute path, dropping empty and "." elements and
// applying ".." lexically without climbing past the root.
func Clean(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}

	var out []string
	for _, elem := range strings.Split(p, "/") {
		switch elem {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, elem)
		}
	}

	return "/" + strings.Join(out, "/")
}

// Abs resolves p against the working directory cwd.
func Abs(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return Clean(p)
	}
	if cwd == "" {
		cwd = "/"
	}
	return Clean(cwd + "/" + p)
}

// Split splits a cleaned absolute path into its parent and last element.
// The root splits into ("/", "").
func Split(p string) (dir, base string) {
	p = Clean(p)
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// ValidatePath rejects paths no lookup could succeed on.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return kerr.Wrap(kerr.ErrNoSuchFile, "empty path")
	case len(p) > MaxPathLength:
		return kerr.Wrap(kerr.ErrInvalidArgument, "path too long")
	case strings.ContainsRune(p, 0):
		return kerr.Wrap(kerr.ErrInvalidArgument, "path contains NUL")
	}
	return nil
}

// Resolve walks path p, relative to cwd, from root. Intermediate elements
// must be directories. The walk uses each directory's own ".." entry.
func Resolve(root *Directory, cwd, p string) (File, error) {
	if err := ValidatePath(p); err != nil {
		return nil, err
	}

	var cur File = root
	for _, elem := range strings.Split(Abs(cwd, p), "/") {
		if elem == "" {
			continue
		}
		dir, ok := cur.(*Directory)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrNotDirectory, p)
		}
		next, ok := dir.Lookup(elem)
		if !ok {
			return nil, kerr.Wrap(kerr.ErrNoSuchFile, p)
		}
		cur = next
	}
	return cur, nil
}

// ResolveDir resolves p and requires it to be a directory.
func ResolveDir(root *Directory, cwd, p string) (*Directory, error) {
	f, err := Resolve(root, cwd, p)
	if err != nil {
		return nil, err
	}
	dir, ok := f.(*Directory)
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotDirectory, p)
	}
	return dir, nil
}

// ResolveParent resolves the directory that would contain p and returns it
// with p's last element.
func ResolveParent(root *Directory, cwd, p string) (*Directory, string, error) {
	if err := ValidatePath(p); err != nil {
		return nil, "", err
	}
	parent, name := Split(Abs(cwd, p))
	if name == "" {
		return nil, "", kerr.Wrap(kerr.ErrIsDirectory, p)
	}
	dir, err := ResolveDir(root, "/", parent)
	if err != nil {
		return nil, "", err
	}
	return dir, name, nil
}

// MakeDirAll creates directory p and any missing parents under root.
func MakeDirAll(root *Directory, p string) (*Directory, error) {
	if err := ValidatePath(p); err != nil {
		return nil, err
	}
	dir := root
	for _, elem := range strings.Split(Clean(p), "/") {
		if elem == "" {
			continue
		}
		next, err := dir.MakeDir(elem)
		if err != nil {
			return nil, err
		}
		dir = next
	}
	return dir, nil
}
