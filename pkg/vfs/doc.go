// Package vfs provides the kernel's virtual file system: the File capability
// set implemented by every backing object, the reference-counted open file
// descriptions that processes share, and the in-memory directory tree.
//
// # Files
//
// A File is anything a process can open: a Directory, a TextFile, the null
// device, the console, a pipe endpoint or a pseudoterminal endpoint. Files
// that need a fresh backing object per open (such as /dev/pipe or /dev/ptmx)
// implement Device; opening them substitutes the File returned by OpenDevice.
//
// # Open file descriptions
//
// Opening a File creates an OpenFileDescription holding the open mode, a
// byte offset and a reference count. FileDescriptor handles in process fd
// tables point at descriptions; Duplicate shares the description (and its
// offset) and Close drops exactly one reference. When the last reference is
// dropped the backing File's Close runs.
//
// # Usage
//
//	root := vfs.NewDirectory(nil)
//	bin, _ := root.MakeDir("bin")
//	bin.Link("hello", vfs.NewTextFile("#!lua\nprint('hi')"))
//
//	f, err := vfs.Resolve(root, "/", "bin/hello")
//	fd, err := vfs.Open(table, f, caller, vfs.ModeRead)
//	text, err := fd.Read(ctx, caller, false)
package vfs
