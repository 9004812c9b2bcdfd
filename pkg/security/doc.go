/*
Package security restricts what a process may do, after OpenBSD's pledge
and unveil.

A Sandbox holds a process's promises and unveiled paths. Promises name
classes of syscalls (stdio, rpath, wpath, cpath, proc, exec, tty, video);
a pledge can only drop them. Unveiled paths make subtrees visible with
permissions from "rwxc"; once any path is unveiled everything else is
hidden, and the deepest unveil covering a path decides.

	sb, err := sb.Pledge(security.PromiseStdio | security.PromiseRpath)
	sb, err = sb.Unveil("/home", "rw")
	err = sb.CheckPath("/bin/ls", "x") // no such file

Policies attach a sandbox to programs so that every process spawned from
them starts restricted, whatever its parent holds.
*/
package security
