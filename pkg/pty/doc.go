/*
Package pty provides pseudoterminals: master/slave file pairs joined by two
pipes, with a line discipline on the input side and job control through
the foreground process group.

Text written to the master is terminal input. Depending on the mode it is
either passed straight to the slave or edited a line at a time first:

  - LINE: local line editing with echo to the master; a line reaches the
    slave when Enter is pressed, Ctrl+D flushes the line without a newline
    (end of file when the line is empty), Ctrl+C discards the line and
    interrupts the foreground group
  - CHARACTER: raw pass-through
  - CHARACTER_AND_SIGINT: pass-through with Ctrl+C turned into an interrupt

Text written to the slave is terminal output and reaches the master
unchanged.

Only the foreground process group can read the slave; other readers wait
until the group changes. The first session to open the slave becomes the
controlling session. When the master closes, the foreground group is hung
up, slave readers see end of file and the Host is told to unregister the
terminal.

# Usage

	t := pty.New(0, shellPgid, pty.Size{}, host)
	master, _ := vfs.Open(table, t.Master(), shell, vfs.ModeReadWrite)
	slave, _ := vfs.Open(table, t.Slave(), shell, vfs.ModeReadWrite)

	master.Write(ctx, shell, "ls\r")
	line, _ := slave.Read(ctx, shell, false) // "ls\n"
*/
package pty
