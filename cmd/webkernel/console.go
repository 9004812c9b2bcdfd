package main

import (
	"bytes"
	"io"
	"os"

	"webkernel/pkg/config"

	"golang.org/x/term"
)

// hostConsole is the host terminal attached to /dev/con.
type hostConsole struct {
	out     io.Writer
	in      io.Reader
	restore func()
}

// attachConsole connects stdin and stdout. When stdin is a terminal its
// size becomes the initial pseudoterminal size, and in raw mode line
// editing is left to the kernel.
func attachConsole(cfg config.ConsoleConfig, kcfg *config.KernelConfig) (*hostConsole, error) {
	con := &hostConsole{
		out:     os.Stdout,
		in:      os.Stdin,
		restore: func() {},
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return con, nil
	}
	if cols, rows, err := term.GetSize(fd); err == nil {
		kcfg.TerminalCols, kcfg.TerminalRows = cols, rows
	}
	if !cfg.Raw {
		return con, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	con.out = crlfWriter{os.Stdout}
	con.restore = func() { term.Restore(fd, state) }
	return con, nil
}

// crlfWriter turns "\n" into "\r\n" for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
