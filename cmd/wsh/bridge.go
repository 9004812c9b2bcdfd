package main

import (
	"bytes"
	"context"
	"errors"
	"io"

	"webkernel/pkg/websocket"
)

// ctrlBackslash ends a raw session, since Ctrl-C and Ctrl-D belong to the
// kernel then.
const ctrlBackslash = 0x1c

// bridge copies the local terminal to the console and back.
type bridge struct {
	conn *websocket.Conn
	in   io.Reader
	out  io.Writer
	raw  bool
}

// run returns when the server closes the console, local input ends or ctx
// is done. A normal close is not an error.
func (b *bridge) run(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() { errc <- b.send() }()
	go func() { errc <- b.receive() }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
	}
	b.conn.Close(websocket.CloseNormal, "")

	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrClosed) {
		return nil
	}
	return err
}

func (b *bridge) send() error {
	buf := make([]byte, 4096)
	for {
		n, err := b.in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			quit := false
			if b.raw {
				if i := bytes.IndexByte(chunk, ctrlBackslash); i >= 0 {
					chunk, quit = chunk[:i], true
				}
				chunk = bytes.ReplaceAll(chunk, []byte("\r"), []byte("\n"))
			}
			if len(chunk) > 0 {
				if werr := b.conn.WriteMessage(websocket.OpcodeBinary, chunk); werr != nil {
					return werr
				}
			}
			if quit {
				return io.EOF
			}
		}
		if err != nil {
			return err
		}
	}
}

func (b *bridge) receive() error {
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			return err
		}
		if b.raw {
			msg = bytes.ReplaceAll(msg, []byte("\n"), []byte("\r\n"))
		}
		if _, err := b.out.Write(msg); err != nil {
			return err
		}
	}
}
