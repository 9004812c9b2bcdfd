package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// Close codes from RFC 6455 section 7.4.1.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseInvalidData   = 1007
	CloseTooBig        = 1009
	CloseNoStatus      = 1005
)

// DefaultMaxMessageSize bounds a message after its fragments are joined.
const DefaultMaxMessageSize = 1 << 20

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("websocket: connection closed")

// CloseError is returned by ReadMessage when the peer closed the
// connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: closed with code %d", e.Code)
	}
	return fmt.Sprintf("websocket: closed with code %d: %s", e.Code, e.Reason)
}

// Conn is an established WebSocket connection. One goroutine may read
// while others write.
type Conn struct {
	conn   net.Conn
	br     *bufio.Reader
	client bool

	// MaxMessageSize bounds incoming messages.
	MaxMessageSize int

	wmu    sync.Mutex
	closed bool
}

func newConn(c net.Conn, br *bufio.Reader, client bool) *Conn {
	if br == nil {
		br = bufio.NewReader(c)
	}
	return &Conn{conn: c, br: br, client: client, MaxMessageSize: DefaultMaxMessageSize}
}

// ReadMessage returns the next text or binary message. Pings are answered
// and fragments joined on the way. When the peer closes, the close is
// echoed and a *CloseError returned.
func (c *Conn) ReadMessage() (Opcode, []byte, error) {
	var (
		op      Opcode
		message []byte
		started bool
	)
	for {
		f, err := readFrame(c.br, c.MaxMessageSize)
		if err != nil {
			c.fail(err)
			return 0, nil, err
		}
		// Clients mask every frame and servers none.
		if f.Masked == c.client {
			c.fail(ErrUnexpectedMask)
			return 0, nil, ErrUnexpectedMask
		}

		switch f.Opcode {
		case OpcodePing:
			if err := c.write(OpcodePong, f.Payload); err != nil {
				return 0, nil, err
			}
			continue
		case OpcodePong:
			continue
		case OpcodeClose:
			ce := parseClose(f.Payload)
			c.Close(ce.Code, "")
			return 0, nil, ce
		case OpcodeContinuation:
			if !started {
				c.fail(ErrBadContinuation)
				return 0, nil, ErrBadContinuation
			}
			message = append(message, f.Payload...)
		default:
			if started {
				c.fail(ErrBadContinuation)
				return 0, nil, ErrBadContinuation
			}
			op, message, started = f.Opcode, f.Payload, true
		}

		if len(message) > c.MaxMessageSize {
			c.Close(CloseTooBig, "")
			return 0, nil, ErrFrameTooLarge
		}
		if f.Fin {
			if op == OpcodeText && !utf8.Valid(message) {
				c.Close(CloseInvalidData, "")
				return 0, nil, errors.New("websocket: invalid UTF-8 in text message")
			}
			return op, message, nil
		}
	}
}

// fail closes the connection after a protocol violation.
func (c *Conn) fail(err error) {
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.conn.Close()
		return
	}
	c.Close(CloseProtocolError, "")
}

func parseClose(payload []byte) *CloseError {
	if len(payload) < 2 {
		return &CloseError{Code: CloseNoStatus}
	}
	return &CloseError{
		Code:   int(binary.BigEndian.Uint16(payload)),
		Reason: string(payload[2:]),
	}
}

// WriteMessage sends payload as one unfragmented message.
func (c *Conn) WriteMessage(op Opcode, payload []byte) error {
	if !op.IsData() || op == OpcodeContinuation {
		return fmt.Errorf("%w: %s is not a message type", ErrInvalidOpcode, op)
	}
	return c.write(op, payload)
}

// WriteText sends a text message.
func (c *Conn) WriteText(text string) error {
	return c.write(OpcodeText, []byte(text))
}

// Ping sends a ping. The pong is consumed by ReadMessage.
func (c *Conn) Ping(payload []byte) error {
	return c.write(OpcodePing, payload)
}

func (c *Conn) write(op Opcode, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return writeFrame(c.conn, &Frame{Fin: true, Opcode: op, Masked: c.client, Payload: payload})
}

// Close sends a close frame with code and reason, once, and closes the
// network connection.
func (c *Conn) Close(code int, reason string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	payload := binary.BigEndian.AppendUint16(nil, uint16(code))
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
	}
	payload = append(payload, reason...)

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	err := writeFrame(c.conn, &Frame{Fin: true, Opcode: OpcodeClose, Masked: c.client, Payload: payload})
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// SetReadDeadline sets the deadline of the next ReadMessage.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
