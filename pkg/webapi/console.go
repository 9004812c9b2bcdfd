package webapi

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"webkernel/pkg/vfs"
	"webkernel/pkg/websocket"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrTooManyClients is returned when the console is full.
var ErrTooManyClients = errors.New("too many console clients")

// ConsoleConfig bounds the web console.
type ConsoleConfig struct {
	// MaxClients limits concurrent websocket clients.
	MaxClients int

	// Scrollback is the number of output bytes replayed to new clients.
	Scrollback int

	// ClientBuffer is the number of pending writes a slow client may fall
	// behind before it is dropped.
	ClientBuffer int
}

// DefaultConsoleConfig returns the default bounds.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{MaxClients: 16, Scrollback: 64 * 1024, ClientBuffer: 256}
}

// Console fans /dev/con output out to the host and the web clients and
// merges their input.
type Console struct {
	cfg   ConsoleConfig
	log   log.Logger
	local io.Writer

	mu         sync.Mutex
	scrollback []byte

	clients *xsync.Map[uuid.UUID, *client]
	count   atomic.Int64

	inW   *io.PipeWriter
	input *vfs.ReaderInput
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewConsole creates a console writing to local, which may be nil, and
// reading host input from localIn, which may be nil too.
func NewConsole(cfg ConsoleConfig, logger log.Logger, local io.Writer, localIn io.Reader) *Console {
	def := DefaultConsoleConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.Scrollback < 0 {
		cfg.Scrollback = 0
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}

	inR, inW := io.Pipe()
	c := &Console{
		cfg:     cfg,
		log:     logger,
		local:   local,
		clients: xsync.NewMap[uuid.UUID, *client](),
		inW:     inW,
		input:   vfs.NewReaderInput(inR),
	}
	if localIn != nil {
		go func() {
			if _, err := io.Copy(inW, localIn); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debug().Err(err).Msg("host console input stopped")
			}
		}()
	}
	return c
}

// Input is the merged input stream for the kernel's console device.
func (c *Console) Input() vfs.ConsoleInput {
	return c.input
}

// Write sends output to the host and every client. A client that cannot
// keep up is disconnected rather than stalling the writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Scrollback > 0 {
		c.scrollback = append(c.scrollback, p...)
		if over := len(c.scrollback) - c.cfg.Scrollback; over > 0 {
			c.scrollback = append(c.scrollback[:0], c.scrollback[over:]...)
		}
	}

	msg := append([]byte(nil), p...)
	c.clients.Range(func(_ uuid.UUID, cl *client) bool {
		select {
		case cl.out <- msg:
		default:
			c.log.Warn().Str("client", cl.id.String()).Msg("console client too slow, dropping")
			cl.stop()
		}
		return true
	})

	if c.local != nil {
		return c.local.Write(p)
	}
	return len(p), nil
}

// Feed injects input as if typed.
func (c *Console) Feed(text string) error {
	_, err := io.WriteString(c.inW, text)
	return err
}

// Clients returns the number of attached clients.
func (c *Console) Clients() int {
	return int(c.count.Load())
}

// Close ends console input and disconnects every client.
func (c *Console) Close() error {
	c.clients.Range(func(_ uuid.UUID, cl *client) bool {
		cl.stop()
		return true
	})
	return c.inW.Close()
}

// Attach serves conn until it or the console goes away. Output is written
// by a separate goroutine; data messages are fed as input.
func (c *Console) Attach(conn *websocket.Conn) error {
	if c.count.Add(1) > int64(c.cfg.MaxClients) {
		c.count.Add(-1)
		conn.Close(websocket.CloseGoingAway, ErrTooManyClients.Error())
		return ErrTooManyClients
	}
	defer c.count.Add(-1)

	cl := &client{
		id:   uuid.New(),
		conn: conn,
		out:  make(chan []byte, c.cfg.ClientBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if len(c.scrollback) > 0 {
		cl.out <- append([]byte(nil), c.scrollback...)
	}
	c.clients.Store(cl.id, cl)
	c.mu.Unlock()

	logger := c.log
	logger.Info().Str("client", cl.id.String()).Str("remote", conn.RemoteAddr().String()).Msg("console client attached")
	defer func() {
		c.clients.Delete(cl.id)
		cl.stop()
		logger.Info().Str("client", cl.id.String()).Msg("console client detached")
	}()

	go c.writeLoop(cl)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil
			}
			return err
		}
		if err := c.Feed(string(msg)); err != nil {
			conn.Close(websocket.CloseGoingAway, "console closed")
			return nil
		}
	}
}

func (c *Console) writeLoop(cl *client) {
	for {
		select {
		case msg := <-cl.out:
			if err := cl.conn.WriteMessage(websocket.OpcodeBinary, msg); err != nil {
				cl.stop()
				cl.conn.Close(websocket.CloseGoingAway, "")
				return
			}
		case <-cl.done:
			cl.conn.Close(websocket.CloseGoingAway, "")
			return
		}
	}
}
