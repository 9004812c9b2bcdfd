// Package remote runs "#!remote <network> <address>" programs in another
// process or on another host. The unit dials the address and speaks the
// JSON-lines protocol of package protocol over the connection: it sends
// startProcess, forwards the peer's syscall requests to the kernel and writes
// back their results and non-lethal signals.
//
// The peer ends the program with the exit syscall. A connection that closes
// before that crashes the process.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"webkernel/pkg/logger"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/protocol"

	"github.com/phuslu/log"
)

// Interpreter is the shebang name of remote programs.
const Interpreter = "remote"

// DefaultDialTimeout bounds connecting to the peer.
const DefaultDialTimeout = 5 * time.Second

// ErrBadDirective is returned for a shebang without network and address.
var ErrBadDirective = errors.New("remote: expected #!remote <network> <address>")

// DialFunc connects to a peer.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Factory creates remote units. It implements exec.Factory.
type Factory struct {
	Dial    DialFunc
	Timeout time.Duration
}

// NewFactory creates a factory dialing with net.Dialer.
func NewFactory() *Factory {
	var d net.Dialer
	return &Factory{Dial: d.DialContext, Timeout: DefaultDialTimeout}
}

// NewUnit parses the directive; the connection is made on Start.
func (f *Factory) NewUnit(directive, body string) (process.Unit, error) {
	fields := strings.Fields(directive)
	if len(fields) != 2 {
		return nil, ErrBadDirective
	}
	return &unit{
		factory: f,
		network: fields[0],
		address: fields[1],
		body:    body,
		log:     logger.With(logger.NewLoggerWithContext("remote"), "peer", fields[1]),
	}, nil
}

type unit struct {
	factory          *Factory
	network, address string
	body             string
	log              log.Logger

	mu         sync.Mutex
	conn       net.Conn
	enc        *protocol.Encoder
	terminated bool
}

func (u *unit) Start(msg protocol.StartProcess, host process.Host) error {
	timeout := u.factory.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := u.factory.Dial(ctx, u.network, u.address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", u.network, u.address, err)
	}

	u.mu.Lock()
	if u.terminated {
		u.mu.Unlock()
		conn.Close()
		return nil
	}
	u.conn = conn
	u.enc = protocol.NewEncoder(conn)
	u.mu.Unlock()

	msg.Code = u.body
	if err := u.enc.WriteMessage(protocol.Message{Kind: protocol.KindStartProcess, Start: &msg}); err != nil {
		conn.Close()
		return fmt.Errorf("send startProcess: %w", err)
	}

	u.log.Debug().Int("pid", msg.PID).Msg("remote program started")
	go u.serve(conn, host)
	return nil
}

// serve forwards the peer's syscalls until the connection ends.
func (u *unit) serve(conn net.Conn, host process.Host) {
	dec := protocol.NewDecoder(conn)
	for {
		m, err := dec.ReadMessage()
		if err != nil {
			u.closed(host, err)
			return
		}
		if m.Kind != protocol.KindSyscall {
			u.log.Warn().Str("kind", m.Kind.String()).Msg("unexpected message from peer")
			continue
		}
		host.Syscall(*m.Syscall)
	}
}

func (u *unit) closed(host process.Host, err error) {
	u.mu.Lock()
	terminated := u.terminated
	u.mu.Unlock()
	if terminated {
		return
	}
	if errors.Is(err, io.EOF) {
		err = errors.New("connection closed")
	}
	u.log.Debug().Err(err).Msg("remote program lost")
	host.Finished(protocol.Crash("remote: " + err.Error()))
}

func (u *unit) send(m protocol.Message) {
	u.mu.Lock()
	enc, terminated := u.enc, u.terminated
	u.mu.Unlock()
	if enc == nil || terminated {
		return
	}
	if err := enc.WriteMessage(m); err != nil {
		u.log.Debug().Err(err).Str("kind", m.Kind.String()).Msg("send to peer")
	}
}

func (u *unit) Deliver(res protocol.SyscallResult) {
	u.send(protocol.Message{Kind: protocol.KindSyscallResult, Result: &res})
}

func (u *unit) Signal(sig ipc.Signal) {
	u.send(protocol.Message{Kind: protocol.KindSignal, Signal: string(sig)})
}

func (u *unit) Terminate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.terminated {
		return
	}
	u.terminated = true
	if u.conn != nil {
		u.conn.Close()
	}
}
