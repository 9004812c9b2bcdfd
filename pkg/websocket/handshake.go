package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Handshake errors.
var (
	ErrNotWebSocket     = errors.New("not a websocket handshake")
	ErrBadVersion       = errors.New("unsupported Sec-WebSocket-Version")
	ErrBadKey           = errors.New("invalid Sec-WebSocket-Key")
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrAcceptMismatch   = errors.New("accept key mismatch")
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeError is a failed upgrade with the HTTP status sent back.
type HandshakeError struct {
	Err    error
	Status int
}

func (e *HandshakeError) Error() string { return "websocket: " + e.Err.Error() }

func (e *HandshakeError) Unwrap() error { return e.Err }

// Upgrader turns HTTP requests into WebSocket connections.
type Upgrader struct {
	// Subprotocols are offered in order of preference.
	Subprotocols []string
	// CheckOrigin rejects a request when it returns false. Nil accepts
	// requests without an Origin header or from the request's own host.
	CheckOrigin func(r *http.Request) bool
}

// AcceptKey computes Sec-WebSocket-Accept for a Sec-WebSocket-Key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func headerContains(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Upgrade completes the handshake on w. On failure an HTTP error has been
// written and a *HandshakeError is returned.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	fail := func(status int, err error) (*Conn, error) {
		http.Error(w, http.StatusText(status), status)
		return nil, &HandshakeError{Err: err, Status: status}
	}

	if r.Method != http.MethodGet {
		return fail(http.StatusMethodNotAllowed, ErrNotWebSocket)
	}
	if !headerContains(r.Header, "Connection", "upgrade") || !headerContains(r.Header, "Upgrade", "websocket") {
		return fail(http.StatusBadRequest, ErrNotWebSocket)
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		w.Header().Set("Sec-WebSocket-Version", "13")
		return fail(http.StatusUpgradeRequired, ErrBadVersion)
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return fail(http.StatusBadRequest, ErrBadKey)
	}
	check := u.CheckOrigin
	if check == nil {
		check = sameOrigin
	}
	if !check(r) {
		return fail(http.StatusForbidden, ErrOriginNotAllowed)
	}

	var protocol string
	for _, offered := range u.Subprotocols {
		if headerContains(r.Header, "Sec-WebSocket-Protocol", offered) {
			protocol = offered
			break
		}
	}

	netConn, rw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		return fail(http.StatusInternalServerError, err)
	}

	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n")
	fmt.Fprintf(&sb, "Sec-WebSocket-Accept: %s\r\n", AcceptKey(key))
	if protocol != "" {
		fmt.Fprintf(&sb, "Sec-WebSocket-Protocol: %s\r\n", protocol)
	}
	sb.WriteString("\r\n")
	if _, err := netConn.Write([]byte(sb.String())); err != nil {
		netConn.Close()
		return nil, err
	}
	return newConn(netConn, rw.Reader, false), nil
}

// Dialer opens client connections.
type Dialer struct {
	// TLSConfig is used for wss:// URLs. Nil uses the host's roots.
	TLSConfig *tls.Config
}

// Dial opens a client connection with the zero Dialer.
func Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, *http.Response, error) {
	return (&Dialer{}).Dial(ctx, rawURL, header)
}

// Dial opens a client connection to a ws:// or wss:// URL. header is sent
// with the handshake request.
func (dl *Dialer) Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, *http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}
	var secure bool
	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, nil, fmt.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), map[bool]string{false: "80", true: "443"}[secure])
	}

	var netConn net.Conn
	if secure {
		cfg := &tls.Config{}
		if dl.TLSConfig != nil {
			cfg = dl.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		d := &tls.Dialer{Config: cfg}
		netConn, err = d.DialContext(ctx, "tcp", host)
	} else {
		var d net.Dialer
		netConn, err = d.DialContext(ctx, "tcp", host)
	}
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}

	conn, resp, err := clientHandshake(netConn, u, header)
	if err != nil {
		netConn.Close()
		return nil, resp, err
	}
	netConn.SetDeadline(time.Time{})
	return conn, resp, nil
}

func clientHandshake(netConn net.Conn, u *url.URL, header http.Header) (*Conn, *http.Response, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, err
	}
	key := base64.StdEncoding.EncodeToString(raw)

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: u.Path, RawQuery: u.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Host:       u.Host,
	}
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	for name, values := range header {
		req.Header[name] = slices.Clone(values)
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)
	if err := req.Write(netConn); err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, resp, &HandshakeError{Err: ErrNotWebSocket, Status: resp.StatusCode}
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != AcceptKey(key) {
		return nil, resp, &HandshakeError{Err: ErrAcceptMismatch, Status: resp.StatusCode}
	}
	return newConn(netConn, br, true), resp, nil
}
