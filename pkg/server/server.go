package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/phuslu/log"
)

// Config holds server configuration.
type Config struct {
	Addr    string
	Handler http.Handler

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// TLS serves HTTPS when non-nil.
	TLS *TLSConfig

	Logger log.Logger
}

// Server is an HTTP server started with Start and stopped with Shutdown.
type Server struct {
	server   *http.Server
	log      log.Logger
	tls      bool
	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New creates a server. Write timeouts are left unset because websocket
// connections outlive any single response.
func New(cfg Config) (*Server, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	s := &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log:  cfg.Logger,
		done: make(chan struct{}),
	}
	if cfg.TLS != nil {
		certs, err := cfg.TLS.LoadCertificates()
		if err != nil {
			return nil, err
		}
		s.server.TLSConfig = ServerTLSConfig(certs)
		s.tls = true
	}
	return s, nil
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	if s.tls {
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}
	s.listener = ln

	go func() {
		defer close(s.done)
		s.log.Info().Str("address", ln.Addr().String()).Bool("tls", s.tls).Msg("serving http")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops accepting connections and waits for active requests.
// Hijacked connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}
	err := s.server.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

// HealthHandler reports that the host is up, with extra fields from
// status when it is non-nil.
func HealthHandler(status func() map[string]any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if status != nil {
			body = status()
		}
		body["status"] = "healthy"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}
