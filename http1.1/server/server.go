// Package server is an HTTP/1.1 server built directly on net.Listener.
//
// It owns the listening socket and runs one goroutine per connection.
// Connections are persistent by default and requests on a connection are
// served one after the other.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server: Server closed")

const (
	// Limit request heads to 1MB
	maxHeaderBytes = 1 << 20

	shutdownPollInterval = 10 * time.Millisecond
	maxAcceptDelay       = time.Second
)

type Server struct {
	Addr    string
	Handler http.Handler

	// ReadHeaderTimeout bounds reading a request head once its first
	// byte has arrived. Zero means no timeout.
	ReadHeaderTimeout time.Duration

	// IdleTimeout bounds the wait for the next request on a persistent
	// connection. Zero means no timeout.
	IdleTimeout time.Duration

	// Logger receives connection errors. Nil means slog.Default().
	Logger *slog.Logger

	inShutdown atomic.Bool

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*conn]struct{}
}

// Listen binds Addr over TCP. An empty Addr means ":http".
func (s *Server) Listen() (net.Listener, error) {
	addr := s.Addr
	if addr == "" {
		addr = ":http"
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return l, nil
}

func (s *Server) ListenAndServe() error {
	if s.shuttingDown() {
		return ErrServerClosed
	}

	l, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until l fails or Shutdown is called.
// It always closes l and returns a non-nil error.
func (s *Server) Serve(l net.Listener) error {
	if s.Handler == nil {
		s.Handler = http.DefaultServeMux
	}

	if !s.trackListener(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	defer l.Close()

	var delay time.Duration
	for {
		rwc, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			// Most likely out of file descriptors; back off like net/http.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger().Error("accept error", "err", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		// Registered before the goroutine starts so Shutdown never misses it.
		c := newConn(rwc)
		if !s.trackConn(c, true) {
			rwc.Close()
			continue
		}

		go func() {
			remote := rwc.RemoteAddr().String()
			if err := s.handleConnection(c); err != nil {
				s.logger().Debug("http error", "remote", remote, "err", err)
			}
		}()
	}
}

// Shutdown stops accepting connections, closes idle ones and waits for
// in-flight requests to complete. If ctx ends first its error is returned
// and the remaining connections are left running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	var err error
	for l := range s.listeners {
		if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = cerr
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.closeIdleConns() {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// closeIdleConns interrupts connections waiting for a request and reports
// whether no connections remain.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.conns {
		if c.idle.Load() {
			c.rwc.SetReadDeadline(time.Unix(1, 0))
		}
	}
	return len(s.conns) == 0
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.listeners, l)
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	s.listeners[l] = struct{}{}
	return true
}

// trackConn registers or forgets c. Registering fails once Shutdown has
// started.
func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.conns, c)
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
