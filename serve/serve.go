// Package serve runs a server on a fixed address until its context ends.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kianooshaz/simple-kubernetes-app/http1.1/server"
)

// ShutdownTimeout bounds how long in-flight requests may take to finish
// once the context ends.
const ShutdownTimeout = 5 * time.Second

// Server is any server that can take over a bound listener.
type Server interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// Run binds addr and serves s on it until ctx is done. A failure to bind is
// returned immediately; it is the only startup error.
func Run(ctx context.Context, addr string, s Server) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(ctx, l, s)
}

// Serve announces l and serves s on it until ctx is done, then shuts s
// down within ShutdownTimeout. Running out of that time is logged, not
// returned.
func Serve(ctx context.Context, l net.Listener, s Server) error {
	slog.Info(fmt.Sprintf("Server running at %s", URL(l.Addr())))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(l)
	}()

	select {
	case err := <-errCh:
		if err == nil || closed(err) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		// Connections still open at the deadline are abandoned; the
		// stop itself was requested and is not a failure.
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("shutdown deadline passed with connections still open", "timeout", ShutdownTimeout)
			return nil
		}
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !closed(err) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// URL is the address a local client would use to reach addr.
func URL(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprintf("http://localhost:%d/", tcp.Port)
	}
	return "http://" + addr.String() + "/"
}

type fastServer struct {
	*fasthttp.Server
}

// FastHTTP adapts a fasthttp.Server to the context based Shutdown of
// Server.
func FastHTTP(s *fasthttp.Server) Server {
	return fastServer{s}
}

func (s fastServer) Shutdown(ctx context.Context) error {
	return s.ShutdownWithContext(ctx)
}

func closed(err error) bool {
	return errors.Is(err, server.ErrServerClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, net.ErrClosed)
}
