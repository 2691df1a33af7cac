// Command simple-kubernetes-app answers every HTTP request on port 3000
// with "Hello World!".
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kianooshaz/simple-kubernetes-app/hello"
	"github.com/kianooshaz/simple-kubernetes-app/http1.1/server"
	"github.com/kianooshaz/simple-kubernetes-app/serve"
)

const (
	addr = ":3000"

	// A request head must arrive within a minute; a kept-alive
	// connection may sit idle for five seconds.
	readHeaderTimeout = 60 * time.Second
	idleTimeout       = 5 * time.Second
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve.Run(ctx, addr, newServer()); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newServer() *server.Server {
	return &server.Server{
		Handler:           hello.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}
