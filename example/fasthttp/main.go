// Command fasthttp serves the greeting on port 3000 using fasthttp.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kianooshaz/simple-kubernetes-app/hello"
	"github.com/kianooshaz/simple-kubernetes-app/serve"
)

const addr = ":3000"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &fasthttp.Server{
		Handler:               hello.FastHandler,
		ReadTimeout:           60 * time.Second,
		IdleTimeout:           5 * time.Second,
		CloseOnShutdown:       true,
		NoDefaultServerHeader: true,
	}
	if err := serve.Run(ctx, addr, serve.FastHTTP(s)); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}
