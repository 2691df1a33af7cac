// Command echo serves the greeting on port 3000 using echo.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kianooshaz/simple-kubernetes-app/hello"
	"github.com/kianooshaz/simple-kubernetes-app/serve"
)

const addr = ":3000"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &http.Server{
		Handler:           hello.NewEcho(),
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       5 * time.Second,
	}
	if err := serve.Run(ctx, addr, s); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}
