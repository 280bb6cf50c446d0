// Command gateway runs the openrelay OpenAI-compatible HTTP gateway as a
// long-running server: load configuration, open the store, load every
// enabled provider, and serve the chat-completions, admin, and websocket
// surfaces until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/bootstrap"
)

func main() {
	app, err := bootstrap.NewApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway: failed to start:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		app.Logger().Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			app.Logger().Error("server exited", zap.Error(err))
		}
	}

	app.Shutdown()
}
