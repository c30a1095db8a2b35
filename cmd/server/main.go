package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/StrawberryAcai/Nomadly.backend/internal/cli"
)

func main() {
	// genkit registers its own interrupt handler, so every command needs a
	// context that ends on SIGINT
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
