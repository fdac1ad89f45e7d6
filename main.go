package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OliverSchlueter/pgpmail/internal/config"
)

var version = "dev"

func main() {
	loadConfig := func() (config.Configuration, error) {
		return config.Load(".env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(loadConfig).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "pgpmail: %v\n", err)
		os.Exit(1)
	}
}
