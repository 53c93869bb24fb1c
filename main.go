package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ewmsearch/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx, version)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ewmsearch:", err)
		os.Exit(1)
	}
}
