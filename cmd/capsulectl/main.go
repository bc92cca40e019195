package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"capsule-go/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	code := cli.ReportError(os.Stderr, err)
	stop()
	os.Exit(code)
}
