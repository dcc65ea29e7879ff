package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/article-capture/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.ExecuteContext(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
