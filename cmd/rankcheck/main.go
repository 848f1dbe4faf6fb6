// Command rankcheck runs one-off SERP lookups and parses saved result pages
// without the API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rankwatch/rankwatch/cmd/rankcheck/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(commands.ExecuteContext(ctx))
}
