// Command dohping resolves a hostname's address through several
// DNS-over-HTTPS providers concurrently, probes each provider's answer
// for reachability, and prints a comparative latency/loss table.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/picatz/dohping/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.CommandRoot.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
