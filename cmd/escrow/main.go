// Command escrow runs the job escrow program against a local ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/escrow/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
