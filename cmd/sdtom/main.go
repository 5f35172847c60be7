// Command sdtom runs sdtom jobs from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/sdtom/internal/cli"
)

func main() {
	v.AppName = "sdtom"
	v.Component = "cli"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
