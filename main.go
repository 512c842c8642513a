// sockwrap - a TCP/TLS connection client with native SSH tunneling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sockwrap/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sockwrap: %v\n", err)
		os.Exit(1)
	}
}
