package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
