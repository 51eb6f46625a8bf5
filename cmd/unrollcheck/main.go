package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unrollcheck/internal/cli"
)

// main canonicalizes all CLI inputs into a CLIInvocation before any check
// runs. SIGINT and SIGTERM cancel the run; Execute still removes every
// temporary artifact before returning.
func main() {
	inv, err := cli.ParseInvocation(os.Args[1:])
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			if invErr.Help {
				fmt.Fprint(os.Stdout, invErr.Message)
			} else {
				fmt.Fprintln(os.Stderr, invErr.Message)
			}
			os.Exit(cli.ExitCode(err))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, execErr := cli.Execute(ctx, inv)
	stop()
	if execErr != nil {
		fmt.Fprintln(os.Stderr, execErr)
	}
	os.Exit(result.ExitCode)
}
