//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sandboxrun/sandboxrun/cli"
	"github.com/sandboxrun/sandboxrun/version"
	urfavecli "github.com/urfave/cli/v3"
)

// Entry point: wires the "run" subcommand and propagates its exit code.
// The run subcommand always returns a cli.Exit (an ExitCoder) carrying the
// status spec.md §6 mandates, so main's only job is to surface it.
func main() {
	app := &urfavecli.Command{
		Name:     "sandboxrun",
		Usage:    "Single-use isolated sandbox executor for interpreter-driven jobs.",
		Version:  version.Version(),
		Commands: []*urfavecli.Command{cli.Command()},
	}

	err := app.Run(context.Background(), os.Args)
	if err == nil {
		os.Exit(0)
	}

	var exitErr urfavecli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
