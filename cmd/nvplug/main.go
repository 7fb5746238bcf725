// Package main provides the nvplug CLI entrypoint.
//
// nvplug serve is the process Neovim starts (or connects to) to host the
// builtin plugin. All other commands are read-only.
//
// Usage:
//
//	nvplug <command> [subcommand] [options]
//
// Exit codes:
//   - 0: the editor closed the channel
//   - 1: bad configuration or an internal fatal error
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/cli/cmd"
	"github.com/pithecene-io/nvplug/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

// Swapped in tests.
var (
	osExit           = os.Exit
	stderr io.Writer = os.Stderr
)

func newApp() *cli.App {
	return &cli.App{
		Name:           "nvplug",
		Usage:          "Neovim remote plugin host",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		// stdout carries RPC frames in stdio mode.
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.TriggersCommand(),
			cmd.DebugCommand(),
			cmd.SessionsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		osExit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		osExit(code)
		return
	}

	// Unexpected error - print and exit with code 1
	fmt.Fprintf(stderr, "Error: %v\n", err)
	osExit(1)
}
