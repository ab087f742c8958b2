// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// galaxy-ctl is the operator client of a Galaxy server. The view
// command drives the interactive control socket and reports the pixel
// stream; the remaining commands query rank 0's admin socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/galaxy-foundation/galaxy/lib/process"
	"github.com/galaxy-foundation/galaxy/lib/version"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"view":      {"render a state document and report the pixel stream", runView},
	"status":    {"show rank 0's identity and counters", adminQuery("status")},
	"frames":    {"list frames with their state and pixel counts", adminQuery("frames")},
	"objects":   {"list the keyed objects held by rank 0", adminQuery("objects")},
	"particles": {"list the samples of the last sampling request", adminQuery("particles")},
	"ping":      {"measure round trips from rank 0 to the other ranks", runPing},
	"sample":    {"run a raycast sampling request", runSample},
}

var commandOrder = []string{"view", "status", "frames", "objects", "ping", "sample", "particles"}

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	if args[0] == "--version" {
		version.Print("galaxy-ctl")
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := cmd.run(ctx, args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: galaxy-ctl <command> [flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun \"galaxy-ctl <command> --help\" for a command's flags.\n")
}
