// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/galaxy-foundation/galaxy/lib/config"
	"github.com/galaxy-foundation/galaxy/lib/service"
)

// adminFlags locates the admin socket: --socket wins, then the
// configuration file.
type adminFlags struct {
	socketPath string
	configPath string
}

func (f *adminFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.socketPath, "socket", "", "admin socket path (default: admin.socket_path from the configuration)")
	flagSet.StringVar(&f.configPath, "config", "", "configuration file (default: $GALAXY_CONFIG)")
}

func (f *adminFlags) client() (*service.Client, error) {
	if f.socketPath != "" {
		return service.NewClient(f.socketPath), nil
	}
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("locating the admin socket: %w", err)
	}
	return service.NewClient(cfg.Admin.SocketPath), nil
}

// printJSON writes a CBOR-decoded reply as indented JSON.
func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// adminQuery returns a command that sends action without fields and
// prints the reply.
func adminQuery(action string) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		var flags adminFlags
		flagSet := pflag.NewFlagSet(action, pflag.ContinueOnError)
		flags.add(flagSet)
		if err := flagSet.Parse(args); err != nil {
			return err
		}
		client, err := flags.client()
		if err != nil {
			return err
		}
		var reply any
		if err := client.Call(ctx, action, nil, &reply); err != nil {
			return err
		}
		return printJSON(reply)
	}
}

func runPing(ctx context.Context, args []string) error {
	var flags adminFlags
	target := -1
	flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.IntVar(&target, "rank", -1, "rank to ping (default: every other rank)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	client, err := flags.client()
	if err != nil {
		return err
	}
	var fields map[string]any
	if target >= 0 {
		fields = map[string]any{"rank": target}
	}
	var reply any
	if err := client.Call(ctx, "ping", fields, &reply); err != nil {
		return err
	}
	return printJSON(reply)
}

func runSample(ctx context.Context, args []string) error {
	var flags adminFlags
	flagSet := pflag.NewFlagSet("sample", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: galaxy-ctl sample [flags] <state-document> <request>\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		flagSet.Usage()
		return fmt.Errorf("sample takes a state document and a request file")
	}
	client, err := flags.client()
	if err != nil {
		return err
	}
	// Paths the operator names are made absolute; the server resolves
	// relative ones against its state directory, not our cwd.
	fields := map[string]any{}
	for name, path := range map[string]string{"document": flagSet.Arg(0), "request": flagSet.Arg(1)} {
		if _, err := os.Stat(path); err == nil {
			if absolute, err := filepath.Abs(path); err == nil {
				path = absolute
			}
		}
		fields[name] = path
	}
	var reply any
	if err := client.Call(ctx, "sample", fields, &reply); err != nil {
		return err
	}
	return printJSON(reply)
}
