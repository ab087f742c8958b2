// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// galaxy-server runs one rank of a Galaxy render cluster. Every rank
// reads the same configuration file and is told its rank with --rank.
// The ranks connect into a TCP mesh; rank 0 additionally serves the
// interactive control socket and the admin socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/galaxy-foundation/galaxy/lib/compress"
	"github.com/galaxy-foundation/galaxy/lib/config"
	"github.com/galaxy-foundation/galaxy/lib/eventlog"
	"github.com/galaxy-foundation/galaxy/lib/process"
	"github.com/galaxy-foundation/galaxy/lib/service"
	"github.com/galaxy-foundation/galaxy/lib/version"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/session"
	"github.com/galaxy-foundation/galaxy/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		rankIndex   int
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("galaxy-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $GALAXY_CONFIG)")
	flagSet.IntVarP(&rankIndex, "rank", "r", 0, "this process's rank in cluster.peers")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level from the configuration")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("galaxy-server")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if rankIndex < 0 || rankIndex >= cfg.Size() {
		return fmt.Errorf("--rank %d outside cluster of %d peers", rankIndex, cfg.Size())
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	events := eventlog.NewRing(eventlog.DefaultCapacity)
	logger, err := process.NewRecordingLogger(os.Stderr, logLevel, rankIndex, events)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, rankIndex, logger, events)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// serve connects this rank to the mesh and runs it until ctx ends or a
// component fails.
func serve(ctx context.Context, cfg *config.Config, rankIndex int, logger *slog.Logger, events *eventlog.Ring) error {
	compression, err := compress.ParseTag(cfg.Cluster.Compression)
	if err != nil {
		return err
	}

	node := rank.New(rank.Config{
		Rank:   rankIndex,
		Size:   cfg.Size(),
		Logger: logger,
		Render: render.Config{BatchSize: cfg.Render.BatchSize, Logger: logger},
	})

	listener, err := net.Listen("tcp", cfg.Cluster.Peers[rankIndex])
	if err != nil {
		return fmt.Errorf("listening for peers: %w", err)
	}
	logger.Info("waiting for peers", "address", listener.Addr().String(), "size", cfg.Size())
	endpoint, err := transport.ConnectTCP(ctx, listener, transport.TCPConfig{
		Rank:              rankIndex,
		Peers:             cfg.Cluster.Peers,
		Digest:            node.Digest(),
		Compression:       compression,
		CompressThreshold: cfg.Cluster.CompressThreshold,
		DialTimeout:       cfg.DialTimeout(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("connecting rank mesh: %w", err)
	}
	defer endpoint.Close()
	if err := node.Attach(endpoint); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			// Any component ending takes the rank down.
			cancel()
		}()
	}

	launch("node", node.Run)
	if rankIndex == 0 {
		if err := cfg.EnsurePaths(); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		control, err := net.Listen("tcp", cfg.Control.Listen)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("listening for control connections: %w", err)
		}
		backend := session.NewNodeBackend(node)
		backend.StateDir = cfg.Paths.State
		server := session.NewServer(control, session.Config{
			Backend:      backend,
			Tracker:      node.Tracker,
			PollInterval: cfg.PollInterval(),
			Logger:       logger,
			Events:       events,
		})
		logger.Info("control socket listening", "address", server.Addr().String())
		launch("control server", server.Serve)

		admin := service.NewSocketServer(cfg.Admin.SocketPath, logger)
		rank.NewAdmin(node, rank.AdminConfig{StateDir: cfg.Paths.State}).Register(admin)
		launch("admin socket", admin.Serve)
	}

	logger.Info("rank running", "version", version.Info())
	wg.Wait()
	if len(errs) == 0 && ctx.Err() != nil {
		logger.Info("shutting down")
	}
	return errors.Join(errs...)
}
