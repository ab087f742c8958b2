// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// DefaultPort is the control socket's default TCP port.
const DefaultPort = 5001

// Server accepts control connections and runs one session at a time.
// Further clients wait in the listen backlog until the current session
// ends.
type Server struct {
	listener net.Listener
	config   Config
	logger   *slog.Logger
}

// NewServer returns a server accepting on listener. Every session gets
// config.
func NewServer(listener net.Listener, config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{listener: listener, config: config, logger: config.Logger}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts sessions until ctx is done, then closes the listener
// and returns nil. A session that fails is logged and does not stop
// the server.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		logger := s.logger.With("client", conn.RemoteAddr().String())
		logger.Info("session started")
		config := s.config
		config.Logger = logger
		if err := New(conn, config).Run(ctx); err != nil {
			logger.Error("session failed", "error", err)
			continue
		}
		logger.Info("session ended")
	}
}
