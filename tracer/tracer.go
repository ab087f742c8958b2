// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracer turns traced particle trajectories into path line
// geometry. [Service.TraceToPathLines] broadcasts a collective message;
// every rank rebuilds its replica of the path lines from its own
// partition of the trajectories, and the call returns once every rank
// has.
package tracer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// Service runs path line conversion on one rank.
type Service struct {
	objects   *scene.Objects
	channel   *work.Channel
	logger    *slog.Logger
	traceType *work.Type
}

// Register adds the path line message. Every rank must call it at the
// same point of its registration sequence.
func Register(channel *work.Channel, objects *scene.Objects) *Service {
	service := &Service{
		objects: objects,
		channel: channel,
		logger:  channel.Logger(),
	}
	service.traceType = channel.Register("tracer.pathlines", service.handleTrace)
	return service
}

// TraceToPathLines rebuilds pathLines from trajectories on every rank.
// Both objects must be committed.
func (s *Service) TraceToPathLines(ctx context.Context, trajectories *scene.Trajectories, pathLines *scene.PathLines) error {
	msg := work.NewMessage(s.traceType, 16)
	msg.Writer().PutInt64(int64(trajectories.Key()))
	msg.Writer().PutInt64(int64(pathLines.Key()))
	if err := s.channel.Broadcast(ctx, msg, work.BroadcastOptions{Collective: true, Barrier: true}); err != nil {
		return fmt.Errorf("trace to path lines %d: %w", pathLines.Key(), err)
	}
	return nil
}

func (s *Service) handleTrace(ctx context.Context, msg *work.Message) (bool, error) {
	reader := msg.Reader()
	trajectoriesKey := keyed.Key(reader.Int64())
	pathLinesKey := keyed.Key(reader.Int64())
	if err := reader.Err(); err != nil {
		return false, fmt.Errorf("%w: path lines message: %w", work.ErrProtocolViolation, err)
	}
	trajectories, err := s.objects.Trajectories(trajectoriesKey)
	if err != nil {
		return false, err
	}
	pathLines, err := s.objects.PathLines(pathLinesKey)
	if err != nil {
		return false, err
	}
	pathLines.Build(trajectories)
	s.logger.Debug("built path lines", "key", pathLinesKey, "links", pathLines.Links())
	return false, msg.Barrier(ctx)
}
