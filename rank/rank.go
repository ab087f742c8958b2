// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package rank assembles the per-rank stack: work channel, keyed
// registry, scene objects, renderer, sampler and path line tracer.
// Every rank registers its message and object types in the same fixed
// order, so the channel's registration digest agrees across a
// correctly built cluster.
package rank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/sampler"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/tracer"
	"github.com/galaxy-foundation/galaxy/transport"
	"github.com/galaxy-foundation/galaxy/work"
)

// Config describes one rank.
type Config struct {
	Rank int
	Size int

	Clock  clock.Clock
	Logger *slog.Logger

	Render render.Config
}

// Node is one rank's coordination stack.
type Node struct {
	Channel  *work.Channel
	Registry *keyed.Registry
	Tracker  *scene.FrameTracker
	Objects  *scene.Objects
	Renderer *render.Renderer
	Sampler  *sampler.Service
	Tracer   *tracer.Service
}

// New builds the stack for config.Rank. Attach an endpoint, then Run.
// config.Logger is used as given and should already carry the rank.
func New(config Config) *Node {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("rank", config.Rank)
	}
	channel := work.NewChannel(work.Config{
		Rank:   config.Rank,
		Size:   config.Size,
		Clock:  config.Clock,
		Logger: logger,
	})
	registry := keyed.NewRegistry(channel)
	tracker := scene.NewFrameTracker()
	objects := scene.Register(registry, tracker, config.Rank)
	renderConfig := config.Render
	if renderConfig.Logger == nil {
		renderConfig.Logger = logger
	}
	renderer := render.NewRenderer(channel, objects, renderConfig)
	return &Node{
		Channel:  channel,
		Registry: registry,
		Tracker:  tracker,
		Objects:  objects,
		Renderer: renderer,
		Sampler:  sampler.Register(renderer, renderConfig.BatchSize),
		Tracer:   tracer.Register(channel, objects),
	}
}

// Rank returns the node's rank.
func (n *Node) Rank() int { return n.Channel.Rank() }

// Digest fingerprints the node's message registrations. Peers compare
// digests when they connect.
func (n *Node) Digest() []byte { return n.Channel.Types().Digest() }

// Attach binds the node to its transport endpoint.
func (n *Node) Attach(endpoint transport.Endpoint) error {
	return n.Channel.Attach(endpoint)
}

// Run serves the work channel and the tracer loop until ctx is done or
// the channel fails. It returns the channel's error.
func (n *Node) Run(ctx context.Context) error {
	tracerCtx, cancel := context.WithCancel(ctx)
	tracerDone := make(chan struct{})
	go func() {
		defer close(tracerDone)
		n.Renderer.Run(tracerCtx)
	}()
	err := n.Channel.Serve(ctx)
	cancel()
	<-tracerDone
	return err
}

// Cluster is a set of nodes in one process connected by a memory
// network.
type Cluster struct {
	Network *transport.MemoryNetwork
	Nodes   []*Node
}

// NewLocalCluster builds size attached nodes. config supplies the
// shared settings; Rank and Size are set per node.
func NewLocalCluster(size int, config Config) (*Cluster, error) {
	if size < 1 {
		return nil, fmt.Errorf("cluster size %d", size)
	}
	cluster := &Cluster{
		Network: transport.NewMemoryNetwork(size),
		Nodes:   make([]*Node, size),
	}
	for rank := range size {
		nodeConfig := config
		nodeConfig.Rank = rank
		nodeConfig.Size = size
		if config.Logger != nil {
			nodeConfig.Logger = config.Logger.With("rank", rank)
		}
		node := New(nodeConfig)
		if err := node.Attach(cluster.Network.Endpoint(rank)); err != nil {
			cluster.Network.Close()
			return nil, err
		}
		cluster.Nodes[rank] = node
	}
	return cluster, nil
}

// Run runs every node until ctx is done or a node fails, and returns
// the joined node errors.
func (c *Cluster) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(c.Nodes))
	for rank, node := range c.Nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := node.Run(ctx); err != nil {
				errs[rank] = fmt.Errorf("rank %d: %w", rank, err)
				cancel()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close shuts the network down.
func (c *Cluster) Close() error { return c.Network.Close() }
