// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/scene"
)

// NodeBackend renders a session's frames on the owning rank's node.
// Each frame's camera, rendering and set are released on every rank
// once a newer frame has been submitted; a session's datasets and
// visualization are released when the next session opens.
type NodeBackend struct {
	node *rank.Node

	// StateDir resolves relative state file names. Empty means the
	// process working directory.
	StateDir string

	mu            sync.Mutex
	width, height int32
	datasets      keyed.Key
	visualization keyed.Key

	// scene holds the current session's shared keys, frame the keys of
	// the newest submitted frame.
	scene []keyed.Key
	frame []keyed.Key
}

// NewNodeBackend returns a backend on node, normally rank 0.
func NewNodeBackend(node *rank.Node) *NodeBackend {
	return &NodeBackend{node: node}
}

// Open loads the state document, commits its datasets and its first
// visualization, and returns its first camera.
func (b *NodeBackend) Open(ctx context.Context, start Control) (scene.CameraSpec, error) {
	path := start.StateFile
	if b.StateDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(b.StateDir, path)
	}
	document, err := scene.LoadDocument(path)
	if err != nil {
		return scene.CameraSpec{}, err
	}
	objects := b.node.Objects

	b.mu.Lock()
	stale := slices.Concat(b.frame, b.scene)
	b.frame, b.scene = nil, nil
	b.datasets, b.visualization = keyed.NoKey, keyed.NoKey
	b.mu.Unlock()
	if err := objects.Registry.Release(ctx, stale...); err != nil {
		return scene.CameraSpec{}, err
	}

	datasets, err := objects.CommitDatasets(ctx, document)
	if err != nil {
		return scene.CameraSpec{}, err
	}
	visualization, err := objects.CommitVisualization(ctx, document.AllVisualizations()[0])
	if err != nil {
		return scene.CameraSpec{}, err
	}

	b.mu.Lock()
	b.width, b.height = start.Width, start.Height
	b.datasets = datasets.Key()
	b.visualization = visualization.Key()
	b.scene = append(datasets.Keys(), visualization.Key())
	b.mu.Unlock()
	return document.AllCameras()[0], nil
}

// Render commits the frame's camera and rendering, submits the
// rendering set to every rank and releases the previous frame.
func (b *NodeBackend) Render(ctx context.Context, frame Frame) error {
	b.mu.Lock()
	view := scene.View{
		Datasets:      b.datasets,
		Visualization: b.visualization,
		Width:         b.width,
		Height:        b.height,
	}
	b.mu.Unlock()
	if view.Datasets == keyed.NoKey {
		return errors.New("render before open")
	}

	objects := b.node.Objects
	camera, err := objects.NewCameraFrom(frame.Camera)
	if err != nil {
		return err
	}
	if err := objects.Registry.Commit(ctx, camera.Key()); err != nil {
		return err
	}
	view.Camera = camera.Key()
	set, err := objects.CommitFrame(ctx, view, frame.Number)
	if err != nil {
		return err
	}
	keys, err := objects.FrameKeys(set)
	if err != nil {
		return err
	}
	if err := b.node.Renderer.Render(ctx, set); err != nil {
		return err
	}

	// Ranks receive the release after the render message, so any of
	// the old frame's ray lists still queued hold its objects.
	b.mu.Lock()
	stale := b.frame
	b.frame = keys
	b.mu.Unlock()
	return objects.Registry.Release(ctx, stale...)
}

// SetSink directs the node's owned pixels to sink.
func (b *NodeBackend) SetSink(sink render.PixelSink) { b.node.Renderer.SetSink(sink) }
