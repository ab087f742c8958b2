// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package ranktest runs in-process clusters for tests.
package ranktest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/testutil"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/scene"
)

// Document is a small state document: a unit-cube dataset named
// "volume" seen head-on from z=5 with a 60 degree angle of view, drawn
// as its bounding box in red.
const Document = `{
	// viewer on the +z axis
	"Camera": {
		"viewpoint": [0, 0, 5],
		"viewdirection": [0, 0, -5],
		"viewup": [0, 1, 0],
		"aov": 60,
	},
	"Datasets": [{"name": "volume", "min": [-1, -1, -1], "max": [1, 1, 1]}],
	"Visualization": {"dataset": "volume", "type": "surface", "color": [1, 0, 0]},
}`

// Logger discards everything.
func Logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// Context returns a context that ends with the test or after ten
// seconds.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Start builds and runs a cluster of size nodes until the test ends.
func Start(t *testing.T, size int, config rank.Config) *rank.Cluster {
	t.Helper()
	if config.Logger == nil {
		config.Logger = Logger()
	}
	cluster, err := rank.NewLocalCluster(size, config)
	if err != nil {
		t.Fatalf("NewLocalCluster: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cluster.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "cluster shutdown"); err != nil {
			t.Errorf("cluster: %v", err)
		}
		cluster.Close()
	})
	return cluster
}

// Scene is committed scene state.
type Scene struct {
	Document      *scene.Document
	Camera        *scene.Camera
	Datasets      *scene.Datasets
	Visualization *scene.Visualization
}

// CommitScene parses document on node and commits its first camera,
// its datasets and its first visualization.
func CommitScene(t *testing.T, node *rank.Node, document string) Scene {
	t.Helper()
	ctx := Context(t)
	parsed, err := scene.ParseDocument([]byte(document))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	datasets, err := node.Objects.CommitDatasets(ctx, parsed)
	if err != nil {
		t.Fatalf("CommitDatasets: %v", err)
	}
	visualization, err := node.Objects.CommitVisualization(ctx, parsed.AllVisualizations()[0])
	if err != nil {
		t.Fatalf("CommitVisualization: %v", err)
	}
	camera, err := node.Objects.NewCameraFrom(parsed.AllCameras()[0])
	if err != nil {
		t.Fatalf("NewCameraFrom: %v", err)
	}
	if err := node.Registry.Commit(ctx, camera.Key()); err != nil {
		t.Fatalf("Commit camera: %v", err)
	}
	return Scene{Document: parsed, Camera: camera, Datasets: datasets, Visualization: visualization}
}

// View returns a width×height view of the scene.
func (s Scene) View(width, height int32) scene.View {
	return scene.View{
		Camera:        s.Camera.Key(),
		Datasets:      s.Datasets.Key(),
		Visualization: s.Visualization.Key(),
		Width:         width,
		Height:        height,
	}
}
