// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package rank_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/testutil"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/rank/ranktest"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

func TestNodesAgreeOnDigest(t *testing.T) {
	first := rank.New(rank.Config{Rank: 0, Size: 2, Logger: ranktest.Logger()})
	second := rank.New(rank.Config{Rank: 1, Size: 2, Logger: ranktest.Logger()})
	if !bytes.Equal(first.Digest(), second.Digest()) {
		t.Fatal("nodes built from the same code disagree on their registration digest")
	}
	if first.Rank() != 0 || second.Rank() != 1 {
		t.Errorf("ranks = %d, %d", first.Rank(), second.Rank())
	}
}

func TestClusterRendersCompleteFrame(t *testing.T) {
	cluster := ranktest.Start(t, 3, rank.Config{})
	owner := cluster.Nodes[0]
	ctx := ranktest.Context(t)
	state := ranktest.CommitScene(t, owner, ranktest.Document)

	framebuffer := render.NewFramebuffer(8, 8, 1)
	owner.Renderer.SetSink(framebuffer)

	set, err := owner.Objects.CommitFrame(ctx, state.View(8, 8), 1)
	if err != nil {
		t.Fatalf("CommitFrame: %v", err)
	}
	if err := owner.Tracker.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := owner.Renderer.Render(ctx, set); err != nil {
		t.Fatalf("Render: %v", err)
	}
	final, err := set.WaitForDone(ctx)
	if err != nil {
		t.Fatalf("WaitForDone: %v", err)
	}
	if final != scene.FrameComplete {
		t.Fatalf("frame ended %s, want complete", final)
	}

	// The box fills the middle of the image; corners look past it.
	if got := framebuffer.At(4, 4); got != [4]float32{1, 0, 0, 1} {
		t.Errorf("center pixel = %v, want opaque red", got)
	}
	if got := framebuffer.At(0, 0); got != [4]float32{} {
		t.Errorf("corner pixel = %v, want empty", got)
	}

	var traced uint64
	for rank, node := range cluster.Nodes {
		stats := node.Renderer.Stats()
		if stats.ListsTraced == 0 {
			t.Errorf("rank %d traced nothing", rank)
		}
		traced += stats.ListsTraced
	}
	if traced != 8 {
		t.Errorf("lists traced = %d, want one per row", traced)
	}
	if owner.Renderer.Stats().LocalPixels == 0 {
		t.Error("owner recorded no local pixels")
	}
	if cluster.Nodes[1].Renderer.Stats().SentPixels == 0 {
		t.Error("rank 1 sent no pixels")
	}
}

func TestCommitVisibleEverywhereAfterReturn(t *testing.T) {
	cluster := ranktest.Start(t, 4, rank.Config{})
	ctx := ranktest.Context(t)

	camera, err := cluster.Nodes[2].Objects.NewCamera()
	if err != nil {
		t.Fatal(err)
	}
	camera.AngleOfView = 42
	if err := cluster.Nodes[2].Registry.Commit(ctx, camera.Key()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for rank, node := range cluster.Nodes {
		replica, err := node.Objects.Camera(camera.Key())
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
		if replica.AngleOfView != 42 {
			t.Errorf("rank %d: angle of view = %v", rank, replica.AngleOfView)
		}
	}
}

func TestClusterRunReportsTransportFailure(t *testing.T) {
	cluster, err := rank.NewLocalCluster(3, rank.Config{Logger: ranktest.Logger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cluster.Close() })

	done := make(chan error, 1)
	go func() { done <- cluster.Run(context.Background()) }()

	cluster.Network.Break(1, errors.New("link down"))
	err = testutil.RequireReceive(t, done, 5*time.Second, "cluster run")
	if !errors.Is(err, work.ErrTransportFailure) {
		t.Fatalf("Run error = %v, want ErrTransportFailure", err)
	}
}

func TestNewLocalClusterRejectsEmpty(t *testing.T) {
	if _, err := rank.NewLocalCluster(0, rank.Config{}); err == nil {
		t.Fatal("NewLocalCluster(0) succeeded")
	}
}
