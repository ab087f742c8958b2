// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package rank_test

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/lib/service"
	"github.com/galaxy-foundation/galaxy/lib/testutil"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/rank/ranktest"
	"github.com/galaxy-foundation/galaxy/sampler"
	"github.com/galaxy-foundation/galaxy/scene"
)

const sampleRequest = `{
	"camera": {"viewpoint": [0, 0, 5], "viewdirection": [0, 0, -1], "viewup": [0, 1, 0], "aov": 8},
	"type": 0,
	"isovalue": 0.5,
	"dataset": "volume",
	"width": 8,
	"height": 8,
}`

type adminHarness struct {
	cluster *rank.Cluster
	clock   *clock.FakeClock
	client  *service.Client
}

// startAdmin serves rank 0's admin actions on a fresh socket, with the
// test documents in its state directory.
func startAdmin(t *testing.T) *adminHarness {
	t.Helper()
	cluster := ranktest.Start(t, 3, rank.Config{})
	stateDir := t.TempDir()
	for name, content := range map[string]string{
		"state.json":  ranktest.Document,
		"sphere.json": sampleRequest,
	} {
		if err := os.WriteFile(filepath.Join(stateDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	admin := rank.NewAdmin(cluster.Nodes[0], rank.AdminConfig{Clock: fake, StateDir: stateDir})
	server := service.NewSocketServer(filepath.Join(testutil.SocketDir(t), "admin.sock"), ranktest.Logger())
	admin.Register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "admin shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "admin socket")

	return &adminHarness{cluster: cluster, clock: fake, client: service.NewClient(server.SocketPath())}
}

func TestAdminStatus(t *testing.T) {
	h := startAdmin(t)
	h.clock.Advance(90 * time.Second)

	var status rank.Status
	if err := h.client.Call(ranktest.Context(t), "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Rank != 0 || status.Size != 3 {
		t.Errorf("status identifies rank %d of %d", status.Rank, status.Size)
	}
	if status.Digest != hex.EncodeToString(h.cluster.Nodes[0].Digest()) {
		t.Errorf("digest = %s", status.Digest)
	}
	if status.UptimeSeconds != 90 {
		t.Errorf("uptime = %v, want 90", status.UptimeSeconds)
	}
	if status.NewestFrame != -1 {
		t.Errorf("newest frame = %d before any frame", status.NewestFrame)
	}
}

func TestAdminPing(t *testing.T) {
	h := startAdmin(t)
	ctx := ranktest.Context(t)

	var all []rank.PingResult
	if err := h.client.Call(ctx, "ping", nil, &all); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if len(all) != 2 || all[0].Rank != 1 || all[1].Rank != 2 {
		t.Fatalf("ping results = %+v, want ranks 1 and 2", all)
	}
	for _, result := range all {
		if result.Error != "" {
			t.Errorf("ping rank %d: %s", result.Rank, result.Error)
		}
	}

	var one []rank.PingResult
	if err := h.client.Call(ctx, "ping", map[string]any{"rank": 2}, &one); err != nil {
		t.Fatalf("ping rank 2: %v", err)
	}
	if len(one) != 1 || one[0].Rank != 2 {
		t.Errorf("ping rank 2 = %+v", one)
	}

	var serviceErr *service.ServiceError
	if err := h.client.Call(ctx, "ping", map[string]any{"rank": 7}, nil); !errors.As(err, &serviceErr) {
		t.Errorf("ping rank 7 = %v, want a service error", err)
	}
}

func TestAdminSampleOverSocket(t *testing.T) {
	h := startAdmin(t)
	ctx := ranktest.Context(t)

	var result sampler.Result
	err := h.client.Call(ctx, "sample", map[string]any{"document": "state.json", "request": "sphere.json"}, &result)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if result.Frame != 1 || result.Particles != 24 {
		t.Errorf("result = %+v, want 24 particles in frame 1", result)
	}

	var particles []scene.Particle
	if err := h.client.Call(ctx, "particles", nil, &particles); err != nil {
		t.Fatalf("particles: %v", err)
	}
	if len(particles) != 24 {
		t.Errorf("particles = %d, want 24", len(particles))
	}

	var frames []rank.FrameStatus
	if err := h.client.Call(ctx, "frames", nil, &frames); err != nil {
		t.Fatalf("frames: %v", err)
	}
	if len(frames) != 1 || frames[0].Frame != 1 || frames[0].State != scene.FrameComplete.String() {
		t.Errorf("frames = %+v, want frame 1 complete", frames)
	}

	var entries []keyed.Entry
	if err := h.client.Call(ctx, "objects", nil, &entries); err != nil {
		t.Fatalf("objects: %v", err)
	}
	types := map[string]int{}
	for _, entry := range entries {
		types[entry.Type]++
	}
	for _, name := range []string{"scene.particles", "sampler.sampler"} {
		if types[name] != 1 {
			t.Errorf("objects hold %d of %s, want 1: %v", types[name], name, types)
		}
	}
	for _, name := range []string{"scene.camera", "scene.datasets", "scene.dataset", "scene.visualization", "scene.rendering", "scene.renderingset"} {
		if types[name] != 0 {
			t.Errorf("objects keep %d of %s after the request: %v", types[name], name, types)
		}
	}

	// A second request reuses the sampler and takes the next frame.
	if err := h.client.Call(ctx, "sample", map[string]any{"document": "state.json", "request": "sphere.json"}, &result); err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if result.Frame != 2 || result.Particles != 24 {
		t.Errorf("second result = %+v, want 24 particles in frame 2", result)
	}
	var after []keyed.Entry
	if err := h.client.Call(ctx, "objects", nil, &after); err != nil {
		t.Fatalf("objects: %v", err)
	}
	if len(after) != len(entries) {
		t.Errorf("objects after two requests = %d, after one = %d", len(after), len(entries))
	}
}

func TestAdminSampleRejectsUnknownDataset(t *testing.T) {
	h := startAdmin(t)
	ctx := ranktest.Context(t)

	missing := filepath.Join(t.TempDir(), "other.json")
	if err := os.WriteFile(missing, []byte(`{"type": 0, "dataset": "absent"}`), 0644); err != nil {
		t.Fatal(err)
	}
	err := h.client.Call(ctx, "sample", map[string]any{"document": "state.json", "request": missing}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("sample = %v, want a service error", err)
	}

	err = h.client.Call(ctx, "sample", map[string]any{"document": "state.json"}, nil)
	if !errors.As(err, &serviceErr) {
		t.Errorf("sample without a request = %v, want a service error", err)
	}
}
