// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package sampler_test

import (
	"cmp"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/chewxy/math32"

	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/rank/ranktest"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/sampler"
	"github.com/galaxy-foundation/galaxy/scene"
)

type fixture struct {
	cluster *rank.Cluster
	set     *scene.RenderingSet
	sampler *sampler.Sampler
}

// newFixture commits a one-rendering set for frame 1 owned by rank 0
// and a sampler created on rank 0.
func newFixture(t *testing.T, size int) fixture {
	t.Helper()
	cluster := ranktest.Start(t, size, rank.Config{})
	owner := cluster.Nodes[0]
	ctx := ranktest.Context(t)
	state := ranktest.CommitScene(t, owner, ranktest.Document)
	set, err := owner.Objects.CommitFrame(ctx, state.View(4, 4), 1)
	if err != nil {
		t.Fatalf("CommitFrame: %v", err)
	}
	s, err := owner.Sampler.NewSampler()
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	if err := owner.Registry.Commit(ctx, s.Samples); err != nil {
		t.Fatalf("Commit particles: %v", err)
	}
	if err := owner.Registry.Commit(ctx, s.Key()); err != nil {
		t.Fatalf("Commit sampler: %v", err)
	}
	return fixture{cluster: cluster, set: set, sampler: s}
}

func rays(set *scene.RenderingSet, terms ...render.RayFlags) *render.RayList {
	list := &render.RayList{RenderingSet: set.Key(), Rendering: set.Renderings[0], Frame: set.Frame}
	for i, term := range terms {
		list.Rays = append(list.Rays, render.Ray{
			Origin:    vecmath.V3(float32(i), 0, 0),
			Direction: vecmath.V3(0, 1, 0),
			T:         float32(i) + 0.5,
			Term:      term,
			X:         int32(i),
			Opacity:   1,
		})
	}
	return list
}

func TestNoHitsLeaveEverythingUntouched(t *testing.T) {
	f := newFixture(t, 2)
	owner := f.cluster.Nodes[0]
	before := owner.Channel.Stats()

	list := rays(f.set, render.RayBoundary, render.RayBoundary)
	if err := f.sampler.HandleTerminatedRays(ranktest.Context(t), list); err != nil {
		t.Fatalf("HandleTerminatedRays: %v", err)
	}
	particles, err := f.sampler.Particles()
	if err != nil {
		t.Fatal(err)
	}
	if particles.Len() != 0 {
		t.Errorf("particles = %d, want 0", particles.Len())
	}
	if after := owner.Channel.Stats(); after.Sent != before.Sent || after.Dropped != before.Dropped {
		t.Errorf("channel stats moved: %+v -> %+v", before, after)
	}
}

func TestLocalHitsBecomeParticles(t *testing.T) {
	f := newFixture(t, 2)
	list := rays(f.set, render.RaySurface, render.RayBoundary, render.RaySurface, render.RaySurface)
	if err := f.sampler.HandleTerminatedRays(ranktest.Context(t), list); err != nil {
		t.Fatalf("HandleTerminatedRays: %v", err)
	}
	particles, err := f.sampler.Particles()
	if err != nil {
		t.Fatal(err)
	}
	got := particles.Snapshot()
	want := []vecmath.Vec3{
		vecmath.V3(0, 0.5, 0),
		vecmath.V3(2, 2.5, 0),
		vecmath.V3(3, 3.5, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("particles = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Position.ApproxEqual(want[i], 1e-6) {
			t.Errorf("particle %d at %v, want %v", i, got[i].Position, want[i])
		}
	}
}

func TestRemoteHitsOnInactiveFrameAreDropped(t *testing.T) {
	f := newFixture(t, 2)
	remote := f.cluster.Nodes[1]
	replica, err := remote.Sampler.Sampler(f.sampler.Key())
	if err != nil {
		t.Fatalf("sampler replica: %v", err)
	}
	if replica.Samples != f.sampler.Samples {
		t.Fatalf("replica samples key = %d, want %d", replica.Samples, f.sampler.Samples)
	}

	// Rank 1 has not started frame 1, so it is not active there.
	before := remote.Channel.Stats()
	list := rays(f.set, render.RaySurface, render.RaySurface)
	if err := replica.HandleTerminatedRays(ranktest.Context(t), list); err != nil {
		t.Fatalf("stale frame reported an error: %v", err)
	}
	after := remote.Channel.Stats()
	if after.Sent != before.Sent {
		t.Errorf("sent %d messages for an inactive frame", after.Sent-before.Sent)
	}
	if after.Dropped != before.Dropped+1 {
		t.Errorf("dropped = %d, want %d", after.Dropped, before.Dropped+1)
	}
	if got := remote.Renderer.Stats().DroppedPixels; got != 2 {
		t.Errorf("dropped pixels = %d, want 2", got)
	}
}

// hitBatches builds count lists of the set's rendering, each mixing
// surface hits with rays that left the volume.
func hitBatches(set *scene.RenderingSet, count int) []*render.RayList {
	batches := make([]*render.RayList, count)
	for b := range batches {
		list := &render.RayList{RenderingSet: set.Key(), Rendering: set.Renderings[0], Frame: set.Frame}
		for i := range 16 {
			term := render.RaySurface
			if (b+i)%3 == 0 {
				term = render.RayBoundary
			}
			list.Rays = append(list.Rays, render.Ray{
				Origin:    vecmath.V3(float32(b), float32(i), 0),
				Direction: vecmath.V3(0, 0, 1),
				T:         float32(b*16+i) / 4,
				Term:      term,
				X:         int32(i),
				Y:         int32(b),
				Opacity:   1,
			})
		}
		batches[b] = list
	}
	return batches
}

func sortedPositions(particles []scene.Particle) []vecmath.Vec3 {
	positions := make([]vecmath.Vec3, len(particles))
	for i, particle := range particles {
		positions[i] = particle.Position
	}
	sortVectors(positions)
	return positions
}

func sortVectors(v []vecmath.Vec3) {
	slices.SortFunc(v, func(a, b vecmath.Vec3) int {
		return cmp.Or(cmp.Compare(a.X, b.X), cmp.Compare(a.Y, b.Y), cmp.Compare(a.Z, b.Z))
	})
}

func TestConcurrentHitsCollectEveryParticleOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := ranktest.Context(t)
	batches := hitBatches(f.set, 12)

	var want []vecmath.Vec3
	for _, list := range batches {
		for i := range list.Rays {
			if list.Rays[i].Term&render.RaySurface != 0 {
				want = append(want, list.Rays[i].HitPoint())
			}
		}
	}
	sortVectors(want)

	particles, err := f.sampler.Particles()
	if err != nil {
		t.Fatal(err)
	}
	random := rand.New(rand.NewSource(1))
	for round := range 5 {
		particles.Clear()
		order := random.Perm(len(batches))
		var wg sync.WaitGroup
		errs := make(chan error, len(batches))
		for _, worker := range [][]int{order[:4], order[4:8], order[8:]} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, b := range worker {
					errs <- f.sampler.HandleTerminatedRays(ctx, batches[b])
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: HandleTerminatedRays: %v", round, err)
			}
		}
		if got := sortedPositions(particles.Snapshot()); !slices.Equal(got, want) {
			t.Errorf("round %d (order %v): %d particles differ from the %d sequential hits", round, order, len(got), len(want))
		}
	}
}

const sphereRequest = `{
	// narrow view: every primary ray meets the sphere
	"camera": {"viewpoint": [0, 0, 5], "viewdirection": [0, 0, -1], "viewup": [0, 1, 0], "aov": 8},
	"type": 0,
	"isovalue": 0.5,
	"dataset": "volume",
	"width": 8,
	"height": 8,
}`

func TestCommittedSamplerCarriesParticleSet(t *testing.T) {
	f := newFixture(t, 2)
	replica, err := f.cluster.Nodes[1].Sampler.Sampler(f.sampler.Key())
	if err != nil {
		t.Fatalf("rank 1 lookup: %v", err)
	}
	if replica.Samples != f.sampler.Samples {
		t.Errorf("replica particle set = %d, want %d", replica.Samples, f.sampler.Samples)
	}
	if _, err := replica.Particles(); err != nil {
		t.Errorf("rank 1 cannot resolve the particle set: %v", err)
	}
}

func TestRunRequestSamplesSphere(t *testing.T) {
	cluster := ranktest.Start(t, 3, rank.Config{})
	owner := cluster.Nodes[0]
	ctx := ranktest.Context(t)
	state := ranktest.CommitScene(t, owner, ranktest.Document)

	request, err := sampler.ParseRequest([]byte(sphereRequest))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	s, err := owner.Sampler.NewSampler()
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.RunRequest(ctx, request, state.Datasets, 5)
	if err != nil {
		t.Fatalf("RunRequest: %v", err)
	}
	// Rank 0 owns the rendering and traces rows 0, 3 and 6.
	if result.Frame != 5 || result.Particles != 24 {
		t.Fatalf("result = %+v, want 24 particles in frame 5", result)
	}

	particles, err := s.Particles()
	if err != nil {
		t.Fatal(err)
	}
	for i, particle := range particles.Snapshot() {
		if r := particle.Position.Length(); math32.Abs(r-0.5) > 1e-3 {
			t.Errorf("particle %d at radius %v, want 0.5", i, r)
		}
	}
	for rank, node := range cluster.Nodes {
		replica, err := node.Objects.Particles(s.Samples)
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
		if replica.Len() != 24 {
			t.Errorf("rank %d holds %d particles, want 24", rank, replica.Len())
		}
	}
	if got := owner.Tracker.State(5); got != scene.FrameComplete {
		t.Errorf("owner frame state = %s, want complete", got)
	}
	if got := cluster.Nodes[1].Renderer.Stats().SentPixels; got != 24 {
		t.Errorf("rank 1 sent %d pixels, want its 24 hits", got)
	}
}

func TestParseRequest(t *testing.T) {
	request, err := sampler.ParseRequest([]byte(`{"type": 1, "tolerance": 0.1, "dataset": "volume"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if request.Type != sampler.RequestGradient || request.Tolerance != 0.1 {
		t.Errorf("request = %+v", request)
	}
	if request.Width != sampler.DefaultWidth || request.Height != sampler.DefaultHeight {
		t.Errorf("size = %dx%d, want defaults", request.Width, request.Height)
	}

	for name, input := range map[string]string{
		"unknown type": `{"type": 2, "dataset": "volume"}`,
		"no dataset":   `{"type": 0}`,
		"bad size":     `{"type": 0, "dataset": "volume", "width": -1}`,
		"huge size":    `{"type": 0, "dataset": "volume", "width": 100000, "height": 100000}`,
		"not json":     `{"type": `,
	} {
		if _, err := sampler.ParseRequest([]byte(input)); err == nil {
			t.Errorf("%s: ParseRequest succeeded", name)
		}
	}
}
