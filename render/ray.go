// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/vecmath"
)

// RayFlags classify how a ray ended.
type RayFlags uint32

const (
	// RaySurface marks a ray that hit a surface of the visualization.
	RaySurface RayFlags = 1 << iota

	// RayBoundary marks a ray that left the dataset without a hit.
	RayBoundary
)

// Ray is one ray in flight. X and Y are the pixel the ray contributes
// to. Color and Opacity are set by the engine on a surface hit.
type Ray struct {
	Origin    vecmath.Vec3
	Direction vecmath.Vec3
	T         float32
	Term      RayFlags
	X, Y      int32
	Color     vecmath.Vec3
	Opacity   float32
}

// HitPoint returns origin + t*direction.
func (r *Ray) HitPoint() vecmath.Vec3 {
	return vecmath.PointAt(r.Origin, r.Direction, r.T)
}

// RayList is a batch of rays for one rendering of one frame. A list is
// consumed exactly once by the termination step.
type RayList struct {
	RenderingSet keyed.Key
	Rendering    keyed.Key
	Frame        int32
	Rays         []Ray
}

// SurfaceHits counts the rays classified RaySurface.
func (l *RayList) SurfaceHits() int {
	hits := 0
	for i := range l.Rays {
		if l.Rays[i].Term&RaySurface != 0 {
			hits++
		}
	}
	return hits
}
