// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"github.com/chewxy/math32"

	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/scene"
)

// Engine intersects rays with a visualization of a dataset. It sets T,
// Term and, on surface hits, Color and Opacity of every ray in list.
// Rays that need further tracing (on this or another pass) are returned
// as a continuation list; a nil continuation means every ray ended.
type Engine interface {
	Intersect(visualization *scene.Visualization, dataset *scene.Dataset, list *RayList) (*RayList, error)
}

// AnalyticEngine is a reference Engine over analytic stand-ins for
// dataset content. An isosurface visualization is a sphere centered in
// the dataset bounds whose radius is Isovalue times the smallest half
// extent; every other kind hits the bounding box itself. Every ray ends
// in one pass.
type AnalyticEngine struct{}

func (AnalyticEngine) Intersect(visualization *scene.Visualization, dataset *scene.Dataset, list *RayList) (*RayList, error) {
	bounds := dataset.Bounds
	center := bounds.Center()
	half := bounds.Max.Sub(bounds.Min).Scale(0.5)
	radius := visualization.Isovalue * math32.Min(half.X, math32.Min(half.Y, half.Z))

	for i := range list.Rays {
		ray := &list.Rays[i]
		var (
			t   float32
			hit bool
		)
		if visualization.Kind == scene.VisIsosurface {
			t, hit = hitSphere(ray.Origin, ray.Direction, center, radius)
		} else {
			t, hit = hitBox(ray.Origin, ray.Direction, bounds)
		}
		if !hit {
			ray.Term = RayBoundary
			ray.T = 0
			continue
		}
		ray.T = t
		ray.Term = RaySurface
		ray.Color = visualization.Color
		ray.Opacity = 1
	}
	return nil, nil
}

// hitSphere returns the nearest non-negative root of the ray-sphere
// quadratic.
func hitSphere(origin, direction, center vecmath.Vec3, radius float32) (float32, bool) {
	if radius <= 0 {
		return 0, false
	}
	oc := origin.Sub(center)
	a := direction.Dot(direction)
	halfB := oc.Dot(direction)
	c := oc.Dot(oc) - radius*radius
	discriminant := halfB*halfB - a*c
	if discriminant < 0 || a == 0 {
		return 0, false
	}
	root := math32.Sqrt(discriminant)
	t := (-halfB - root) / a
	if t < 0 {
		t = (-halfB + root) / a
		if t < 0 {
			return 0, false
		}
	}
	return t, true
}

// hitBox is the slab test. It returns the entry distance, or the exit
// distance for a ray starting inside the box.
func hitBox(origin, direction vecmath.Vec3, bounds scene.Bounds) (float32, bool) {
	tMin, tMax := float32(0), float32(math32.MaxFloat32)
	o := [3]float32{origin.X, origin.Y, origin.Z}
	d := [3]float32{direction.X, direction.Y, direction.Z}
	lo := [3]float32{bounds.Min.X, bounds.Min.Y, bounds.Min.Z}
	hi := [3]float32{bounds.Max.X, bounds.Max.Y, bounds.Max.Z}
	entered := false
	for axis := range 3 {
		if math32.Abs(d[axis]) < 1e-8 {
			if o[axis] < lo[axis] || o[axis] > hi[axis] {
				return 0, false
			}
			continue
		}
		inverse := 1 / d[axis]
		t1 := (lo[axis] - o[axis]) * inverse
		t2 := (hi[axis] - o[axis]) * inverse
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tMin {
			tMin = t1
			entered = true
		}
		tMax = math32.Min(tMax, t2)
		if tMin > tMax {
			return 0, false
		}
	}
	if !entered {
		return tMax, true
	}
	return tMin, true
}
