// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package vecmath

import (
	"github.com/chewxy/math32"
)

// TrackballSize is the radius of the virtual trackball in normalized
// window coordinates (-1..1 on each axis).
const TrackballSize float32 = 0.8

// Trackball returns the incremental rotation for a drag from (p1x, p1y)
// to (p2x, p2y) on a virtual trackball. Coordinates are normalized to
// -1..1. The points are projected onto a sphere of radius TrackballSize
// that blends into a hyperbolic sheet away from the center, so drags
// outside the ball still rotate smoothly.
func Trackball(p1x, p1y, p2x, p2y float32) Quat {
	if p1x == p2x && p1y == p2y {
		return Identity
	}

	p1 := Vec3{p1x, p1y, projectToSphere(TrackballSize, p1x, p1y)}
	p2 := Vec3{p2x, p2y, projectToSphere(TrackballSize, p2x, p2y)}

	axis := p2.Cross(p1)

	t := p1.Sub(p2).Length() / (2 * TrackballSize)
	t = max(-1, min(1, t))
	phi := 2 * math32.Asin(t)

	return AxisAngle(axis, phi)
}

// projectToSphere maps (x, y) onto a sphere of radius r, or onto a
// hyperbolic sheet when the point lies outside r/sqrt(2) of the center.
func projectToSphere(r, x, y float32) float32 {
	d := math32.Sqrt(x*x + y*y)
	if d < r*0.70710678118654752440 {
		return math32.Sqrt(r*r - d*d)
	}
	t := r / 1.41421356237309504880
	return t * t / d
}
