// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package vecmath holds the float32 vector and quaternion arithmetic the
// coordinator needs for cameras, ray positions and trackball rotation.
// All values are float32 to match the wire layout of camera records and
// ray batches.
package vecmath

import (
	"github.com/chewxy/math32"
)

// Vec3 is a 3-component float32 vector.
type Vec3 struct {
	X, Y, Z float32
}

// V3 returns a Vec3 with the given components.
func V3(x, y, z float32) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Dot(o Vec3) float32 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Length() float32 { return math32.Sqrt(v.Dot(v)) }

// Normalize returns v scaled to unit length. The zero vector is
// returned unchanged.
func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length == 0 {
		return v
	}
	return v.Scale(1 / length)
}

// PointAt returns origin + t*direction.
func PointAt(origin, direction Vec3, t float32) Vec3 {
	return origin.Add(direction.Scale(t))
}

// ApproxEqual reports whether every component differs by at most epsilon.
func (v Vec3) ApproxEqual(o Vec3, epsilon float32) bool {
	return math32.Abs(v.X-o.X) <= epsilon &&
		math32.Abs(v.Y-o.Y) <= epsilon &&
		math32.Abs(v.Z-o.Z) <= epsilon
}
