// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package vecmath

import (
	"github.com/chewxy/math32"
)

// Quat is a rotation quaternion with vector part (X, Y, Z) and scalar
// part W.
type Quat struct {
	X, Y, Z, W float32
}

// Identity is the quaternion for no rotation.
var Identity = Quat{W: 1}

// AxisAngle returns the rotation of phi radians about axis. The axis
// does not need to be unit length.
func AxisAngle(axis Vec3, phi float32) Quat {
	unit := axis.Normalize().Scale(math32.Sin(phi / 2))
	return Quat{X: unit.X, Y: unit.Y, Z: unit.Z, W: math32.Cos(phi / 2)}
}

func (q Quat) vector() Vec3 { return Vec3{q.X, q.Y, q.Z} }

// Mul returns the Hamilton product q*r: the rotation r followed by q.
func (q Quat) Mul(r Quat) Quat {
	qv, rv := q.vector(), r.vector()
	v := rv.Scale(q.W).Add(qv.Scale(r.W)).Add(qv.Cross(rv))
	return Quat{X: v.X, Y: v.Y, Z: v.Z, W: q.W*r.W - qv.Dot(rv)}
}

// Normalize returns q scaled to unit magnitude.
func (q Quat) Normalize() Quat {
	magnitude := math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if magnitude == 0 {
		return Identity
	}
	return Quat{q.X / magnitude, q.Y / magnitude, q.Z / magnitude, q.W / magnitude}
}

// Conjugate returns the inverse rotation of a unit quaternion.
func (q Quat) Conjugate() Quat { return Quat{-q.X, -q.Y, -q.Z, q.W} }

// Compose returns the single rotation equivalent to applying increment
// and then accumulated, renormalized so repeated composition of small
// trackball drags does not drift off the unit sphere.
func Compose(increment, accumulated Quat) Quat {
	return accumulated.Mul(increment).Normalize()
}

// Rotate returns v rotated by the unit quaternion q.
func (q Quat) Rotate(v Vec3) Vec3 {
	p := Quat{X: v.X, Y: v.Y, Z: v.Z}
	r := q.Mul(p).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// ApproxEqual reports whether q and r differ by at most epsilon in every
// component.
func (q Quat) ApproxEqual(r Quat, epsilon float32) bool {
	return math32.Abs(q.X-r.X) <= epsilon &&
		math32.Abs(q.Y-r.Y) <= epsilon &&
		math32.Abs(q.Z-r.Z) <= epsilon &&
		math32.Abs(q.W-r.W) <= epsilon
}
