// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/chewxy/math32"

	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/scene"
)

// Orbit is a camera circling a fixed center at a fixed distance. Drags
// compose onto the accumulated rotation rather than replacing it, so a
// sequence of small drags adds up to the same orientation as the drags
// applied one after another.
type Orbit struct {
	Center      vecmath.Vec3
	Distance    float32
	AngleOfView float32
	Rotation    vecmath.Quat

	// Direction and Up are unit vectors; Viewpoint is Center minus
	// Direction scaled by Distance.
	Direction vecmath.Vec3
	Up        vecmath.Vec3
	Viewpoint vecmath.Vec3
}

var (
	unitY = vecmath.V3(0, 1, 0)
	unitZ = vecmath.V3(0, 0, 1)
)

// NewOrbit starts an orbit from a document camera. The center is the
// point the view direction reaches; the up vector is made orthogonal
// to the direction.
func NewOrbit(spec scene.CameraSpec) Orbit {
	viewpoint := vecmath.V3(spec.Viewpoint[0], spec.Viewpoint[1], spec.Viewpoint[2])
	direction := vecmath.V3(spec.ViewDirection[0], spec.ViewDirection[1], spec.ViewDirection[2])
	up := vecmath.V3(spec.ViewUp[0], spec.ViewUp[1], spec.ViewUp[2]).Normalize()

	center := viewpoint.Add(direction)
	distance := direction.Length()
	direction = direction.Normalize()
	right := direction.Cross(up)
	up = right.Cross(direction).Normalize()

	angle := math32.Acos(max(-1, min(1, unitY.Dot(up))))
	return Orbit{
		Center:      center,
		Distance:    distance,
		AngleOfView: spec.AngleOfView,
		Rotation:    vecmath.AxisAngle(direction, angle),
		Direction:   direction,
		Up:          up,
		Viewpoint:   viewpoint,
	}
}

// Drag applies the trackball rotation for a cursor drag from (x0, y0)
// to (x1, y1).
func (o *Orbit) Drag(x0, y0, x1, y1 float32) {
	o.Rotation = vecmath.Compose(vecmath.Trackball(x0, y0, x1, y1), o.Rotation)
	o.Up = o.Rotation.Rotate(unitY)
	o.Direction = o.Rotation.Rotate(unitZ)
	o.Viewpoint = o.Center.Sub(o.Direction.Scale(o.Distance))
}

// Camera returns the orbit as a camera record. The view direction
// carries the distance, so the center stays recoverable.
func (o *Orbit) Camera() scene.CameraSpec {
	direction := o.Direction.Scale(o.Distance)
	return scene.CameraSpec{
		Viewpoint:     [3]float32{o.Viewpoint.X, o.Viewpoint.Y, o.Viewpoint.Z},
		ViewDirection: [3]float32{direction.X, direction.Y, direction.Z},
		ViewUp:        [3]float32{o.Up.X, o.Up.Y, o.Up.Z},
		AngleOfView:   o.AngleOfView,
	}
}
