// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/scene"
)

// PrimaryRays generates the primary rays of rendering for the rows
// assigned to rank (y mod size == rank), split into lists of at most
// batchSize rays. Rays pass through pixel centers; the angle of view is
// vertical, in degrees.
func PrimaryRays(camera *scene.Camera, rendering *scene.Rendering, rank, size, batchSize int) []*RayList {
	width, height := int(rendering.Width), int(rendering.Height)
	if width <= 0 || height <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = width
	}

	forward := camera.ViewDirection.Normalize()
	right := forward.Cross(camera.ViewUp).Normalize()
	up := right.Cross(forward)
	halfHeight := math32.Tan(camera.AngleOfView * math32.Pi / 360)
	halfWidth := halfHeight * float32(width) / float32(height)

	var lists []*RayList
	current := newList(rendering, batchSize)
	for y := rank; y < height; y += size {
		v := (1 - 2*(float32(y)+0.5)/float32(height)) * halfHeight
		for x := range width {
			u := (2*(float32(x)+0.5)/float32(width) - 1) * halfWidth
			direction := forward.Add(right.Scale(u)).Add(up.Scale(v)).Normalize()
			current.Rays = append(current.Rays, Ray{
				Origin:    camera.Viewpoint,
				Direction: direction,
				X:         int32(x),
				Y:         int32(y),
			})
			if len(current.Rays) == batchSize {
				lists = append(lists, current)
				current = newList(rendering, batchSize)
			}
		}
	}
	if len(current.Rays) > 0 {
		lists = append(lists, current)
	}
	return lists
}

func newList(rendering *scene.Rendering, capacity int) *RayList {
	return &RayList{
		RenderingSet: rendering.RenderingSet,
		Rendering:    rendering.Key(),
		Frame:        rendering.Frame,
		Rays:         make([]Ray, 0, capacity),
	}
}

// ResolveDataset resolves the dataset a visualization draws.
func ResolveDataset(objects *scene.Objects, rendering *scene.Rendering, visualization *scene.Visualization) (*scene.Dataset, error) {
	datasets, err := objects.Datasets(rendering.Datasets)
	if err != nil {
		return nil, err
	}
	key, ok := datasets.Lookup(visualization.Dataset)
	if !ok {
		return nil, fmt.Errorf("dataset %q in datasets %d: %w", visualization.Dataset, rendering.Datasets, keyed.ErrNotFound)
	}
	return objects.Dataset(key)
}
