// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"

	"github.com/galaxy-foundation/galaxy/keyed"
)

// View names the committed state one rendering draws.
type View struct {
	Camera        keyed.Key
	Datasets      keyed.Key
	Visualization keyed.Key
	Width         int32
	Height        int32
}

// CommitFrame creates a rendering of view for frame, owned by this
// rank, and a rendering set holding it, and commits both. The frame is
// not started.
func (o *Objects) CommitFrame(ctx context.Context, view View, frame int32) (*RenderingSet, error) {
	if err := CheckImageSize(view.Width, view.Height); err != nil {
		return nil, err
	}
	set, err := o.NewRenderingSet()
	if err != nil {
		return nil, err
	}
	set.Frame = frame
	rendering, err := o.NewRendering()
	if err != nil {
		return nil, err
	}
	rendering.Width = view.Width
	rendering.Height = view.Height
	rendering.Frame = frame
	rendering.Camera = view.Camera
	rendering.Datasets = view.Datasets
	rendering.Visualization = view.Visualization
	rendering.RenderingSet = set.Key()
	if err := o.Registry.Commit(ctx, rendering.Key()); err != nil {
		return nil, err
	}
	set.Add(rendering.Key())
	if err := o.Registry.Commit(ctx, set.Key()); err != nil {
		return nil, err
	}
	return set, nil
}

// FrameKeys lists what CommitFrame and a per-frame camera add to the
// registry: the set, its renderings and their cameras.
func (o *Objects) FrameKeys(set *RenderingSet) ([]keyed.Key, error) {
	keys := []keyed.Key{set.Key()}
	for _, renderingKey := range set.Renderings {
		rendering, err := o.Rendering(renderingKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, renderingKey, rendering.Camera)
	}
	return keys, nil
}
