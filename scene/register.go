// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"

	"github.com/galaxy-foundation/galaxy/keyed"
)

// Objects is one rank's view of the scene object types.
type Objects struct {
	Registry *keyed.Registry
	Tracker  *FrameTracker

	rank int

	camera        keyed.TypeIndex
	dataset       keyed.TypeIndex
	datasets      keyed.TypeIndex
	visualization keyed.TypeIndex
	rendering     keyed.TypeIndex
	renderingSet  keyed.TypeIndex
	particles     keyed.TypeIndex
	trajectories  keyed.TypeIndex
	pathLines     keyed.TypeIndex
}

// Register adds the scene object types to registry. Every rank must
// call it at the same point of its registration sequence.
func Register(registry *keyed.Registry, tracker *FrameTracker, rank int) *Objects {
	objects := &Objects{Registry: registry, Tracker: tracker, rank: rank}
	objects.camera = registry.Register("scene.camera", func(key keyed.Key) keyed.Object {
		return &Camera{key: key}
	})
	objects.dataset = registry.Register("scene.dataset", func(key keyed.Key) keyed.Object {
		return &Dataset{key: key}
	})
	objects.datasets = registry.Register("scene.datasets", func(key keyed.Key) keyed.Object {
		return &Datasets{key: key}
	})
	objects.visualization = registry.Register("scene.visualization", func(key keyed.Key) keyed.Object {
		return &Visualization{key: key}
	})
	objects.rendering = registry.Register("scene.rendering", func(key keyed.Key) keyed.Object {
		return &Rendering{key: key, rank: rank}
	})
	objects.renderingSet = registry.Register("scene.renderingset", func(key keyed.Key) keyed.Object {
		return &RenderingSet{key: key, tracker: tracker}
	})
	objects.particles = registry.Register("scene.particles", func(key keyed.Key) keyed.Object {
		return &Particles{key: key}
	})
	objects.trajectories = registry.Register("scene.trajectories", func(key keyed.Key) keyed.Object {
		return &Trajectories{key: key}
	})
	objects.pathLines = registry.Register("scene.pathlines", func(key keyed.Key) keyed.Object {
		return &PathLines{key: key}
	})
	return objects
}

// Rank returns the rank these objects live on.
func (o *Objects) Rank() int { return o.rank }

func newOf[T keyed.Object](o *Objects, index keyed.TypeIndex) (T, error) {
	var zero T
	object, err := o.Registry.NewInstance(index)
	if err != nil {
		return zero, err
	}
	typed, ok := object.(T)
	if !ok {
		return zero, fmt.Errorf("type %d created %T", index, object)
	}
	return typed, nil
}

func (o *Objects) NewCamera() (*Camera, error) { return newOf[*Camera](o, o.camera) }

func (o *Objects) NewDataset() (*Dataset, error) { return newOf[*Dataset](o, o.dataset) }

func (o *Objects) NewDatasets() (*Datasets, error) { return newOf[*Datasets](o, o.datasets) }

func (o *Objects) NewVisualization() (*Visualization, error) {
	return newOf[*Visualization](o, o.visualization)
}

// NewRendering creates a rendering owned by this rank.
func (o *Objects) NewRendering() (*Rendering, error) {
	rendering, err := newOf[*Rendering](o, o.rendering)
	if err != nil {
		return nil, err
	}
	rendering.Owner = int32(o.rank)
	return rendering, nil
}

func (o *Objects) NewRenderingSet() (*RenderingSet, error) {
	return newOf[*RenderingSet](o, o.renderingSet)
}

func (o *Objects) NewParticles() (*Particles, error) { return newOf[*Particles](o, o.particles) }

func (o *Objects) NewTrajectories() (*Trajectories, error) {
	return newOf[*Trajectories](o, o.trajectories)
}

func (o *Objects) NewPathLines() (*PathLines, error) { return newOf[*PathLines](o, o.pathLines) }

// Camera returns the camera stored under key.
func (o *Objects) Camera(key keyed.Key) (*Camera, error) { return keyed.Get[*Camera](o.Registry, key) }

func (o *Objects) Dataset(key keyed.Key) (*Dataset, error) {
	return keyed.Get[*Dataset](o.Registry, key)
}

func (o *Objects) Datasets(key keyed.Key) (*Datasets, error) {
	return keyed.Get[*Datasets](o.Registry, key)
}

func (o *Objects) Visualization(key keyed.Key) (*Visualization, error) {
	return keyed.Get[*Visualization](o.Registry, key)
}

func (o *Objects) Rendering(key keyed.Key) (*Rendering, error) {
	return keyed.Get[*Rendering](o.Registry, key)
}

func (o *Objects) RenderingSet(key keyed.Key) (*RenderingSet, error) {
	return keyed.Get[*RenderingSet](o.Registry, key)
}

func (o *Objects) Particles(key keyed.Key) (*Particles, error) {
	return keyed.Get[*Particles](o.Registry, key)
}

func (o *Objects) Trajectories(key keyed.Key) (*Trajectories, error) {
	return keyed.Get[*Trajectories](o.Registry, key)
}

func (o *Objects) PathLines(key keyed.Key) (*PathLines, error) {
	return keyed.Get[*PathLines](o.Registry, key)
}
