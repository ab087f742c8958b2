// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/scene"
)

// Request kinds.
const (
	RequestIsosurface = 0
	RequestGradient   = 1
)

// Request is a raycast sampling request.
type Request struct {
	Camera    scene.CameraSpec `json:"camera"`
	Type      int              `json:"type"`
	Isovalue  float32          `json:"isovalue"`
	Tolerance float32          `json:"tolerance"`
	Dataset   string           `json:"dataset"`
	Width     int32            `json:"width"`
	Height    int32            `json:"height"`
}

// Default image size of a request that names none.
const (
	DefaultWidth  = 256
	DefaultHeight = 256
)

// ParseRequest decodes a JSONC sampling request.
func ParseRequest(data []byte) (*Request, error) {
	var request Request
	if err := json.Unmarshal(jsonc.ToJSON(data), &request); err != nil {
		return nil, fmt.Errorf("parsing sampling request: %w", err)
	}
	if request.Type != RequestIsosurface && request.Type != RequestGradient {
		return nil, fmt.Errorf("sampling request: unknown type %d", request.Type)
	}
	if request.Dataset == "" {
		return nil, errors.New("sampling request: no dataset")
	}
	if err := scene.CheckImageSize(request.Width, request.Height); err != nil {
		return nil, fmt.Errorf("sampling request: %w", err)
	}
	if request.Width == 0 {
		request.Width = DefaultWidth
	}
	if request.Height == 0 {
		request.Height = DefaultHeight
	}
	return &request, nil
}

// Result summarizes a completed sampling request.
type Result struct {
	Frame     int32 `cbor:"frame"`
	Particles int   `cbor:"particles"`
}

// RunRequest samples request on every rank into s's particle set and
// commits the result. The request's rendering is owned by this rank;
// datasets must already be committed. frame must be newer than any
// frame started so far. The request's camera, visualization and frame
// objects are released on every rank before RunRequest returns.
func (s *Sampler) RunRequest(ctx context.Context, request *Request, datasets *scene.Datasets, frame int32) (result Result, err error) {
	service := s.service
	objects := service.objects

	var transient []keyed.Key
	defer func() {
		if releaseErr := objects.Registry.Release(ctx, transient...); err == nil {
			err = releaseErr
		}
	}()

	camera, err := objects.NewCameraFrom(request.Camera)
	if err != nil {
		return Result{}, err
	}
	transient = append(transient, camera.Key())
	if err := objects.Registry.Commit(ctx, camera.Key()); err != nil {
		return Result{}, err
	}

	spec := scene.VisualizationSpec{
		Dataset:   request.Dataset,
		Type:      "isosurface",
		Isovalue:  request.Isovalue,
		Tolerance: request.Tolerance,
		Color:     [3]float32{1, 1, 1},
	}
	if request.Type == RequestGradient {
		spec.Type = "gradient"
	}
	visualization, err := objects.CommitVisualization(ctx, spec)
	if err != nil {
		return Result{}, err
	}
	transient = append(transient, visualization.Key())

	set, err := objects.CommitFrame(ctx, scene.View{
		Camera:        camera.Key(),
		Datasets:      datasets.Key(),
		Visualization: visualization.Key(),
		Width:         request.Width,
		Height:        request.Height,
	}, frame)
	if err != nil {
		return Result{}, err
	}
	transient = append(transient, set.Key())
	transient = append(transient, set.Renderings...)

	samples, err := s.Particles()
	if err != nil {
		return Result{}, err
	}
	samples.Clear()
	if err := objects.Registry.Commit(ctx, samples.Key()); err != nil {
		return Result{}, err
	}
	if err := objects.Registry.Commit(ctx, s.key); err != nil {
		return Result{}, err
	}

	if err := objects.Tracker.Start(frame); err != nil {
		return Result{}, err
	}
	if err := s.Sample(ctx, set); err != nil {
		return Result{}, err
	}
	state, err := set.WaitForDone(ctx)
	if err != nil {
		return Result{}, err
	}
	if state != scene.FrameComplete {
		return Result{}, fmt.Errorf("sampling frame %d ended %s", frame, state)
	}

	if err := objects.Registry.Commit(ctx, samples.Key()); err != nil {
		return Result{}, err
	}
	result = Result{Frame: frame, Particles: samples.Len()}
	service.logger.Info("sampling complete", "frame", frame, "particles", result.Particles)
	return result, nil
}
