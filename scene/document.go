// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/galaxy-foundation/galaxy/lib/compress"
	"github.com/galaxy-foundation/galaxy/lib/vecmath"
)

// CameraSpec is a camera record in a state document.
type CameraSpec struct {
	Viewpoint     [3]float32 `json:"viewpoint"`
	ViewDirection [3]float32 `json:"viewdirection"`
	ViewUp        [3]float32 `json:"viewup"`
	AngleOfView   float32    `json:"aov"`
}

// DatasetSpec is a dataset record. A dataset without bounds spans the
// cube from -1 to 1 on every axis.
type DatasetSpec struct {
	Name string      `json:"name"`
	Min  *[3]float32 `json:"min,omitempty"`
	Max  *[3]float32 `json:"max,omitempty"`
}

// VisualizationSpec is a visualization record.
type VisualizationSpec struct {
	Dataset   string     `json:"dataset"`
	Type      string     `json:"type"`
	Isovalue  float32    `json:"isovalue"`
	Tolerance float32    `json:"tolerance"`
	Color     [3]float32 `json:"color"`
}

// Document is a parsed state document. Single records and lists may be
// mixed; the single record comes first.
type Document struct {
	Camera         *CameraSpec         `json:"Camera,omitempty"`
	Cameras        []CameraSpec        `json:"Cameras,omitempty"`
	Datasets       []DatasetSpec       `json:"Datasets"`
	Visualization  *VisualizationSpec  `json:"Visualization,omitempty"`
	Visualizations []VisualizationSpec `json:"Visualizations,omitempty"`
}

// AllCameras returns every camera record in document order.
func (d *Document) AllCameras() []CameraSpec {
	var cameras []CameraSpec
	if d.Camera != nil {
		cameras = append(cameras, *d.Camera)
	}
	return append(cameras, d.Cameras...)
}

// AllVisualizations returns every visualization record in document
// order.
func (d *Document) AllVisualizations() []VisualizationSpec {
	var visualizations []VisualizationSpec
	if d.Visualization != nil {
		visualizations = append(visualizations, *d.Visualization)
	}
	return append(visualizations, d.Visualizations...)
}

// ParseDocument strips JSONC comments and trailing commas from data and
// decodes a state document.
func ParseDocument(data []byte) (*Document, error) {
	var document Document
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("parsing state document: %w", err)
	}
	if err := document.validate(); err != nil {
		return nil, err
	}
	return &document, nil
}

func (d *Document) validate() error {
	if len(d.AllCameras()) == 0 {
		return errors.New("state document has no camera")
	}
	if len(d.AllVisualizations()) == 0 {
		return errors.New("state document has no visualization")
	}
	names := make(map[string]bool, len(d.Datasets))
	for _, dataset := range d.Datasets {
		if dataset.Name == "" {
			return errors.New("state document has a dataset without a name")
		}
		if names[dataset.Name] {
			return fmt.Errorf("state document names dataset %q twice", dataset.Name)
		}
		names[dataset.Name] = true
	}
	for _, visualization := range d.AllVisualizations() {
		if !names[visualization.Dataset] {
			return fmt.Errorf("visualization refers to unknown dataset %q", visualization.Dataset)
		}
		if _, err := ParseVisKind(visualization.Type); err != nil {
			return err
		}
	}
	return nil
}

// LoadDocument reads a state document from path. Paths ending in .zst
// are zstd-decompressed first.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".zst") {
		data, err = compress.DecompressZstdStream(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	document, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return document, nil
}

func vec(v [3]float32) vecmath.Vec3 { return vecmath.Vec3{X: v[0], Y: v[1], Z: v[2]} }

// NewCameraFrom creates an uncommitted camera from a document record.
func (o *Objects) NewCameraFrom(spec CameraSpec) (*Camera, error) {
	camera, err := o.NewCamera()
	if err != nil {
		return nil, err
	}
	camera.Viewpoint = vec(spec.Viewpoint)
	camera.ViewDirection = vec(spec.ViewDirection)
	camera.ViewUp = vec(spec.ViewUp)
	camera.AngleOfView = spec.AngleOfView
	return camera, nil
}

// CommitDatasets creates and commits every dataset of document and the
// collection naming them.
func (o *Objects) CommitDatasets(ctx context.Context, document *Document) (*Datasets, error) {
	collection, err := o.NewDatasets()
	if err != nil {
		return nil, err
	}
	for _, spec := range document.Datasets {
		dataset, err := o.NewDataset()
		if err != nil {
			return nil, err
		}
		dataset.Name = spec.Name
		dataset.Bounds = Bounds{Min: vecmath.V3(-1, -1, -1), Max: vecmath.V3(1, 1, 1)}
		if spec.Min != nil {
			dataset.Bounds.Min = vec(*spec.Min)
		}
		if spec.Max != nil {
			dataset.Bounds.Max = vec(*spec.Max)
		}
		if err := o.Registry.Commit(ctx, dataset.Key()); err != nil {
			return nil, err
		}
		collection.Add(spec.Name, dataset.Key())
	}
	if err := o.Registry.Commit(ctx, collection.Key()); err != nil {
		return nil, err
	}
	return collection, nil
}

// CommitVisualization creates and commits a visualization from a
// document record.
func (o *Objects) CommitVisualization(ctx context.Context, spec VisualizationSpec) (*Visualization, error) {
	kind, err := ParseVisKind(spec.Type)
	if err != nil {
		return nil, err
	}
	visualization, err := o.NewVisualization()
	if err != nil {
		return nil, err
	}
	visualization.Dataset = spec.Dataset
	visualization.Kind = kind
	visualization.Isovalue = spec.Isovalue
	visualization.Tolerance = spec.Tolerance
	visualization.Color = vec(spec.Color)
	if err := o.Registry.Commit(ctx, visualization.Key()); err != nil {
		return nil, err
	}
	return visualization, nil
}
