// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"
	"fmt"
	"sync"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/work"
)

func putVec3(w *wire.Writer, v vecmath.Vec3) {
	w.PutFloat32(v.X)
	w.PutFloat32(v.Y)
	w.PutFloat32(v.Z)
}

func readVec3(r *wire.Reader) vecmath.Vec3 {
	return vecmath.Vec3{X: r.Float32(), Y: r.Float32(), Z: r.Float32()}
}

func putKey(w *wire.Writer, key keyed.Key) { w.PutInt64(int64(key)) }

func readKey(r *wire.Reader) keyed.Key { return keyed.Key(r.Int64()) }

// Camera is a pinhole camera. ViewDirection is not normalized: its
// length is the distance from the viewpoint to the point the camera
// orbits.
type Camera struct {
	key           keyed.Key
	Viewpoint     vecmath.Vec3
	ViewDirection vecmath.Vec3
	ViewUp        vecmath.Vec3
	AngleOfView   float32
}

func (c *Camera) Key() keyed.Key { return c.key }

func (c *Camera) Serialize(w *wire.Writer) {
	putVec3(w, c.Viewpoint)
	putVec3(w, c.ViewDirection)
	putVec3(w, c.ViewUp)
	w.PutFloat32(c.AngleOfView)
}

func (c *Camera) Deserialize(r *wire.Reader) error {
	c.Viewpoint = readVec3(r)
	c.ViewDirection = readVec3(r)
	c.ViewUp = readVec3(r)
	c.AngleOfView = r.Float32()
	return r.Err()
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min vecmath.Vec3
	Max vecmath.Vec3
}

// Center returns the midpoint of the box.
func (b Bounds) Center() vecmath.Vec3 { return b.Min.Add(b.Max).Scale(0.5) }

// Dataset is one named piece of partitioned scene data. Only its extent
// is replicated; the data itself stays with the ranks that own it.
type Dataset struct {
	key    keyed.Key
	Name   string
	Bounds Bounds
}

func (d *Dataset) Key() keyed.Key { return d.key }

func (d *Dataset) Serialize(w *wire.Writer) {
	w.PutString(d.Name)
	putVec3(w, d.Bounds.Min)
	putVec3(w, d.Bounds.Max)
}

func (d *Dataset) Deserialize(r *wire.Reader) error {
	d.Name = r.String()
	d.Bounds.Min = readVec3(r)
	d.Bounds.Max = readVec3(r)
	return r.Err()
}

// DatasetEntry names a dataset in a Datasets collection.
type DatasetEntry struct {
	Name string
	Key  keyed.Key
}

// Datasets is the collection of datasets a render can draw from.
type Datasets struct {
	key     keyed.Key
	Entries []DatasetEntry
}

func (d *Datasets) Key() keyed.Key { return d.key }

// Add appends a dataset under name.
func (d *Datasets) Add(name string, key keyed.Key) {
	d.Entries = append(d.Entries, DatasetEntry{Name: name, Key: key})
}

// Keys returns the collection's key followed by its datasets' keys.
func (d *Datasets) Keys() []keyed.Key {
	keys := []keyed.Key{d.key}
	for _, entry := range d.Entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

// Lookup returns the key of the dataset called name.
func (d *Datasets) Lookup(name string) (keyed.Key, bool) {
	for _, entry := range d.Entries {
		if entry.Name == name {
			return entry.Key, true
		}
	}
	return keyed.NoKey, false
}

func (d *Datasets) Serialize(w *wire.Writer) {
	w.PutInt32(int32(len(d.Entries)))
	for _, entry := range d.Entries {
		w.PutString(entry.Name)
		putKey(w, entry.Key)
	}
}

func (d *Datasets) Deserialize(r *wire.Reader) error {
	count := int(r.Int32())
	if count < 0 || count > r.Remaining() {
		return fmt.Errorf("datasets: bad entry count %d", count)
	}
	d.Entries = make([]DatasetEntry, 0, count)
	for range count {
		d.Entries = append(d.Entries, DatasetEntry{Name: r.String(), Key: readKey(r)})
	}
	return r.Err()
}

// VisKind selects what a visualization extracts from its dataset.
type VisKind uint8

const (
	// VisIsosurface extracts the surface where the field equals
	// Isovalue.
	VisIsosurface VisKind = 0

	// VisGradient samples points where the field gradient magnitude
	// exceeds Tolerance.
	VisGradient VisKind = 1

	// VisSurface renders the dataset's boundary.
	VisSurface VisKind = 2
)

func (k VisKind) String() string {
	switch k {
	case VisIsosurface:
		return "isosurface"
	case VisGradient:
		return "gradient"
	case VisSurface:
		return "surface"
	default:
		return fmt.Sprintf("VisKind(%d)", uint8(k))
	}
}

// ParseVisKind parses the document name of a visualization kind.
func ParseVisKind(name string) (VisKind, error) {
	switch name {
	case "isosurface", "iso", "":
		return VisIsosurface, nil
	case "gradient":
		return VisGradient, nil
	case "surface":
		return VisSurface, nil
	default:
		return 0, fmt.Errorf("unknown visualization kind %q", name)
	}
}

// Visualization describes how to draw one dataset.
type Visualization struct {
	key       keyed.Key
	Dataset   string
	Kind      VisKind
	Isovalue  float32
	Tolerance float32
	Color     vecmath.Vec3
}

func (v *Visualization) Key() keyed.Key { return v.key }

func (v *Visualization) Serialize(w *wire.Writer) {
	w.PutString(v.Dataset)
	w.PutUint8(uint8(v.Kind))
	w.PutFloat32(v.Isovalue)
	w.PutFloat32(v.Tolerance)
	putVec3(w, v.Color)
}

func (v *Visualization) Deserialize(r *wire.Reader) error {
	v.Dataset = r.String()
	v.Kind = VisKind(r.Uint8())
	v.Isovalue = r.Float32()
	v.Tolerance = r.Float32()
	v.Color = readVec3(r)
	return r.Err()
}

// Rendering binds a camera, datasets and a visualization to one image
// of one frame. Pixel contributions go to the Owner rank.
type Rendering struct {
	key keyed.Key

	// rank is the rank holding this replica.
	rank int

	Owner         int32
	Width         int32
	Height        int32
	Frame         int32
	Camera        keyed.Key
	Datasets      keyed.Key
	Visualization keyed.Key
	RenderingSet  keyed.Key
}

func (r *Rendering) Key() keyed.Key { return r.key }

// MaxImageSide bounds the width and height of a rendering.
const MaxImageSide = 16384

// CheckImageSize rejects a negative size or a side above MaxImageSide
// with work.ErrProtocolViolation.
func CheckImageSize(width, height int32) error {
	if width < 0 || height < 0 || width > MaxImageSide || height > MaxImageSide {
		return fmt.Errorf("%w: image size %dx%d outside 0..%d", work.ErrProtocolViolation, width, height, MaxImageSide)
	}
	return nil
}

// IsLocal reports whether this rank owns the rendering.
func (r *Rendering) IsLocal() bool { return int(r.Owner) == r.rank }

func (r *Rendering) Serialize(w *wire.Writer) {
	w.PutInt32(r.Owner)
	w.PutInt32(r.Width)
	w.PutInt32(r.Height)
	w.PutInt32(r.Frame)
	putKey(w, r.Camera)
	putKey(w, r.Datasets)
	putKey(w, r.Visualization)
	putKey(w, r.RenderingSet)
}

func (r *Rendering) Deserialize(reader *wire.Reader) error {
	r.Owner = reader.Int32()
	r.Width = reader.Int32()
	r.Height = reader.Int32()
	r.Frame = reader.Int32()
	r.Camera = readKey(reader)
	r.Datasets = readKey(reader)
	r.Visualization = readKey(reader)
	r.RenderingSet = readKey(reader)
	if err := reader.Err(); err != nil {
		return err
	}
	return CheckImageSize(r.Width, r.Height)
}

// RenderingSet is the unit of collective rendering: one frame of one or
// more renderings. Frame activity is answered by the rank's tracker.
type RenderingSet struct {
	key     keyed.Key
	tracker *FrameTracker

	Frame      int32
	Renderings []keyed.Key
}

func (s *RenderingSet) Key() keyed.Key { return s.key }

// Add appends a rendering to the set.
func (s *RenderingSet) Add(rendering keyed.Key) {
	s.Renderings = append(s.Renderings, rendering)
}

// IsActive reports whether frame still accepts contributions on this
// rank.
func (s *RenderingSet) IsActive(frame int32) bool {
	return s.tracker.IsActive(frame)
}

// WaitForDone blocks until the set's frame is complete or retired.
func (s *RenderingSet) WaitForDone(ctx context.Context) (FrameState, error) {
	return s.tracker.Wait(ctx, s.Frame)
}

func (s *RenderingSet) Serialize(w *wire.Writer) {
	w.PutInt32(s.Frame)
	w.PutInt32(int32(len(s.Renderings)))
	for _, key := range s.Renderings {
		putKey(w, key)
	}
}

func (s *RenderingSet) Deserialize(r *wire.Reader) error {
	s.Frame = r.Int32()
	count := int(r.Int32())
	if count < 0 || count*8 > r.Remaining() {
		return fmt.Errorf("rendering set: bad rendering count %d", count)
	}
	s.Renderings = make([]keyed.Key, count)
	for i := range s.Renderings {
		s.Renderings[i] = readKey(r)
	}
	return r.Err()
}

// Particle is one sample point.
type Particle struct {
	Position vecmath.Vec3 `cbor:"position"`
	Value    float32      `cbor:"value"`
}

// Particles is a set of sample points. Appends from concurrent ray
// batches are serialized by the caller holding Lock.
type Particles struct {
	key keyed.Key

	mu        sync.Mutex
	particles []Particle
}

func (p *Particles) Key() keyed.Key { return p.key }

// Lock acquires the set for appending.
func (p *Particles) Lock() { p.mu.Lock() }

// Unlock releases the set.
func (p *Particles) Unlock() { p.mu.Unlock() }

// Append adds a particle. The caller holds Lock.
func (p *Particles) Append(particle Particle) {
	p.particles = append(p.particles, particle)
}

// Len returns the number of particles.
func (p *Particles) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.particles)
}

// Snapshot returns a copy of the particles.
func (p *Particles) Snapshot() []Particle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Particle(nil), p.particles...)
}

// Clear removes every particle.
func (p *Particles) Clear() {
	p.mu.Lock()
	p.particles = p.particles[:0]
	p.mu.Unlock()
}

func (p *Particles) Serialize(w *wire.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.PutInt32(int32(len(p.particles)))
	for _, particle := range p.particles {
		putVec3(w, particle.Position)
		w.PutFloat32(particle.Value)
	}
}

func (p *Particles) Deserialize(r *wire.Reader) error {
	count := int(r.Int32())
	if count < 0 || count*16 > r.Remaining() {
		return fmt.Errorf("particles: bad particle count %d", count)
	}
	particles := make([]Particle, count)
	for i := range particles {
		particles[i] = Particle{Position: readVec3(r), Value: r.Float32()}
	}
	if err := r.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.particles = particles
	p.mu.Unlock()
	return nil
}
