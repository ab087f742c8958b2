// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"
	"slices"
	"sync"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/lib/wire"
)

// Segment is one continuous piece of a particle trajectory: its points
// and the integration time at each point.
type Segment struct {
	Points []vecmath.Vec3
	Times  []float32
}

// Trajectories holds traced particle trajectories by particle id. Each
// rank fills its own partition; a commit replicates the committing
// rank's partition.
type Trajectories struct {
	key keyed.Key

	mu       sync.Mutex
	segments map[int32][]Segment
}

func (t *Trajectories) Key() keyed.Key { return t.key }

// Add appends segment to particle id's trajectory. Points and Times
// must have the same length.
func (t *Trajectories) Add(id int32, segment Segment) error {
	if len(segment.Points) != len(segment.Times) {
		return fmt.Errorf("trajectory %d: %d points with %d times", id, len(segment.Points), len(segment.Times))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.segments == nil {
		t.segments = make(map[int32][]Segment)
	}
	t.segments[id] = append(t.segments[id], Segment{
		Points: slices.Clone(segment.Points),
		Times:  slices.Clone(segment.Times),
	})
	return nil
}

// IDs returns the particle ids with a trajectory, ascending.
func (t *Trajectories) IDs() []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int32, 0, len(t.segments))
	for id := range t.segments {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Trajectory returns the segments of particle id.
func (t *Trajectories) Trajectory(id int32) []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.segments[id])
}

// Clear removes every trajectory.
func (t *Trajectories) Clear() {
	t.mu.Lock()
	t.segments = nil
	t.mu.Unlock()
}

func (t *Trajectories) Serialize(w *wire.Writer) {
	ids := t.IDs()
	t.mu.Lock()
	defer t.mu.Unlock()
	w.PutInt32(int32(len(ids)))
	for _, id := range ids {
		segments := t.segments[id]
		w.PutInt32(id)
		w.PutInt32(int32(len(segments)))
		for _, segment := range segments {
			w.PutInt32(int32(len(segment.Points)))
			for i, point := range segment.Points {
				putVec3(w, point)
				w.PutFloat32(segment.Times[i])
			}
		}
	}
}

func (t *Trajectories) Deserialize(r *wire.Reader) error {
	count := int(r.Int32())
	if count < 0 || count*8 > r.Remaining() {
		return fmt.Errorf("trajectories: bad trajectory count %d", count)
	}
	segments := make(map[int32][]Segment, count)
	for range count {
		id := r.Int32()
		n := int(r.Int32())
		if n < 0 || n*4 > r.Remaining() {
			return fmt.Errorf("trajectory %d: bad segment count %d", id, n)
		}
		for range n {
			points := int(r.Int32())
			if points < 0 || points*16 > r.Remaining() {
				return fmt.Errorf("trajectory %d: bad point count %d", id, points)
			}
			segment := Segment{Points: make([]vecmath.Vec3, points), Times: make([]float32, points)}
			for i := range points {
				segment.Points[i] = readVec3(r)
				segment.Times[i] = r.Float32()
			}
			segments[id] = append(segments[id], segment)
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.segments = segments
	t.mu.Unlock()
	return nil
}

// PathLines is line geometry. Vertices carry a Data value each, and
// every entry of Connectivity names the first vertex of a link joining
// vertex i to vertex i+1.
type PathLines struct {
	key keyed.Key

	mu           sync.Mutex
	vertices     []vecmath.Vec3
	data         []float32
	connectivity []int32
}

func (p *PathLines) Key() keyed.Key { return p.key }

// Build replaces the geometry with the trajectories of t, one polyline
// per segment in ascending particle id order. A segment's times become
// its vertices' data.
func (p *PathLines) Build(t *Trajectories) {
	ids := t.IDs()
	var vertices, links int
	for _, id := range ids {
		for _, segment := range t.Trajectory(id) {
			if len(segment.Points) > 0 {
				vertices += len(segment.Points)
				links += len(segment.Points) - 1
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.vertices = make([]vecmath.Vec3, 0, vertices)
	p.data = make([]float32, 0, vertices)
	p.connectivity = make([]int32, 0, links)
	for _, id := range ids {
		for _, segment := range t.Trajectory(id) {
			first := len(p.vertices)
			p.vertices = append(p.vertices, segment.Points...)
			p.data = append(p.data, segment.Times...)
			for i := range max(len(segment.Points)-1, 0) {
				p.connectivity = append(p.connectivity, int32(first+i))
			}
		}
	}
}

// Geometry returns copies of the vertices, their data and the link
// starts.
func (p *PathLines) Geometry() (vertices []vecmath.Vec3, data []float32, connectivity []int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.vertices), slices.Clone(p.data), slices.Clone(p.connectivity)
}

// Links returns the number of links.
func (p *PathLines) Links() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connectivity)
}

func (p *PathLines) Serialize(w *wire.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.PutInt32(int32(len(p.vertices)))
	for i, vertex := range p.vertices {
		putVec3(w, vertex)
		w.PutFloat32(p.data[i])
	}
	w.PutInt32(int32(len(p.connectivity)))
	for _, link := range p.connectivity {
		w.PutInt32(link)
	}
}

func (p *PathLines) Deserialize(r *wire.Reader) error {
	count := int(r.Int32())
	if count < 0 || count*16 > r.Remaining() {
		return fmt.Errorf("path lines: bad vertex count %d", count)
	}
	vertices := make([]vecmath.Vec3, count)
	data := make([]float32, count)
	for i := range count {
		vertices[i] = readVec3(r)
		data[i] = r.Float32()
	}
	links := int(r.Int32())
	if links < 0 || links*4 > r.Remaining() {
		return fmt.Errorf("path lines: bad link count %d", links)
	}
	connectivity := make([]int32, links)
	for i := range connectivity {
		connectivity[i] = r.Int32()
		if connectivity[i] < 0 || int(connectivity[i]) >= count-1 {
			return fmt.Errorf("path lines: link %d starts at vertex %d of %d", i, connectivity[i], count)
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.vertices, p.data, p.connectivity = vertices, data, connectivity
	p.mu.Unlock()
	return nil
}
