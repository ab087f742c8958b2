// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"sync"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/wire"
)

// Pixel is one contribution to an image. Contributions to the same
// pixel add.
type Pixel struct {
	X, Y    int32
	R, G, B float32
	O       float32
}

// PixelSize is the encoded size of a Pixel.
const PixelSize = 24

// PixelFromRay returns the contribution of a surface-hit ray.
func PixelFromRay(ray *Ray) Pixel {
	return Pixel{
		X: ray.X, Y: ray.Y,
		R: ray.Color.X, G: ray.Color.Y, B: ray.Color.Z,
		O: ray.Opacity,
	}
}

// PutPixel appends p in its wire layout.
func PutPixel(w *wire.Writer, p Pixel) {
	w.PutInt32(p.X)
	w.PutInt32(p.Y)
	w.PutFloat32(p.R)
	w.PutFloat32(p.G)
	w.PutFloat32(p.B)
	w.PutFloat32(p.O)
}

// ReadPixel reads one pixel in its wire layout.
func ReadPixel(r *wire.Reader) Pixel {
	return Pixel{
		X: r.Int32(), Y: r.Int32(),
		R: r.Float32(), G: r.Float32(), B: r.Float32(),
		O: r.Float32(),
	}
}

// ReadPixels reads count pixels.
func ReadPixels(r *wire.Reader, count int) ([]Pixel, error) {
	if count < 0 || count*PixelSize > r.Remaining() {
		return nil, fmt.Errorf("pixel count %d does not fit %d bytes", count, r.Remaining())
	}
	pixels := make([]Pixel, count)
	for i := range pixels {
		pixels[i] = ReadPixel(r)
	}
	return pixels, r.Err()
}

// PixelSink receives the contributions for renderings owned by this
// rank, both traced locally and received from other ranks.
// Implementations must be safe for concurrent use.
type PixelSink interface {
	AddPixels(frame int32, rendering keyed.Key, pixels []Pixel)
}

// Framebuffer accumulates contributions into an RGBA image. Addition
// commutes, so the result does not depend on arrival order.
type Framebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	frame  int32
	rgba   []float32
}

// NewFramebuffer returns a cleared width×height framebuffer for frame.
func NewFramebuffer(width, height int, frame int32) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		frame:  frame,
		rgba:   make([]float32, 4*width*height),
	}
}

// AddPixels accumulates the pixels of frame. Pixels of other frames and
// pixels outside the image are ignored.
func (f *Framebuffer) AddPixels(frame int32, _ keyed.Key, pixels []Pixel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if frame != f.frame {
		return
	}
	for _, p := range pixels {
		if p.X < 0 || p.Y < 0 || int(p.X) >= f.width || int(p.Y) >= f.height {
			continue
		}
		offset := 4 * (int(p.Y)*f.width + int(p.X))
		f.rgba[offset] += p.R
		f.rgba[offset+1] += p.G
		f.rgba[offset+2] += p.B
		f.rgba[offset+3] += p.O
	}
}

// At returns the accumulated RGBA of pixel (x, y).
func (f *Framebuffer) At(x, y int) [4]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := 4 * (y*f.width + x)
	return [4]float32{f.rgba[offset], f.rgba[offset+1], f.rgba[offset+2], f.rgba[offset+3]}
}

// Snapshot returns a copy of the accumulated image.
func (f *Framebuffer) Snapshot() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float32(nil), f.rgba...)
}
