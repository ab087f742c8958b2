// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io"

	"github.com/galaxy-foundation/galaxy/lib/netutil"
	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// Op is a control operation code.
type Op int32

const (
	OpStart       Op = 1
	OpQuit        Op = 2
	OpRenderOne   Op = 3
	OpMouseDown   Op = 4
	OpMouseMotion Op = 5
	OpDebug       Op = 6
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "START"
	case OpQuit:
		return "QUIT"
	case OpRenderOne:
		return "RENDER_ONE"
	case OpMouseDown:
		return "MOUSEDOWN"
	case OpMouseMotion:
		return "MOUSEMOTION"
	case OpDebug:
		return "DEBUG"
	default:
		return fmt.Sprintf("Op(%d)", int32(o))
	}
}

// Control is one control message. Width, Height and StateFile belong
// to START; X and Y to MOUSEDOWN and MOUSEMOTION.
type Control struct {
	Op        Op
	Width     int32
	Height    int32
	StateFile string
	X, Y      float32
}

// Encode returns the message payload without its length prefix.
func (c Control) Encode() []byte {
	w := wire.NewWriter(make([]byte, 0, 16+len(c.StateFile)))
	w.PutInt32(int32(c.Op))
	switch c.Op {
	case OpStart:
		w.PutInt32(c.Width)
		w.PutInt32(c.Height)
		w.PutCString(c.StateFile)
	case OpMouseDown, OpMouseMotion:
		w.PutFloat32(c.X)
		w.PutFloat32(c.Y)
	}
	return w.Bytes()
}

// DecodeControl parses a control payload. Malformed payloads wrap
// work.ErrProtocolViolation.
func DecodeControl(data []byte) (Control, error) {
	r := wire.NewReader(data)
	control := Control{Op: Op(r.Int32())}
	switch control.Op {
	case OpStart:
		control.Width = r.Int32()
		control.Height = r.Int32()
		control.StateFile = r.CString()
		if r.Err() == nil && (control.Width <= 0 || control.Height <= 0 ||
			control.Width > scene.MaxImageSide || control.Height > scene.MaxImageSide) {
			return Control{}, fmt.Errorf("%w: START size %dx%d", work.ErrProtocolViolation, control.Width, control.Height)
		}
	case OpMouseDown, OpMouseMotion:
		control.X = r.Float32()
		control.Y = r.Float32()
	case OpQuit, OpRenderOne, OpDebug:
	default:
		if r.Err() == nil {
			return Control{}, fmt.Errorf("%w: unknown op %d", work.ErrProtocolViolation, int32(control.Op))
		}
	}
	if err := r.Err(); err != nil {
		return Control{}, fmt.Errorf("%w: %s message: %w", work.ErrProtocolViolation, control.Op, err)
	}
	return control, nil
}

// WriteControl writes one length-prefixed control message.
func WriteControl(w io.Writer, control Control) error {
	return netutil.WriteFrame(w, control.Encode())
}

// ReadControl reads and decodes one control message.
func ReadControl(r io.Reader) (Control, error) {
	data, err := netutil.ReadFrame(r)
	if err != nil {
		return Control{}, err
	}
	return DecodeControl(data)
}

// pixelHeaderSize is the size of the {count, frame} pixel batch header.
const pixelHeaderSize = 8

// encodePixels returns the header and body of a pixel batch.
func encodePixels(frame int32, pixels []render.Pixel) ([]byte, []byte) {
	header := wire.NewWriter(make([]byte, 0, pixelHeaderSize))
	header.PutInt32(int32(len(pixels)))
	header.PutInt32(frame)
	body := wire.NewWriter(make([]byte, 0, len(pixels)*render.PixelSize))
	for _, pixel := range pixels {
		render.PutPixel(body, pixel)
	}
	return header.Bytes(), body.Bytes()
}

// WritePixels writes one length-prefixed pixel batch.
func WritePixels(w io.Writer, frame int32, pixels []render.Pixel) error {
	header, body := encodePixels(frame, pixels)
	return netutil.WriteFrameV(w, header, body)
}

// ReadPixels reads one pixel batch from the stream.
func ReadPixels(r io.Reader) (int32, []render.Pixel, error) {
	data, err := netutil.ReadFrame(r)
	if err != nil {
		return 0, nil, err
	}
	reader := wire.NewReader(data)
	count := int(reader.Int32())
	frame := reader.Int32()
	if err := reader.Err(); err != nil {
		return 0, nil, fmt.Errorf("%w: pixel batch header: %w", work.ErrProtocolViolation, err)
	}
	pixels, err := render.ReadPixels(reader, count)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: pixel batch: %w", work.ErrProtocolViolation, err)
	}
	return frame, pixels, nil
}
