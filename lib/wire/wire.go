// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire provides the ordered primitive encoding shared by every
// distributed object and work message. Fields are written in declaration
// order as fixed-width little-endian values with no tags or padding, so
// an encoding is only readable by code that knows the field order.
//
// [Writer] appends to a growable buffer. [Reader] consumes a byte slice
// and records the first error it hits; subsequent reads return zero
// values so decoders can read a full record and check [Reader.Err] once.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a Reader runs out of bytes before a
// field is complete.
var ErrShortBuffer = errors.New("wire: short buffer")

// Writer appends fixed-width little-endian fields to a buffer.
type Writer struct {
	buffer []byte
}

// NewWriter returns a Writer appending to buffer[:0]. Passing a
// preallocated slice avoids growth when the final size is known.
func NewWriter(buffer []byte) *Writer {
	return &Writer{buffer: buffer[:0]}
}

// Bytes returns the encoded bytes. The slice aliases the Writer's
// buffer.
func (w *Writer) Bytes() []byte { return w.buffer }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buffer) }

func (w *Writer) PutUint8(v uint8) { w.buffer = append(w.buffer, v) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

func (w *Writer) PutUint32(v uint32) { w.buffer = binary.LittleEndian.AppendUint32(w.buffer, v) }

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

func (w *Writer) PutUint64(v uint64) { w.buffer = binary.LittleEndian.AppendUint64(w.buffer, v) }

func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

func (w *Writer) PutFloat32(v float32) { w.PutUint32(math.Float32bits(v)) }

// PutBytes writes a 4-byte length followed by the raw bytes.
func (w *Writer) PutBytes(v []byte) {
	w.PutUint32(uint32(len(v)))
	w.buffer = append(w.buffer, v...)
}

// PutString writes a length-prefixed string.
func (w *Writer) PutString(v string) {
	w.PutUint32(uint32(len(v)))
	w.buffer = append(w.buffer, v...)
}

// PutCString writes v followed by a NUL terminator, the layout used by
// the control protocol for file names.
func (w *Writer) PutCString(v string) {
	w.buffer = append(w.buffer, v...)
	w.buffer = append(w.buffer, 0)
}

// PutRaw appends bytes without a length prefix.
func (w *Writer) PutRaw(v []byte) { w.buffer = append(w.buffer, v...) }

// Reader consumes fixed-width little-endian fields from a byte slice.
type Reader struct {
	data   []byte
	offset int
	err    error
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.offset }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.data[r.offset:] }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.offset, r.Remaining())
		return nil
	}
	field := r.data[r.offset : r.offset+n]
	r.offset += n
	return field
}

func (r *Reader) Uint8() uint8 {
	field := r.take(1)
	if field == nil {
		return 0
	}
	return field[0]
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint32() uint32 {
	field := r.take(4)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(field)
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	field := r.take(8)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(field)
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

// Bytes reads a length-prefixed byte slice. The result aliases the
// Reader's input.
func (r *Reader) Bytes() []byte {
	length := r.Uint32()
	return r.take(int(length))
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Bytes())
}

// CString reads bytes up to and including a NUL terminator and returns
// them without the terminator. A missing terminator is an error.
func (r *Reader) CString() string {
	if r.err != nil {
		return ""
	}
	rest := r.Rest()
	for i, b := range rest {
		if b == 0 {
			r.offset += i + 1
			return string(rest[:i])
		}
	}
	r.err = fmt.Errorf("%w: unterminated string at offset %d", ErrShortBuffer, r.offset)
	return ""
}

// Raw reads n bytes without a length prefix.
func (r *Reader) Raw(n int) []byte { return r.take(n) }
