// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrameLength bounds a single control or pixel frame. A full-HD
// frame of pixel records is under 50 MB; anything beyond this is a
// corrupt length prefix.
const MaxFrameLength = 64 << 20

// WriteFrame writes payload preceded by its 4-byte little-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	return WriteFrameV(w, payload)
}

// WriteFrameV writes a single frame whose payload is the concatenation
// of parts. On a net.Conn the parts go out in one writev call.
func WriteFrameV(w io.Writer, parts ...[]byte) error {
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	if total > MaxFrameLength {
		return fmt.Errorf("frame length %d exceeds maximum %d", total, MaxFrameLength)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(total))

	buffers := make(net.Buffers, 0, len(parts)+1)
	buffers = append(buffers, header[:])
	for _, part := range parts {
		if len(part) > 0 {
			buffers = append(buffers, part)
		}
	}
	if _, err := buffers.WriteTo(w); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameLength {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
