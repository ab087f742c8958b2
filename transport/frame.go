// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/galaxy-foundation/galaxy/lib/compress"
)

// headerSize is the fixed TCP frame header:
//
//	[kind:u8][flags:u8][type:u32][sender:i32][seq:u64][len:u32]
//
// flags holds the lib/compress tag of the payload. A compressed payload
// starts with its uncompressed length as a u32.
const headerSize = 22

// maxPayload bounds a single frame's payload as read from the wire.
const maxPayload = 256 << 20

type header struct {
	kind     Kind
	flags    compress.Tag
	typ      uint32
	sender   int32
	sequence uint64
	length   uint32
}

func (h header) encode(buffer *[headerSize]byte) {
	buffer[0] = byte(h.kind)
	buffer[1] = byte(h.flags)
	binary.LittleEndian.PutUint32(buffer[2:6], h.typ)
	binary.LittleEndian.PutUint32(buffer[6:10], uint32(h.sender))
	binary.LittleEndian.PutUint64(buffer[10:18], h.sequence)
	binary.LittleEndian.PutUint32(buffer[18:22], h.length)
}

func decodeHeader(buffer *[headerSize]byte) header {
	return header{
		kind:     Kind(buffer[0]),
		flags:    compress.Tag(buffer[1]),
		typ:      binary.LittleEndian.Uint32(buffer[2:6]),
		sender:   int32(binary.LittleEndian.Uint32(buffer[6:10])),
		sequence: binary.LittleEndian.Uint64(buffer[10:18]),
		length:   binary.LittleEndian.Uint32(buffer[18:22]),
	}
}

// encodePayload returns the payload bytes to put on the wire and the
// tag describing them. Payloads at or below threshold, and payloads the
// algorithm cannot shrink, go out uncompressed.
func encodePayload(payload []byte, tag compress.Tag, threshold int) ([]byte, compress.Tag, error) {
	if tag == compress.None || len(payload) <= threshold {
		return payload, compress.None, nil
	}
	compressed, err := compress.Compress(payload, tag)
	if errors.Is(err, compress.ErrIncompressible) {
		return payload, compress.None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if len(compressed)+4 >= len(payload) {
		return payload, compress.None, nil
	}
	body := make([]byte, 4+len(compressed))
	binary.LittleEndian.PutUint32(body, uint32(len(payload)))
	copy(body[4:], compressed)
	return body, tag, nil
}

// readFrame reads one frame from r, decompressing its payload.
func readFrame(r io.Reader) (Frame, error) {
	var buffer [headerSize]byte
	if _, err := io.ReadFull(r, buffer[:]); err != nil {
		return Frame{}, err
	}
	h := decodeHeader(&buffer)
	if h.length > maxPayload {
		return Frame{}, fmt.Errorf("frame payload length %d exceeds maximum %d", h.length, maxPayload)
	}
	body := make([]byte, h.length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	if h.flags != compress.None {
		if len(body) < 4 {
			return Frame{}, fmt.Errorf("compressed %s frame shorter than its size prefix", h.kind)
		}
		size := binary.LittleEndian.Uint32(body)
		if size > maxPayload {
			return Frame{}, fmt.Errorf("uncompressed payload length %d exceeds maximum %d", size, maxPayload)
		}
		decompressed, err := compress.Decompress(body[4:], h.flags, int(size))
		if err != nil {
			return Frame{}, fmt.Errorf("decompress %s frame: %w", h.kind, err)
		}
		body = decompressed
	}
	return Frame{
		Kind:     h.kind,
		Type:     h.typ,
		Sender:   h.sender,
		Sequence: h.sequence,
		Payload:  body,
	}, nil
}
