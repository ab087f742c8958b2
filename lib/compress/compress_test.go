// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// pixelLikePayload builds a run of little-endian int32/float32 records
// shaped like pixel contributions.
func pixelLikePayload(count int) []byte {
	data := make([]byte, 0, count*24)
	for i := 0; i < count; i++ {
		data = binary.LittleEndian.AppendUint32(data, uint32(i%64))
		data = binary.LittleEndian.AppendUint32(data, uint32(i/64))
		for channel := 0; channel < 4; channel++ {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(0.5))
		}
	}
	return data
}

func TestRoundTripEveryTag(t *testing.T) {
	payload := pixelLikePayload(512)
	for _, tag := range []Tag{None, LZ4, Zstd, BG4LZ4} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := Compress(payload, tag)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if tag != None && len(compressed) >= len(payload) {
				t.Errorf("compressed size %d not smaller than %d", len(compressed), len(payload))
			}
			restored, err := Decompress(compressed, tag, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Error("round trip changed the payload")
			}
		})
	}
}

func TestIncompressibleInput(t *testing.T) {
	_, err := Compress([]byte{1, 2, 3}, LZ4)
	if !errors.Is(err, ErrIncompressible) {
		t.Fatalf("Compress of tiny input: err = %v, want ErrIncompressible", err)
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	payload := pixelLikePayload(64)
	compressed, err := Compress(payload, LZ4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(compressed, LZ4, len(payload)+1); err == nil {
		t.Error("Decompress accepted the wrong uncompressed size")
	}
}

func TestBG4TransposeWithTrailingBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := bg4Untranspose(bg4Transpose(data)); !bytes.Equal(got, data) {
		t.Errorf("transpose round trip = %v, want %v", got, data)
	}
}

func TestZstdStream(t *testing.T) {
	document := bytes.Repeat([]byte(`{"Datasets": [{"name": "oneBall"}]} `), 32)
	compressed, err := Compress(document, Zstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	restored, err := DecompressZstdStream(compressed)
	if err != nil {
		t.Fatalf("DecompressZstdStream: %v", err)
	}
	if !bytes.Equal(restored, document) {
		t.Error("stream decode changed the document")
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range []Tag{None, LZ4, Zstd, BG4LZ4} {
		parsed, err := ParseTag(tag.String())
		if err != nil || parsed != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), parsed, err)
		}
	}
	if _, err := ParseTag("gzip"); err == nil {
		t.Error("ParseTag accepted an unknown name")
	}
}
