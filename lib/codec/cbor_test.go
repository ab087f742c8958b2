// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleHello struct {
	Rank   int    `cbor:"rank"`
	Size   int    `cbor:"size"`
	Digest []byte `cbor:"digest"`
	Note   string `cbor:"note,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleHello{Rank: 2, Size: 4, Digest: []byte{0xde, 0xad}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleHello
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Rank != original.Rank || decoded.Size != original.Size ||
		!bytes.Equal(decoded.Digest, original.Digest) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"size": 3, "rank": 1, "action": "status"}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	hellos := []sampleHello{
		{Rank: 0, Size: 2},
		{Rank: 1, Size: 2, Note: "late joiner"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, hello := range hellos {
		if err := encoder.Encode(hello); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range hellos {
		var got sampleHello
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got.Rank != want.Rank || got.Note != want.Note {
			t.Errorf("hello %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestAnyMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"frames": map[string]any{"3": 12}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["frames"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["frames"])
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var hello sampleHello
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &hello); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}
