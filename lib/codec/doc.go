// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Galaxy's standard CBOR encoding configuration.
//
// Galaxy uses two serialization formats with a clear boundary:
//
//   - The ordered little-endian layout in lib/wire for everything that
//     crosses the hot path: distributed object state, work messages,
//     ray batches, pixel contributions and the client control
//     protocol. Those layouts are fixed by the renderer protocol.
//   - CBOR for control-plane envelopes: the rank transport handshake
//     and the admin socket request/response protocol.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so two
// ranks encoding the same handshake produce identical bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only ever travel as CBOR carry `cbor` struct tags.
package codec
