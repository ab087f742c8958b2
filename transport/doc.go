// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves frames between the ranks of a render job.
//
// An [Endpoint] is one rank's view of the network: it can send a
// [Frame] to any rank (including itself) and receive frames addressed
// to it. The work package builds point-to-point sends, broadcasts and
// barriers on top of this interface; nothing above the work package
// touches an Endpoint directly.
//
// Two implementations exist:
//
//   - [MemoryNetwork] connects several ranks inside one process through
//     in-memory mailboxes. The server uses it when configured with
//     local ranks, and every multi-rank test uses it.
//   - [TCPEndpoint] connects one rank per process over a full TCP mesh.
//     Each connection starts with a CBOR hello carrying the rank, the
//     network size and the work-message registration digest; a
//     mismatch fails the connection with [ErrHandshake] before any work
//     frame is exchanged. Large payloads are compressed with the
//     configured lib/compress algorithm.
//
// Frames between a given pair of ranks arrive in send order. There is
// no ordering across different senders, and no acknowledgement at this
// layer.
package transport
