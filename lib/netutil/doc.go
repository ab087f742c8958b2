// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides socket I/O helpers shared by the session
// server and the galaxy-ctl client.
//
// [WriteFrame] and [ReadFrame] implement the length-prefixed framing of
// the client control socket: a 4-byte little-endian payload length
// followed by the payload. [WriteFrameV] writes one frame from several
// slices without concatenating them first, which the pixel stream uses
// for its count/frame/pixels parts.
//
// [IsExpectedCloseError] classifies errors that occur when the peer
// simply went away, so callers can end a session quietly instead of
// reporting a transport failure.
package netutil
