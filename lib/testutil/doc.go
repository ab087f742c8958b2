// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Galaxy packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the
// select-with-timeout pattern so multi-rank tests fail with a message
// instead of hanging when a barrier or a pixel stream never completes.
// They are the only place the test suite waits on wall-clock time.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [UniqueID] returns monotonically increasing identifiers for test
// disambiguation.
//
// All helpers call t.Fatalf on failure.
package testutil
