// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the CBOR request/response socket used to
// operate a running Galaxy server.
//
// A [SocketServer] listens on a Unix socket. Each connection carries one
// CBOR request map with an "action" field and receives one [Response]
// envelope: {ok, error, data}. Handlers are registered per action with
// [SocketServer.Handle] and decode their own request fields from the raw
// request. [Client] is the matching caller; it opens one connection per
// [Client.Call].
//
// Access control is the socket file's permissions. There is no
// authentication on the wire.
package service
