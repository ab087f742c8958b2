// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package work

import "errors"

var (
	// ErrProtocolViolation means a peer sent something this rank cannot
	// interpret: an unregistered type index, an unknown frame kind, or
	// a malformed payload. It is fatal to the channel.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransportFailure means the rank transport failed. The channel
	// stops; nothing retries.
	ErrTransportFailure = errors.New("transport failure")

	// ErrNotAttached is returned by sends on a channel that has no
	// endpoint yet.
	ErrNotAttached = errors.New("work: channel has no endpoint")
)
