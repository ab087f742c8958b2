// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
)

// Kind distinguishes work frames from the channel's control frames.
// Values are protocol constants.
type Kind uint8

const (
	// KindWork carries a work message for dispatch to its Action.
	KindWork Kind = 1

	// KindAck reports that a rank finished the Action of a broadcast
	// that requested a completion barrier. Sequence identifies the
	// broadcast; a non-empty payload is the Action's error text.
	KindAck Kind = 2

	// KindArrive reports that a rank reached the collective barrier of
	// a broadcast. Type holds the broadcaster's rank and Sequence the
	// broadcast's sequence number.
	KindArrive Kind = 3

	// KindPing and KindPong measure round trips between ranks.
	KindPing Kind = 4
	KindPong Kind = 5

	// KindRelay carries a collective work message from its broadcaster
	// to rank 0, which fans it out to every rank as a work frame.
	KindRelay Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindWork:
		return "work"
	case KindAck:
		return "ack"
	case KindArrive:
		return "arrive"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Frame is the unit exchanged between ranks.
type Frame struct {
	Kind     Kind
	Type     uint32
	Sender   int32
	Sequence uint64
	Payload  []byte
}

// Endpoint is one rank's attachment to the rank network. Frames between
// any ordered pair of ranks are delivered in the order they were sent.
// Send to the endpoint's own rank loops back into its own Recv.
type Endpoint interface {
	// Rank returns this endpoint's rank in [0, Size).
	Rank() int

	// Size returns the number of ranks in the network.
	Size() int

	// Send delivers frame to rank to. The payload is copied or written
	// before Send returns, so the caller may reuse it.
	Send(ctx context.Context, to int, frame Frame) error

	// Recv blocks until a frame arrives, ctx is done, or the endpoint
	// fails. A failure is permanent: every later Recv returns it too.
	Recv(ctx context.Context) (Frame, error)

	// Close releases the endpoint. Pending and later Recv calls return
	// ErrClosed.
	Close() error
}

var (
	// ErrClosed is returned by Send and Recv on a closed endpoint.
	ErrClosed = errors.New("transport: endpoint closed")

	// ErrHandshake is returned when a peer's hello does not match this
	// rank's view of the network (size, rank, or message registration
	// digest).
	ErrHandshake = errors.New("transport: handshake mismatch")
)
