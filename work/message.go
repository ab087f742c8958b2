// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package work

import (
	"context"
	"errors"
	"sync"

	"github.com/galaxy-foundation/galaxy/lib/wire"
)

var payloadPool = sync.Pool{
	New: func() any {
		buffer := make([]byte, 0, 256)
		return &buffer
	},
}

// Message is a typed payload on its way to, or delivered at, a rank.
type Message struct {
	typ    *Type
	writer *wire.Writer

	// received holds the payload of a delivered message.
	received []byte
	released bool

	// pooled is the pool buffer backing writer, nil for received
	// messages and after Release.
	pooled *[]byte

	// Set on delivery.
	sender     int
	sequence   uint64
	collective bool
	channel    *Channel
}

// NewMessage allocates a message of type t with room for size payload
// bytes. The payload starts empty; fill it through Writer.
func NewMessage(t *Type, size int) *Message {
	pooled := payloadPool.Get().(*[]byte)
	if cap(*pooled) < size {
		*pooled = make([]byte, 0, size)
	}
	return &Message{
		typ:    t,
		writer: wire.NewWriter(*pooled),
		pooled: pooled,
	}
}

// Type returns the message type.
func (m *Message) Type() *Type { return m.typ }

// Sender returns the rank that sent a delivered message.
func (m *Message) Sender() int { return m.sender }

// Collective reports whether the message was broadcast with
// BroadcastOptions.Collective.
func (m *Message) Collective() bool { return m.collective }

// Payload returns the payload bytes. The slice is valid until Release.
func (m *Message) Payload() []byte {
	if m.writer != nil {
		return m.writer.Bytes()
	}
	return m.received
}

// Size returns the payload length.
func (m *Message) Size() int { return len(m.Payload()) }

// Writer returns the writer that appends to the payload. Delivered
// messages have no writer.
func (m *Message) Writer() *wire.Writer { return m.writer }

// Reader returns a reader positioned at the start of the payload.
func (m *Message) Reader() *wire.Reader { return wire.NewReader(m.Payload()) }

// Release returns the payload buffer to the pool. The message must not
// be used afterwards. Release is idempotent.
func (m *Message) Release() {
	if m.pooled != nil {
		*m.pooled = m.writer.Bytes()[:0]
		payloadPool.Put(m.pooled)
		m.pooled = nil
	}
	m.writer = nil
	m.received = nil
	m.released = true
}

// Released reports whether Release has been called.
func (m *Message) Released() bool { return m.released }

// Barrier blocks until the Action handling this message has reached
// Barrier on every rank. It is only valid inside the Action of a
// message broadcast with BroadcastOptions.Collective.
func (m *Message) Barrier(ctx context.Context) error {
	if !m.collective || m.channel == nil {
		return errors.New("work: Barrier called on a message that was not broadcast collectively")
	}
	return m.channel.barrier(ctx, m.sender, m.sequence)
}
