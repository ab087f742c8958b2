// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryNetwork connects ranks within one process.
type MemoryNetwork struct {
	endpoints []*MemoryEndpoint
}

// NewMemoryNetwork creates a network of size ranks.
func NewMemoryNetwork(size int) *MemoryNetwork {
	network := &MemoryNetwork{endpoints: make([]*MemoryEndpoint, size)}
	for rank := range network.endpoints {
		network.endpoints[rank] = &MemoryEndpoint{
			network: network,
			rank:    rank,
			box:     newMailbox(),
		}
	}
	return network
}

// Endpoint returns the endpoint for rank.
func (n *MemoryNetwork) Endpoint(rank int) *MemoryEndpoint {
	return n.endpoints[rank]
}

// Size returns the number of ranks.
func (n *MemoryNetwork) Size() int { return len(n.endpoints) }

// Break makes every current and future Recv on rank fail with err. It
// stands in for a broken interconnect in tests.
func (n *MemoryNetwork) Break(rank int, err error) {
	n.endpoints[rank].box.fail(err)
}

// Close closes every endpoint.
func (n *MemoryNetwork) Close() error {
	for _, endpoint := range n.endpoints {
		endpoint.Close()
	}
	return nil
}

// MemoryEndpoint is one rank of a MemoryNetwork.
type MemoryEndpoint struct {
	network *MemoryNetwork
	rank    int
	box     *mailbox
}

var _ Endpoint = (*MemoryEndpoint)(nil)

func (e *MemoryEndpoint) Rank() int { return e.rank }

func (e *MemoryEndpoint) Size() int { return len(e.network.endpoints) }

func (e *MemoryEndpoint) Send(ctx context.Context, to int, frame Frame) error {
	if to < 0 || to >= len(e.network.endpoints) {
		return fmt.Errorf("send to rank %d: outside network of %d ranks", to, len(e.network.endpoints))
	}
	if e.box.isClosed() {
		return ErrClosed
	}
	frame.Sender = int32(e.rank)
	// Copy so the receiver never aliases a buffer the sender recycles.
	frame.Payload = append([]byte(nil), frame.Payload...)
	return e.network.endpoints[to].box.push(frame)
}

func (e *MemoryEndpoint) Recv(ctx context.Context) (Frame, error) {
	return e.box.pop(ctx)
}

func (e *MemoryEndpoint) Close() error {
	e.box.fail(ErrClosed)
	return nil
}

// mailbox is an unbounded FIFO of frames. Unbounded so that a rank
// blocked in a barrier never stalls a sender that is still producing
// pixel contributions.
type mailbox struct {
	mu     sync.Mutex
	frames []Frame
	err    error
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) push(frame Frame) error {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	m.frames = append(m.frames, frame)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *mailbox) fail(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err != nil
}

func (m *mailbox) pop(ctx context.Context) (Frame, error) {
	for {
		m.mu.Lock()
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			// Keep the signal armed for other waiters.
			m.signal()
			return Frame{}, err
		}
		if len(m.frames) > 0 {
			frame := m.frames[0]
			m.frames[0] = Frame{}
			m.frames = m.frames[1:]
			more := len(m.frames) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return frame, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-m.ready:
		}
	}
}
